package cmd

import (
	"log"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/spf13/cobra"
)

func purgeCmd(settings internal.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Forget recorded step runs",
		Long: `Clears the step history and marks every deployment pending, so the daemon
re-applies everything on its next tick. Recorded artifacts are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, db, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := s.Purge(ctx); err != nil {
				return err
			}

			log.Println("PURGED: ledger at", settings.DB_PATH)
			return nil
		},
	}
}
