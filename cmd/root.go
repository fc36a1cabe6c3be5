package cmd

import (
	"context"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/spf13/cobra"
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context, settings internal.Settings) error {
	return newRootCmd(settings).ExecuteContext(ctx)
}

func newRootCmd(settings internal.Settings) *cobra.Command {
	// rootCmd represents the base command when called without any subcommands
	rootCmd := &cobra.Command{
		Use:   "apideploy",
		Short: "Provision and keep an API host in its declared state",
		Long: `apideploy reads deployment files describing an API host (domains, DNS,
firewall, python project, nginx, TLS and process supervision), compares
them with the machine and applies only what drifted.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		applyCmd(settings),
		planCmd(settings),
		renderCmd(settings),
		verifyCmd(settings),
		statusCmd(settings),
		watchCmd(settings),
		purgeCmd(settings),
	)

	return rootCmd
}
