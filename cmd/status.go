package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func statusCmd(settings internal.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show the recorded state of deployments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, db, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 0 {
				deployments, err := s.Deployments(ctx)
				if err != nil {
					return err
				}
				printDeployments(cmd.OutOrStdout(), deployments)
				return nil
			}

			d, err := s.DeploymentByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("could not get deployment %q: %w", args[0], err)
			}

			runs, err := s.LastRuns(ctx, d.Name)
			if err != nil {
				return err
			}

			printDeployments(cmd.OutOrStdout(), []*store.Deployment{d})
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
}

func printDeployments(w io.Writer, deployments []*store.Deployment) {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Domains", "State", "Last run", "Error")

	for _, d := range deployments {
		lastRun := "never"
		if d.LastRun.Valid {
			lastRun = humanize.Time(d.LastRun.Time)
		}

		domains := ""
		if len(d.Content.Domains) > 0 {
			domains = d.Content.Domains[0]
			if extra := len(d.Content.Domains) - 1; extra > 0 {
				domains += fmt.Sprintf(" (+%d)", extra)
			}
		}

		table.Append([]string{d.Name, domains, d.State, lastRun, d.LastError.String})
	}

	table.Render()
}

func printRuns(w io.Writer, runs []*store.StepRun) {
	table := tablewriter.NewWriter(w)
	table.Header("Step", "Status", "Finished", "Detail")

	for _, r := range runs {
		detail := r.Detail
		if r.Error.Valid {
			detail = r.Error.String
		}
		table.Append([]string{r.Step, r.Status, humanize.Time(r.FinishedAt), detail})
	}

	table.Render()
}
