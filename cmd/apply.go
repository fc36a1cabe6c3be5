package cmd

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/provision"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func applyCmd(settings internal.Settings) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply FILE [NAME...]",
		Short: "Converge this host to the deployments in FILE",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployments(cmd, settings, args[0], args[1:], dryRun || settings.DRY_RUN)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what would change")
	return cmd
}

func planCmd(settings internal.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "plan FILE [NAME...]",
		Short: "Show which steps would change, without changing anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployments(cmd, settings, args[0], args[1:], true)
		},
	}
}

func runDeployments(cmd *cobra.Command, settings internal.Settings, file string, names []string, dryRun bool) error {
	ctx := cmd.Context()

	deployments, err := loadDeployments(file, names)
	if err != nil {
		return err
	}

	s, db, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer db.Close()

	env, err := newEnvironment(ctx, settings, s)
	if err != nil {
		return err
	}

	runner := &provision.Runner{Ledger: s, DryRun: dryRun}

	for _, d := range deployments {
		// Runs are recorded against the stored deployment
		if !dryRun {
			if _, err := s.UpsertDeployment(ctx, file, d); err != nil {
				return fmt.Errorf("could not save deployment %q: %w", d.Name, err)
			}
		}

		steps, err := provision.Plan(env, d)
		if err != nil {
			if !dryRun {
				if err := s.MarkFailed(ctx, d.Name, err); err != nil {
					log.Printf("could not mark %s failed: %v", d.Name, err)
				}
			}
			return fmt.Errorf("invalid deployment %q: %w", d.Name, err)
		}

		log.Printf("Running %d steps for %s on %s\n", len(steps), d.Name, env.Facts)
		report, err := runner.Run(ctx, d, steps)
		printReport(cmd.OutOrStdout(), report)
		if err != nil {
			return err
		}
	}

	return nil
}

func printReport(w io.Writer, report *provision.Report) {
	if report == nil {
		return
	}

	mode := "apply"
	if report.DryRun {
		mode = "plan"
	}
	fmt.Fprintf(w, "%s %s (run %s)\n", mode, report.Deployment, report.RunID)

	table := tablewriter.NewWriter(w)
	table.Header("Step", "Status", "Took", "Detail")
	for _, o := range report.Outcomes {
		detail := o.Reason
		if o.Err != nil {
			detail = o.Err.Error()
		}
		table.Append([]string{
			o.Step,
			o.Status,
			o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond).String(),
			detail,
		})
	}
	table.Render()

	fmt.Fprintf(w, "%d changed, %d ok, %d skipped\n",
		report.Count(provision.StatusChanged)+report.Count(provision.StatusWouldChange),
		report.Count(provision.StatusOK),
		report.Count(provision.StatusSkipped),
	)
}
