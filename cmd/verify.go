package cmd

import (
	"fmt"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/provision"
	"github.com/spf13/cobra"
)

func verifyCmd(settings internal.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE NAME",
		Short: "Check that the API answers on its public URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := loadDeployment(args[0], args[1])
			if err != nil {
				return err
			}

			env, err := newEnvironment(ctx, settings, nil)
			if err != nil {
				return err
			}

			steps, err := provision.Plan(env, d)
			if err != nil {
				return err
			}

			for _, step := range steps {
				if step.Name() != "verify" {
					continue
				}

				drift, err := step.Check(ctx)
				if err != nil {
					return err
				}
				if drift.Changed {
					return &provision.StepError{
						Deployment: d.Name,
						Step:       step.Name(),
						Err:        fmt.Errorf("%s", drift.Reason),
					}
				}

				fmt.Fprintln(cmd.OutOrStdout(), drift.Reason)
				return nil
			}

			return fmt.Errorf("%s has no verify step", d.Name)
		},
	}
}
