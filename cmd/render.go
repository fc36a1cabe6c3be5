package cmd

import (
	"fmt"
	"runtime"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/letsencrypt"
	"github.com/spf13/cobra"
)

func renderCmd(settings internal.Settings) *cobra.Command {
	var artifact, goos string
	var withTLS bool

	cmd := &cobra.Command{
		Use:   "render FILE NAME",
		Short: "Print a generated config file without touching the host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeployment(args[0], args[1])
			if err != nil {
				return err
			}

			content, err := renderArtifact(settings, d, goos, artifact, withTLS)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "nginx", "nginx, systemd, task, procfile, runtime or blueprint")
	cmd.Flags().StringVar(&goos, "os", runtime.GOOS, "target operating system")
	cmd.Flags().BoolVar(&withTLS, "tls", false, "render the nginx https server block as if the certificate existed")

	return cmd
}

func renderArtifact(settings internal.Settings, d internal.Deployment, goos, artifact string, withTLS bool) ([]byte, error) {
	d = d.WithDefaults(goos)
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if artifact == "blueprint" {
		return internal.RenderBlueprint(d)
	}

	templates, err := internal.GetTemplates()
	if err != nil {
		return nil, fmt.Errorf("could not get templates: %w", err)
	}

	config := internal.NewConfig(d, settings, goos)

	switch artifact {
	case "nginx":
		if withTLS && d.TLS.Enabled {
			config.WithTLS = true
			config.CertPath, config.KeyPath = letsencrypt.CertPaths(settings, d)
		}
	case "systemd", "task", "procfile", "runtime":
	default:
		return nil, fmt.Errorf("unknown artifact %q", artifact)
	}

	return internal.Render(templates, artifact, config)
}
