package cmd

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/provision"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/kaif367/growupquotexapi/workers"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stephenafamo/janus/monitor"
	"github.com/stephenafamo/orchestra"
)

func watchCmd(settings internal.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [PLAYER...]",
		Short: "Keep reconciling the deployment directory until stopped",
		Long: `Runs the directory-watcher, reconciler, health-prober and metrics-server
players until SIGINT or SIGTERM. Give player names to run only those.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Println("Connecting to DB...")
			s, db, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer db.Close()

			conductor := &orchestra.Conductor{
				Timeout: 15 * time.Second,
				Players: make(map[string]orchestra.Player),
			}

			hub, err := getMonitor(settings)
			if err != nil {
				return fmt.Errorf("could not get monitor: %w", err)
			}
			defer hub.Flush(time.Second * 5)

			allPlayers, err := setPlayers(cmd, s, settings, hub)
			if err != nil {
				return fmt.Errorf("could not get players: %w", err)
			}

			// Start all if no args were given
			if len(args) == 0 {
				conductor.Players = allPlayers
			}

			for _, pl := range args {
				player, ok := allPlayers[pl]
				if !ok {
					return fmt.Errorf("unknown player %q", pl)
				}
				conductor.Players[pl] = player
			}

			return orchestra.PlayUntilSignal(
				conductor,
				os.Interrupt, syscall.SIGTERM,
			)
		},
	}
}

func setPlayers(cmd *cobra.Command, s *store.Store, settings internal.Settings, mon monitor.Monitor) (map[string]orchestra.Player, error) {
	env, err := newEnvironment(cmd.Context(), settings, s)
	if err != nil {
		return nil, err
	}

	metrics := workers.NewMetrics()

	runner := &provision.Runner{
		Ledger:    s,
		DryRun:    settings.DRY_RUN,
		OnOutcome: metrics.Observe,
	}

	players := map[string]orchestra.Player{}

	players["directory-watcher"] = workers.DirectoryWatcher{
		Store:    s,
		Fs:       afero.NewOsFs(),
		Monitor:  mon,
		Settings: settings,
	}

	players["reconciler"] = workers.Reconciler{
		Store:    s,
		Env:      env,
		Runner:   runner,
		Monitor:  mon,
		Settings: settings,
	}

	players["health-prober"] = &workers.HealthProber{
		Store:    s,
		HTTP:     env.HTTP,
		Metrics:  metrics,
		Monitor:  mon,
		Settings: settings,
	}

	players["metrics-server"] = workers.MetricsServer{
		Addr:    settings.METRICS_ADDR,
		Metrics: metrics,
		Monitor: mon,
	}

	return players, nil
}
