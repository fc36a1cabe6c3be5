package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/provision"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/stephenafamo/janus/monitor"
	"github.com/stephenafamo/kronika"
)

// Reconciler removes what deleted deployments left behind and applies
// deployments that are new, changed, failed or due for a periodic check
type Reconciler struct {
	Store    *store.Store
	Env      *provision.Environment
	Runner   *provision.Runner
	Monitor  monitor.Monitor
	Settings internal.Settings
}

func (r Reconciler) Play(ctx context.Context) error {
	for range kronika.Every(ctx, time.Now(), r.Settings.CONFIG_RELOAD_TIME) {
		err := r.Reconcile(context.Background()) // use new context
		if err != nil {
			err = fmt.Errorf("error reconciling deployments: %w", err)
			r.Monitor.CaptureException(err, nil)
		}
	}

	return nil
}

func (r Reconciler) Reconcile(ctx context.Context) error {
	if err := r.removeStaleArtifacts(ctx); err != nil {
		return fmt.Errorf("could not clean up stale artifacts: %w", err)
	}

	due, err := r.Store.DueDeployments(ctx, r.Store.Now().Add(-r.Settings.RECONCILE_INTERVAL))
	if err != nil {
		return fmt.Errorf("could not get due deployments: %w", err)
	}

	// One at a time: certbot and apt both hold global locks
	for _, row := range due {
		r.apply(ctx, row)
	}

	return nil
}

func (r Reconciler) apply(ctx context.Context, row *store.Deployment) {
	d := row.Content
	d.Name = row.Name

	tags := map[string]string{"deployment": d.Name}

	steps, err := provision.Plan(r.Env, d)
	if err != nil {
		r.Monitor.CaptureException(fmt.Errorf("could not plan %q: %w", d.Name, err), tags)
		if err := r.Store.MarkFailed(ctx, d.Name, err); err != nil {
			log.Printf("could not mark %s failed: %v", d.Name, err)
		}
		return
	}

	report, err := r.Runner.Run(ctx, d, steps)

	var stepErr *provision.StepError
	if errors.As(err, &stepErr) {
		tags["step"] = stepErr.Step
	}
	if err != nil {
		r.Monitor.CaptureException(err, tags)
		return
	}

	if n := report.Count(provision.StatusChanged); n > 0 {
		log.Printf("RECONCILED: %s (%d steps changed)\n", d.Name, n)
	}
}

func (r Reconciler) removeStaleArtifacts(ctx context.Context) error {
	stale, err := r.Store.StaleArtifacts(ctx)
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		return nil
	}

	var reload bool
	for _, artifact := range stale {
		needsReload, err := provision.RemoveArtifact(ctx, r.Env, artifact)
		if err != nil {
			return err
		}
		reload = reload || needsReload

		if err := r.Store.DeleteArtifact(ctx, artifact.ID); err != nil {
			return err
		}
		log.Printf("DELETED: %s\n", artifact.Path)
	}

	if reload {
		if err := provision.ReloadNginx(ctx, r.Env); err != nil {
			return fmt.Errorf("could not reload nginx: %w", err)
		}
	}

	return nil
}
