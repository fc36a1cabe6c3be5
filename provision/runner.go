package provision

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/volatiletech/null/v8"
)

// Ledger is where runs are recorded. Implemented by *store.Store.
type Ledger interface {
	RecordStep(ctx context.Context, deployment string, run store.StepRun) error
	LastDigest(ctx context.Context, deployment, step string) (string, error)
	RecordArtifact(ctx context.Context, deployment, kind, path, digest string) error
	MarkApplied(ctx context.Context, name string) error
	MarkFailed(ctx context.Context, name string, cause error) error
}

type Outcome struct {
	Step       string
	Status     string
	Reason     string
	Digest     string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Report struct {
	RunID      string
	Deployment string
	DryRun     bool
	Outcomes   []Outcome
}

// Failed returns the failed outcome, if any
func (r Report) Failed() *Outcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusFailed {
			return &r.Outcomes[i]
		}
	}
	return nil
}

// Count returns the number of outcomes with status
func (r Report) Count(status string) int {
	var n int
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

type Runner struct {
	Ledger Ledger
	// Only check, never apply. Nothing is recorded.
	DryRun bool
	Now    func() time.Time
	// Called after every step, e.g. to feed metrics
	OnOutcome func(deployment string, o Outcome)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run checks every step in order and applies those that drifted.
// It stops at the first failure and returns a *StepError.
func (r *Runner) Run(ctx context.Context, d internal.Deployment, steps []Step) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		Deployment: d.Name,
		DryRun:     r.DryRun,
	}

	changed := map[string]bool{}

	for _, step := range steps {
		outcome := r.runStep(ctx, step, changed)
		report.Outcomes = append(report.Outcomes, outcome)

		if outcome.Status == StatusChanged || outcome.Status == StatusWouldChange {
			changed[step.Name()] = true
		}

		r.log(d.Name, outcome)

		if r.OnOutcome != nil {
			r.OnOutcome(d.Name, outcome)
		}

		if err := r.record(ctx, report.RunID, d.Name, outcome); err != nil {
			log.Printf("could not record step %s for %s: %v", step.Name(), d.Name, err)
		}

		if outcome.Status == StatusFailed {
			stepErr := &StepError{Deployment: d.Name, Step: step.Name(), Err: outcome.Err}
			r.finish(ctx, d.Name, stepErr)
			return report, stepErr
		}
	}

	r.finish(ctx, d.Name, nil)
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, step Step, changed map[string]bool) Outcome {
	outcome := Outcome{Step: step.Name(), StartedAt: r.now()}

	drift, err := step.Check(ctx)
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		outcome.FinishedAt = r.now()
		return outcome
	}

	outcome.Reason = drift.Reason

	if drift.Skip {
		outcome.Status = StatusSkipped
		outcome.FinishedAt = r.now()
		return outcome
	}

	if !drift.Changed {
		if t, ok := step.(Triggered); ok {
			for _, name := range t.TriggeredBy() {
				if changed[name] {
					drift = drifted("%s changed", name)
					outcome.Reason = drift.Reason
					break
				}
			}
		}
	}

	switch {
	case !drift.Changed:
		outcome.Status = StatusOK

	case r.DryRun:
		outcome.Status = StatusWouldChange

	default:
		digest, err := step.Apply(ctx)
		if err != nil {
			outcome.Status, outcome.Err = StatusFailed, err
		} else {
			outcome.Status, outcome.Digest = StatusChanged, digest
		}
	}

	outcome.FinishedAt = r.now()
	return outcome
}

func (r *Runner) log(name string, o Outcome) {
	switch o.Status {
	case StatusFailed:
		log.Printf("FAILED: %s for %s: %v\n", o.Step, name, o.Err)
	case StatusChanged:
		log.Printf("APPLIED: %s for %s (%s)\n", o.Step, name, o.Reason)
	case StatusWouldChange:
		log.Printf("WOULD APPLY: %s for %s (%s)\n", o.Step, name, o.Reason)
	}
}

func (r *Runner) record(ctx context.Context, runID, name string, o Outcome) error {
	if r.DryRun || r.Ledger == nil {
		return nil
	}

	run := store.StepRun{
		RunID:      runID,
		Step:       o.Step,
		Status:     o.Status,
		Digest:     o.Digest,
		Detail:     o.Reason,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Err != nil {
		run.Error = null.StringFrom(o.Err.Error())
	}

	return r.Ledger.RecordStep(ctx, name, run)
}

func (r *Runner) finish(ctx context.Context, name string, cause error) {
	if r.DryRun || r.Ledger == nil {
		return
	}

	var err error
	if cause != nil {
		err = r.Ledger.MarkFailed(ctx, name, cause)
	} else {
		err = r.Ledger.MarkApplied(ctx, name)
	}
	if err != nil {
		log.Printf("could not update state of %s: %v", name, err)
	}
}
