package provision

import (
	"context"
	"fmt"
)

const (
	StatusOK          = "ok"
	StatusChanged     = "changed"
	StatusWouldChange = "would-change"
	StatusSkipped     = "skipped"
	StatusFailed      = "failed"
)

// Drift is the result of comparing the host with the desired state
type Drift struct {
	Changed bool
	// The step does not apply to this deployment or host
	Skip   bool
	Reason string
}

func inSync(reason string) Drift { return Drift{Reason: reason} }

func drifted(format string, a ...interface{}) Drift {
	return Drift{Changed: true, Reason: fmt.Sprintf(format, a...)}
}

func skipped(reason string) Drift { return Drift{Skip: true, Reason: reason} }

// Step ensures one piece of desired state.
// Check must not modify the host. Apply converges it and returns a digest
// of what it applied, recorded in the ledger for later runs.
type Step interface {
	Name() string
	Check(ctx context.Context) (Drift, error)
	Apply(ctx context.Context) (string, error)
}

// Triggered steps are applied whenever one of the named steps
// changed earlier in the same run, even if their own check is clean.
type Triggered interface {
	TriggeredBy() []string
}

// StepError names the step a run stopped at
type StepError struct {
	Deployment string
	Step       string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("deployment %q: step %s failed: %v", e.Deployment, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
