package orchestrator

import (
	"context"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// Domain is one kind of test run against the engine: it plans the steps
// and performs the measurement of one device in one step.
type Domain interface {
	// Name labels the domain in reports.
	Name() string

	PlanSteps() ([]model.Step, error)

	// ExecuteStep measures one device. The session is Connected when it is
	// called. The result is in Mbit/s.
	ExecuteStep(ctx context.Context, sc StepContext) (float64, error)
}

// Preparer is implemented by domains that set devices up before the first
// step and tear them down after the last one.
type Preparer interface {
	// Prepare runs once per device after connect and deployment. A fatal
	// error (see Classify) excludes the device; other errors are logged.
	Prepare(ctx context.Context, dev model.Device, sess *remote.Session) error

	// Finish runs once per prepared device at the end of the run,
	// including aborted runs. Errors are logged only.
	Finish(ctx context.Context, dev model.Device, sess *remote.Session) error
}

// StepContext is what ExecuteStep needs to measure one device.
type StepContext struct {
	RunID   string
	Step    model.Step
	Device  model.Device
	Session *remote.Session

	// Port is the measurement port held for this invocation.
	Port int

	// RecoveryTimeout bounds a wait for the session after a link drop the
	// domain causes itself.
	RecoveryTimeout time.Duration
}
