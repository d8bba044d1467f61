package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/infra"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

var (
	// ErrCancelled marks a run aborted by its context.
	ErrCancelled = errors.New("run cancelled")

	// ErrRunning is returned when Run is called on an engine that is
	// already running.
	ErrRunning = errors.New("orchestrator: run in progress")

	// ErrNoPort is returned when the port pool is exhausted.
	ErrNoPort = errors.New("orchestrator: no free port")

	// ErrNoSteps is returned when the domain plans nothing to run.
	ErrNoSteps = errors.New("orchestrator: no steps to run")
)

// DeploymentError means the agent could not be installed on a device.
// The device is excluded at once.
type DeploymentError struct {
	Device string
	Err    error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("%s: deploy agent: %v", e.Device, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// StepTimeoutError means a device did not settle within the per-device
// step timeout.
type StepTimeoutError struct {
	Device  string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("%s: step did not finish within %s", e.Device, e.Timeout)
}

// Kind classifies an error for failure accounting.
type Kind uint8

const (
	// KindUnknown covers errors outside the taxonomy. They count as
	// device failures.
	KindUnknown Kind = iota

	// KindTransientLink is a link loss that recovery did not repair.
	KindTransientLink

	// KindRecoveryTimeout means the device did not come back in time.
	KindRecoveryTimeout

	// KindCommandTimeout means a command or the whole step ran too long.
	KindCommandTimeout

	// KindConfigurationApply fails a whole step without touching counters.
	KindConfigurationApply

	// KindAgentCommand is a definitive rejection by the agent.
	KindAgentCommand

	// KindFatalDevice excludes the device at once: authentication,
	// deployment or a Failed session.
	KindFatalDevice

	// KindCancelled aborts the run.
	KindCancelled
)

// String returns the kind name as stored in measurements and journals.
func (k Kind) String() string {
	switch k {
	case KindTransientLink:
		return "transient_link"
	case KindRecoveryTimeout:
		return "recovery_timeout"
	case KindCommandTimeout:
		return "command_timeout"
	case KindConfigurationApply:
		return "configuration_apply"
	case KindAgentCommand:
		return "agent_command"
	case KindFatalDevice:
		return "fatal_device"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Counts reports whether the kind increments the failure counter.
func (k Kind) Counts() bool {
	switch k {
	case KindConfigurationApply, KindCancelled, KindFatalDevice:
		return false
	default:
		return true
	}
}

// Classify maps err onto the failure taxonomy. The order matters: a
// Failed session wrapping an authentication error is fatal, and a
// recovery timeout wrapping a link error is a recovery timeout.
func Classify(err error) Kind {
	var (
		dep  *DeploymentError
		rto  *remote.RecoveryTimeoutError
		cto  *remote.CommandTimeoutError
		sto  *StepTimeoutError
		cae  *infra.ConfigurationApplyError
		agtE *agent.AgentCommandError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &dep),
		errors.Is(err, remote.ErrSessionFailed),
		errors.Is(err, remote.ErrSessionClosed),
		remote.IsAuthentication(err):
		return KindFatalDevice
	case errors.As(err, &cae):
		return KindConfigurationApply
	case errors.As(err, &rto):
		return KindRecoveryTimeout
	case errors.As(err, &cto), errors.As(err, &sto), errors.Is(err, context.DeadlineExceeded):
		return KindCommandTimeout
	case errors.As(err, &agtE),
		errors.Is(err, agent.ErrUnknownCommand),
		errors.Is(err, agent.ErrUnknownModule):
		return KindAgentCommand
	case remote.IsTransient(err), errors.Is(err, remote.ErrNotConnected):
		return KindTransientLink
	default:
		return KindUnknown
	}
}
