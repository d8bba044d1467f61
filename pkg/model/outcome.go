package model

import (
	"fmt"
	"strings"
)

// RunStatus is the final status of a run.
type RunStatus uint8

const (
	// RunCompleted means every step ran and no device was excluded.
	RunCompleted RunStatus = iota

	// RunCompletedWithExclusions means the run finished but some devices
	// were removed after repeated failures.
	RunCompletedWithExclusions

	// RunAborted means the run was cancelled before all steps ran.
	RunAborted
)

// String returns the status name.
func (s RunStatus) String() string {
	switch s {
	case RunCompleted:
		return "COMPLETED"
	case RunCompletedWithExclusions:
		return "COMPLETED_WITH_EXCLUSIONS"
	case RunAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the final run status surfaced to the caller.
type Outcome struct {
	Status   RunStatus
	Excluded []string
	Reason   string
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o.Status {
	case RunCompletedWithExclusions:
		return fmt.Sprintf("%s(%s)", o.Status, strings.Join(o.Excluded, ", "))
	case RunAborted:
		return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
	default:
		return o.Status.String()
	}
}
