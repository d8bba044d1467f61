package infra

import (
	"fmt"
	"strings"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// ConfigurationApplyError means a mode could not be applied or did not
// become active within the verification timeout. It is fatal for the
// current step only.
type ConfigurationApplyError struct {
	Mode model.Mode

	// Mismatch lists key=want/got pairs still differing at timeout.
	Mismatch []string

	Err error
}

func (e *ConfigurationApplyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "apply %s", e.Mode)
	if len(e.Mismatch) > 0 {
		fmt.Fprintf(&b, ": not active (%s)", strings.Join(e.Mismatch, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigurationApplyError) Unwrap() error { return e.Err }
