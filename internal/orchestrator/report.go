package orchestrator

import (
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// Report is the result of one run.
type Report struct {
	RunID       string
	Domain      string
	Execution   Execution
	ResumedFrom string

	Started  time.Time
	Finished time.Time

	Outcome model.Outcome

	// Devices lists the participating devices in roster order.
	Devices []string

	// Steps is the full plan, including steps covered by a resume.
	Steps []model.Step

	Measurements []model.Measurement
	Summary      results.Summary
	Table        results.Table

	// DeviceStates is the failure table at the end of the run.
	DeviceStates map[string]DeviceRunState

	Thresholds results.Thresholds
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ByDevice returns the measurements of one device in record order.
func (r *Report) ByDevice(deviceID string) []model.Measurement {
	var out []model.Measurement
	for _, m := range r.Measurements {
		if m.DeviceID == deviceID {
			out = append(out, m)
		}
	}
	return out
}
