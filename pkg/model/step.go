package model

import (
	"fmt"
	"slices"
)

// Step is one unit of work in a test plan: a mode applied to a set of devices.
type Step struct {
	// Index is the position in the original plan. It is preserved when a
	// plan is filtered for resume so journal entries stay comparable.
	Index int

	Mode Mode

	// Devices lists participating device IDs in roster order.
	Devices []string
}

// Descriptor returns a short human readable label for reports.
func (s Step) Descriptor() string {
	return fmt.Sprintf("#%d %s", s.Index, s.Mode)
}

// Includes reports whether the device participates in the step.
func (s Step) Includes(deviceID string) bool {
	return slices.Contains(s.Devices, deviceID)
}

// Without returns a copy of the step with the given devices removed.
func (s Step) Without(exclude func(id string) bool) Step {
	out := Step{Index: s.Index, Mode: s.Mode, Devices: make([]string, 0, len(s.Devices))}
	for _, id := range s.Devices {
		if !exclude(id) {
			out.Devices = append(out.Devices, id)
		}
	}
	return out
}
