// Package plan expands a test matrix into an ordered list of steps.
//
// Steps are ordered band, then standard, then channel, in the order the
// matrix lists them. Consecutive steps therefore differ only in channel
// until the standard changes, which keeps infrastructure reloads to the
// minimum. Planning is a pure function: identical inputs give identical
// plans.
package plan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

var (
	// ErrEmptyMatrix is returned when the matrix yields no steps.
	ErrEmptyMatrix = errors.New("plan: matrix has no band with channels and standards")

	// ErrNoDevices is returned for an empty roster.
	ErrNoDevices = errors.New("plan: no devices")
)

// BandPlan is the matrix for one band.
type BandPlan struct {
	Band  model.Band `yaml:"band"`
	Radio string     `yaml:"radio"`

	// SSID and Password are the network the devices join on this band.
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`

	Channels  []string `yaml:"channels"`
	Standards []string `yaml:"standards"`

	// Modes maps each standard to its adapter parameters.
	Modes map[string]map[string]string `yaml:"modes"`
}

// Matrix is the full configuration input of the planner.
type Matrix struct {
	Bands []BandPlan `yaml:"bands"`
}

// Band returns the plan for band.
func (m Matrix) Band(b model.Band) (BandPlan, bool) {
	for _, bp := range m.Bands {
		if bp.Band == b {
			return bp, true
		}
	}
	return BandPlan{}, false
}

// Validate checks the matrix for structural errors.
func (m Matrix) Validate() error {
	var errs []error
	seen := map[model.Band]bool{}
	for _, bp := range m.Bands {
		if seen[bp.Band] {
			errs = append(errs, fmt.Errorf("band %s listed twice", bp.Band))
		}
		seen[bp.Band] = true
		if bp.Radio == "" {
			errs = append(errs, fmt.Errorf("band %s: radio is required", bp.Band))
		}
		for _, std := range bp.Standards {
			if _, ok := bp.Modes[std]; !ok {
				errs = append(errs, fmt.Errorf("band %s: no parameters for standard %q", bp.Band, std))
			}
		}
		if dup := firstDuplicate(bp.Channels); dup != "" {
			errs = append(errs, fmt.Errorf("band %s: channel %s listed twice", bp.Band, dup))
		}
		if dup := firstDuplicate(bp.Standards); dup != "" {
			errs = append(errs, fmt.Errorf("band %s: standard %s listed twice", bp.Band, dup))
		}
	}
	return errors.Join(errs...)
}

// Plan expands m into steps. Every step includes every device, in roster
// order.
func Plan(m Matrix, devices []model.Device) ([]model.Step, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if slices.Contains(ids, d.ID) {
			return nil, fmt.Errorf("plan: duplicate device %q", d.ID)
		}
		ids = append(ids, d.ID)
	}

	var steps []model.Step
	for _, bp := range m.Bands {
		for _, std := range bp.Standards {
			for _, ch := range bp.Channels {
				steps = append(steps, model.Step{
					Index:   len(steps),
					Mode:    model.NewMode(bp.Band, bp.Radio, ch, std, bp.Modes[std]),
					Devices: slices.Clone(ids),
				})
			}
		}
	}
	if len(steps) == 0 {
		return nil, ErrEmptyMatrix
	}
	return steps, nil
}

// Skip removes (device, mode) pairs already measured and drops steps left
// without devices. done holds model.ResultKey values. Step indices are
// kept so results stay comparable with the original plan.
func Skip(steps []model.Step, done map[string]bool) []model.Step {
	if len(done) == 0 {
		return steps
	}
	out := make([]model.Step, 0, len(steps))
	for _, s := range steps {
		rest := s.Without(func(id string) bool {
			return done[model.ResultKey(id, s.Mode)]
		})
		if len(rest.Devices) > 0 {
			out = append(out, rest)
		}
	}
	return out
}

// Switches counts infrastructure changes needed to run steps in order.
func Switches(steps []model.Step) int {
	n := 0
	for i, s := range steps {
		if i == 0 || !s.Mode.Equal(steps[i-1].Mode) {
			n++
		}
	}
	return n
}

func firstDuplicate(xs []string) string {
	seen := make(map[string]bool, len(xs))
	for _, x := range xs {
		if seen[x] {
			return x
		}
		seen[x] = true
	}
	return ""
}
