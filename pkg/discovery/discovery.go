package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Discoverer resolves the devices taking part in a run.
type Discoverer interface {
	Discover(ctx context.Context) ([]model.Device, error)
}

// ErrNoDevices is returned when discovery found nothing.
var ErrNoDevices = errors.New("discovery: no devices found")

// StaticDiscoverer returns a fixed roster.
type StaticDiscoverer struct {
	Devices []model.Device
}

var _ Discoverer = (*StaticDiscoverer)(nil)

// Discover returns a copy of the roster.
func (s *StaticDiscoverer) Discover(ctx context.Context) ([]model.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Devices) == 0 {
		return nil, ErrNoDevices
	}
	return append([]model.Device(nil), s.Devices...), nil
}

// Roster is the on-disk roster format.
type Roster struct {
	Devices []model.Device `yaml:"devices"`
}

// ParseRoster decodes and validates a roster.
func ParseRoster(data []byte) ([]model.Device, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(r.Devices) == 0 {
		return nil, ErrNoDevices
	}
	seen := make(map[string]bool, len(r.Devices))
	var errs []error
	for i, d := range r.Devices {
		if d.OS == "" {
			r.Devices[i].OS = model.OSLinux
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("device %q listed twice", d.ID))
		}
		seen[d.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r.Devices, nil
}

// LoadRoster reads a roster file.
func LoadRoster(path string) ([]model.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	devs, err := ParseRoster(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return devs, nil
}
