package orchestrator

import (
	"slices"
	"sync"
)

// DeviceRunState is the per-run bookkeeping of one device.
type DeviceRunState struct {
	// Failures counts consecutive failures. It resets on success.
	Failures int

	Excluded bool
	Reason   string

	// Port is the port held during the current parallel step, or 0.
	Port int
}

// runState is the failure table of one run. Only the engine mutates it,
// and only between steps in parallel mode.
type runState struct {
	threshold int

	mu      sync.Mutex
	order   []string
	devices map[string]*DeviceRunState
}

func newRunState(ids []string, threshold int) *runState {
	s := &runState{threshold: threshold, order: slices.Clone(ids), devices: make(map[string]*DeviceRunState, len(ids))}
	for _, id := range ids {
		s.devices[id] = &DeviceRunState{}
	}
	return s
}

func (s *runState) get(id string) *DeviceRunState {
	d, ok := s.devices[id]
	if !ok {
		d = &DeviceRunState{}
		s.devices[id] = d
		s.order = append(s.order, id)
	}
	return d
}

// succeed resets the failure counter.
func (s *runState) succeed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(id).Failures = 0
}

// fail counts one failure and reports whether the device was excluded by
// it. The counter never passes the threshold.
func (s *runState) fail(id, reason string) (excluded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(id)
	if d.Excluded {
		return false
	}
	d.Failures++
	if d.Failures >= s.threshold {
		d.Excluded = true
		d.Reason = reason
		return true
	}
	return false
}

// exclude removes the device regardless of its counter.
func (s *runState) exclude(id, reason string) (excluded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(id)
	if d.Excluded {
		return false
	}
	d.Excluded = true
	d.Reason = reason
	return true
}

func (s *runState) setPort(id string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(id).Port = port
}

func (s *runState) excluded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return ok && d.Excluded
}

// active returns ids minus excluded devices, in the given order.
func (s *runState) active(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.devices[id]; !ok || !d.Excluded {
			out = append(out, id)
		}
	}
	return out
}

// excludedIDs returns excluded devices in roster order.
func (s *runState) excludedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if s.devices[id].Excluded {
			out = append(out, id)
		}
	}
	return out
}

func (s *runState) allExcluded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if !d.Excluded {
			return false
		}
	}
	return true
}

func (s *runState) snapshot() map[string]DeviceRunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DeviceRunState, len(s.devices))
	for id, d := range s.devices {
		out[id] = *d
	}
	return out
}
