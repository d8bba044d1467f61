package results

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

var (
	// ErrDuplicate is returned when a device already has a result for a step.
	ErrDuplicate = errors.New("duplicate measurement")

	// ErrInvalid is returned for a measurement without a device.
	ErrInvalid = errors.New("invalid measurement")
)

// Sink receives every recorded measurement in record order.
type Sink interface {
	Emit(m model.Measurement)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(m model.Measurement)

// Emit calls f(m).
func (f SinkFunc) Emit(m model.Measurement) { f(m) }

type subscription struct {
	id   int
	sink Sink
}

// Aggregator is the append-only result store of one run. It is safe for
// concurrent use.
type Aggregator struct {
	thresholds Thresholds
	logger     *slog.Logger

	mu      sync.Mutex
	records []model.Measurement
	seen    map[string]bool
	subs    []subscription
	nextSub int

	// emitMu keeps sink delivery in record order without holding mu
	// while sinks run.
	emitMu sync.Mutex
}

// NewAggregator creates an empty aggregator. Nil thresholds use
// DefaultThresholds.
func NewAggregator(thresholds Thresholds, logger *slog.Logger) *Aggregator {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		thresholds: thresholds,
		logger:     logger,
		seen:       make(map[string]bool),
	}
}

// Thresholds returns the classification thresholds.
func (a *Aggregator) Thresholds() Thresholds {
	return a.thresholds
}

// Subscribe registers sink for all later records. The returned function
// removes it.
func (a *Aggregator) Subscribe(sink Sink) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs = append(a.subs, subscription{id: id, sink: sink})
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.subs = slices.DeleteFunc(a.subs, func(s subscription) bool { return s.id == id })
	}
}

// Record appends m and forwards it to the subscribers. A device has at
// most one result per step.
func (a *Aggregator) Record(m model.Measurement) error {
	if m.DeviceID == "" {
		return fmt.Errorf("%w: no device", ErrInvalid)
	}
	key := recordKey(m.DeviceID, m.StepIndex)

	a.mu.Lock()
	if a.seen[key] {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s step %d", ErrDuplicate, m.DeviceID, m.StepIndex)
	}
	a.seen[key] = true
	a.records = append(a.records, m)
	sinks := make([]Sink, len(a.subs))
	for i, s := range a.subs {
		sinks[i] = s.sink
	}
	a.emitMu.Lock()
	a.mu.Unlock()
	defer a.emitMu.Unlock()

	if m.Failed {
		a.logger.Info("measurement failed", "device", m.DeviceID, "step", m.StepIndex, "mode", m.Mode.Key(), "kind", m.Kind, "error", m.Failure)
	} else {
		a.logger.Info("measurement", "device", m.DeviceID, "step", m.StepIndex, "mode", m.Mode.Key(), "mbps", m.Mbps,
			"class", a.thresholds.Classify(m.Mode.Standard, m.Mbps))
	}
	for _, s := range sinks {
		s.Emit(m)
	}
	return nil
}

// Len returns the number of records.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Results returns a copy of all records in insertion order.
func (a *Aggregator) Results() []model.Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.records)
}

// ByDevice returns the records of one device in insertion order.
func (a *Aggregator) ByDevice(deviceID string) []model.Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.Measurement
	for _, m := range a.records {
		if m.DeviceID == deviceID {
			out = append(out, m)
		}
	}
	return out
}

// Get returns the result of a device for a step.
func (a *Aggregator) Get(deviceID string, stepIndex int) (model.Measurement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.records {
		if m.DeviceID == deviceID && m.StepIndex == stepIndex {
			return m, true
		}
	}
	return model.Measurement{}, false
}

// Summary holds derived statistics.
type Summary struct {
	Overall Stats `json:"overall"`

	// Devices is keyed by device ID.
	Devices map[string]Stats `json:"devices"`

	// Groups is keyed by band and standard, e.g. "5G 11a/n/ac".
	Groups map[string]Stats `json:"groups"`

	// Classes counts passed measurements per speed class.
	Classes map[Class]int `json:"classes"`
}

// Summary computes statistics over all records.
func (a *Aggregator) Summary() Summary {
	records := a.Results()

	byDevice := make(map[string][]model.Measurement)
	byGroup := make(map[string][]model.Measurement)
	classes := make(map[Class]int)
	for _, m := range records {
		byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
		g := GroupKey(m.Mode)
		byGroup[g] = append(byGroup[g], m)
		if !m.Failed {
			classes[a.thresholds.Classify(m.Mode.Standard, m.Mbps)]++
		}
	}

	s := Summary{
		Overall: Compute(records),
		Devices: make(map[string]Stats, len(byDevice)),
		Groups:  make(map[string]Stats, len(byGroup)),
		Classes: classes,
	}
	for id, ms := range byDevice {
		s.Devices[id] = Compute(ms)
	}
	for g, ms := range byGroup {
		s.Groups[g] = Compute(ms)
	}
	return s
}

// GroupKey returns the band and standard grouping of a mode.
func GroupKey(m model.Mode) string {
	return string(m.Band) + " " + m.Standard
}

func recordKey(deviceID string, step int) string {
	return fmt.Sprintf("%s#%d", deviceID, step)
}
