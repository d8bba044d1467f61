package log

import (
	"maps"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Category classifies journal events.
type Category uint8

const (
	// CategoryRun marks run start and end.
	CategoryRun Category = iota

	// CategoryState records a session state transition.
	CategoryState

	// CategoryMode records an infrastructure mode application.
	CategoryMode

	// CategoryMeasurement records one measurement result.
	CategoryMeasurement

	// CategoryExclusion records a device removed from the run.
	CategoryExclusion

	// CategoryError records an error that did not produce a measurement.
	CategoryError
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryRun:
		return "RUN"
	case CategoryState:
		return "STATE"
	case CategoryMode:
		return "MODE"
	case CategoryMeasurement:
		return "MEASUREMENT"
	case CategoryExclusion:
		return "EXCLUSION"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory converts a category name as printed by String back into
// a Category.
func ParseCategory(s string) (Category, bool) {
	for c := CategoryRun; c <= CategoryError; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Event is one journal entry. Exactly one payload field is set and it
// matches Category.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	RunID     string    `cbor:"2,keyasint"`
	Category  Category  `cbor:"3,keyasint"`

	// DeviceID is empty for run and infrastructure events.
	DeviceID string `cbor:"4,keyasint,omitempty"`

	// StepIndex is the plan index, or -1 outside a step.
	StepIndex int `cbor:"5,keyasint"`

	Run         *RunEvent         `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Mode        *ModeEvent        `cbor:"12,keyasint,omitempty"`
	Measurement *MeasurementEvent `cbor:"13,keyasint,omitempty"`
	Exclusion   *ExclusionEvent   `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// RunPhase distinguishes run start from run end.
type RunPhase uint8

const (
	RunPhaseStart RunPhase = iota
	RunPhaseEnd
)

// String returns the phase name.
func (p RunPhase) String() string {
	switch p {
	case RunPhaseStart:
		return "START"
	case RunPhaseEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// RunEvent describes the start or end of a run.
type RunEvent struct {
	Phase RunPhase `cbor:"1,keyasint"`

	// Execution is "sequential" or "parallel".
	Execution string   `cbor:"2,keyasint,omitempty"`
	Devices   []string `cbor:"3,keyasint,omitempty"`
	Steps     int      `cbor:"4,keyasint,omitempty"`

	// ResumedFrom is the run whose results were carried over.
	ResumedFrom string `cbor:"5,keyasint,omitempty"`

	// Status, Excluded and Reason are set on RunPhaseEnd.
	Status   string        `cbor:"6,keyasint,omitempty"`
	Excluded []string      `cbor:"7,keyasint,omitempty"`
	Reason   string        `cbor:"8,keyasint,omitempty"`
	Duration time.Duration `cbor:"9,keyasint,omitempty"`
}

// StateEntity identifies what changed state.
type StateEntity uint8

const (
	StateEntitySession StateEntity = iota
	StateEntityInfrastructure
)

// String returns the entity name.
func (e StateEntity) String() string {
	switch e {
	case StateEntitySession:
		return "SESSION"
	case StateEntityInfrastructure:
		return "INFRASTRUCTURE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent records a state transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// ModeRef is the journal form of a model.Mode.
type ModeRef struct {
	Band     string            `cbor:"1,keyasint"`
	Radio    string            `cbor:"2,keyasint,omitempty"`
	Channel  string            `cbor:"3,keyasint"`
	Standard string            `cbor:"4,keyasint"`
	Params   map[string]string `cbor:"5,keyasint,omitempty"`
}

// NewModeRef converts a mode for the journal.
func NewModeRef(m model.Mode) ModeRef {
	return ModeRef{
		Band:     string(m.Band),
		Radio:    m.Radio,
		Channel:  m.Channel,
		Standard: m.Standard,
		Params:   maps.Clone(m.Params),
	}
}

// Mode converts the reference back into a model.Mode.
func (r ModeRef) Mode() model.Mode {
	return model.NewMode(model.Band(r.Band), r.Radio, r.Channel, r.Standard, r.Params)
}

// ModeResult is the outcome of a mode application.
type ModeResult uint8

const (
	ModeApplied ModeResult = iota
	ModeFailed
	ModeReset
)

// String returns the result name.
func (r ModeResult) String() string {
	switch r {
	case ModeApplied:
		return "APPLIED"
	case ModeFailed:
		return "FAILED"
	case ModeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ModeEvent records one infrastructure mode application.
type ModeEvent struct {
	Mode     ModeRef       `cbor:"1,keyasint"`
	Result   ModeResult    `cbor:"2,keyasint"`
	Error    string        `cbor:"3,keyasint,omitempty"`
	Duration time.Duration `cbor:"4,keyasint,omitempty"`
}

// MeasurementEvent records one measurement.
type MeasurementEvent struct {
	Mode    ModeRef `cbor:"1,keyasint"`
	Mbps    float64 `cbor:"2,keyasint"`
	Failed  bool    `cbor:"3,keyasint,omitempty"`
	Failure string  `cbor:"4,keyasint,omitempty"`
	Kind    string  `cbor:"5,keyasint,omitempty"`
	Port    int     `cbor:"6,keyasint,omitempty"`
	Resumed bool    `cbor:"7,keyasint,omitempty"`
}

// NewMeasurementEvent builds the journal event for m.
func NewMeasurementEvent(m model.Measurement) Event {
	return Event{
		Timestamp: m.Timestamp,
		RunID:     m.RunID,
		Category:  CategoryMeasurement,
		DeviceID:  m.DeviceID,
		StepIndex: m.StepIndex,
		Measurement: &MeasurementEvent{
			Mode:    NewModeRef(m.Mode),
			Mbps:    m.Mbps,
			Failed:  m.Failed,
			Failure: m.Failure,
			Kind:    m.Kind,
			Port:    m.Port,
			Resumed: m.Resumed,
		},
	}
}

// ToMeasurement converts a measurement event back into a model.Measurement.
// It reports false for events of any other category.
func (e Event) ToMeasurement() (model.Measurement, bool) {
	if e.Category != CategoryMeasurement || e.Measurement == nil {
		return model.Measurement{}, false
	}
	return model.Measurement{
		RunID:     e.RunID,
		DeviceID:  e.DeviceID,
		StepIndex: e.StepIndex,
		Mode:      e.Measurement.Mode.Mode(),
		Mbps:      e.Measurement.Mbps,
		Failed:    e.Measurement.Failed,
		Failure:   e.Measurement.Failure,
		Kind:      e.Measurement.Kind,
		Port:      e.Measurement.Port,
		Timestamp: e.Timestamp,
		Resumed:   e.Measurement.Resumed,
	}, true
}

// ExclusionEvent records a device removed from the remaining steps.
type ExclusionEvent struct {
	Failures int    `cbor:"1,keyasint"`
	Reason   string `cbor:"2,keyasint"`
}

// ErrorEventData records an error that is not tied to a measurement.
type ErrorEventData struct {
	Kind    string `cbor:"1,keyasint,omitempty"`
	Message string `cbor:"2,keyasint"`
	Context string `cbor:"3,keyasint,omitempty"`
}
