package model

import "time"

// Measurement is the outcome of one step for one device.
// Exactly one of Mbps (Failed == false) or Failure (Failed == true) is meaningful.
type Measurement struct {
	RunID     string    `json:"run_id"`
	DeviceID  string    `json:"device"`
	StepIndex int       `json:"step"`
	Mode      Mode      `json:"mode"`
	Mbps      float64   `json:"mbps"`
	Failed    bool      `json:"failed"`
	Failure   string    `json:"failure,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Port      int       `json:"port,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Resumed marks a result carried over from a previous run's journal.
	Resumed bool `json:"resumed,omitempty"`
}

// Key identifies the (device, mode) pair the measurement belongs to.
func (m Measurement) Key() string {
	return ResultKey(m.DeviceID, m.Mode)
}

// ResultKey builds the resume key for a device and mode.
func ResultKey(deviceID string, mode Mode) string {
	return deviceID + "@" + mode.Key()
}
