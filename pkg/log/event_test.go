package log

import (
	"testing"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

func testMode() model.Mode {
	return model.NewMode(model.Band5G, "radio1", "36", "11a/n/ac", map[string]string{"htmode": "VHT80"})
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		c    Category
		want string
	}{
		{CategoryRun, "RUN"},
		{CategoryState, "STATE"},
		{CategoryMode, "MODE"},
		{CategoryMeasurement, "MEASUREMENT"},
		{CategoryExclusion, "EXCLUSION"},
		{CategoryError, "ERROR"},
		{Category(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.c, got, tt.want)
		}
		if tt.want == "UNKNOWN" {
			continue
		}
		c, ok := ParseCategory(tt.want)
		if !ok || c != tt.c {
			t.Errorf("ParseCategory(%q) = %v, %v", tt.want, c, ok)
		}
	}
	if _, ok := ParseCategory("bogus"); ok {
		t.Error("ParseCategory accepted an unknown name")
	}
}

func TestEventEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp: ts,
		RunID:     "run-1",
		Category:  CategoryMode,
		StepIndex: 4,
		Mode: &ModeEvent{
			Mode:     NewModeRef(testMode()),
			Result:   ModeFailed,
			Error:    "not active",
			Duration: 3 * time.Second,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v (nanosecond precision)", got.Timestamp, ts)
	}
	if got.RunID != "run-1" || got.Category != CategoryMode || got.StepIndex != 4 {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.Mode == nil {
		t.Fatal("Mode payload missing")
	}
	if !got.Mode.Mode.Mode().Equal(testMode()) {
		t.Errorf("mode = %+v", got.Mode.Mode)
	}
	if got.Mode.Result != ModeFailed || got.Mode.Duration != 3*time.Second {
		t.Errorf("mode payload = %+v", got.Mode)
	}
	if got.Measurement != nil || got.Run != nil {
		t.Error("unexpected payloads decoded")
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	event := Event{
		RunID:    "r",
		Category: CategoryMode,
		Mode: &ModeEvent{Mode: NewModeRef(model.NewMode(model.Band2G, "radio0", "6", "11n", map[string]string{
			"z": "1", "a": "2", "m": "3",
		}))},
	}
	a, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		b, _ := EncodeEvent(event)
		if string(a) != string(b) {
			t.Fatal("encoding differs between calls")
		}
	}
}

func TestMeasurementEventRoundTrip(t *testing.T) {
	m := model.Measurement{
		RunID:     "run-2",
		DeviceID:  "laptop-1",
		StepIndex: 7,
		Mode:      testMode(),
		Failed:    true,
		Failure:   "recovery timed out",
		Kind:      "recovery_timeout",
		Port:      5203,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := EncodeEvent(NewMeasurementEvent(m))
	if err != nil {
		t.Fatal(err)
	}
	event, err := DecodeEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := event.ToMeasurement()
	if !ok {
		t.Fatal("ToMeasurement reported false")
	}
	if got.Key() != m.Key() || got.StepIndex != 7 || got.Port != 5203 || !got.Failed || got.Kind != m.Kind {
		t.Errorf("got %+v, want %+v", got, m)
	}
	if !got.Timestamp.Equal(m.Timestamp) {
		t.Errorf("Timestamp = %v", got.Timestamp)
	}

	if _, ok := (Event{Category: CategoryRun, Run: &RunEvent{}}).ToMeasurement(); ok {
		t.Error("run event converted to a measurement")
	}
}

func TestModeRefCopiesParams(t *testing.T) {
	params := map[string]string{"htmode": "HE80"}
	ref := NewModeRef(model.NewMode(model.Band5G, "radio1", "36", "11ax", params))
	ref.Params["htmode"] = "HT20"
	if params["htmode"] != "HE80" {
		t.Error("ModeRef shares params with the mode")
	}
}
