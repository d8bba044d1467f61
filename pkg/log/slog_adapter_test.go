package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureSlog(t *testing.T, level slog.Level, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	NewSlogAdapter(logger).Log(event)
	if buf.Len() == 0 {
		return nil
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode slog record: %v", err)
	}
	return rec
}

func TestSlogAdapterMeasurement(t *testing.T) {
	rec := captureSlog(t, slog.LevelDebug, Event{
		RunID: "r1", Category: CategoryMeasurement, DeviceID: "laptop", StepIndex: 3,
		Measurement: &MeasurementEvent{Mode: NewModeRef(testMode()), Mbps: 512.5, Port: 5202},
	})
	if rec == nil {
		t.Fatal("nothing logged")
	}
	if rec["msg"] != "journal" || rec["level"] != "DEBUG" {
		t.Errorf("record = %v", rec)
	}
	if rec["device"] != "laptop" || rec["mode"] != "5G/36/11a/n/ac" {
		t.Errorf("record = %v", rec)
	}
	if rec["mbps"] != 512.5 || rec["port"] != float64(5202) || rec["step"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestSlogAdapterFailureAndExclusion(t *testing.T) {
	rec := captureSlog(t, slog.LevelDebug, Event{
		RunID: "r1", Category: CategoryMeasurement, DeviceID: "laptop", StepIndex: 1,
		Measurement: &MeasurementEvent{Mode: NewModeRef(testMode()), Failed: true, Failure: "agent: no result", Kind: "agent_command"},
	})
	if rec["failure"] != "agent: no result" || rec["kind"] != "agent_command" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["mbps"]; ok {
		t.Error("failed measurement logged a throughput")
	}

	rec = captureSlog(t, slog.LevelDebug, Event{
		RunID: "r1", Category: CategoryExclusion, DeviceID: "laptop", StepIndex: -1,
		Exclusion: &ExclusionEvent{Failures: 3, Reason: "3 consecutive failures"},
	})
	if rec["failures"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["step"]; ok {
		t.Error("negative step index logged")
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	rec := captureSlog(t, slog.LevelInfo, Event{RunID: "r", Category: CategoryRun, Run: &RunEvent{Phase: RunPhaseStart}})
	if rec != nil {
		t.Errorf("debug event logged at info level: %v", rec)
	}
}
