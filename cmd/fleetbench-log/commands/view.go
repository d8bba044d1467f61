// Package commands implements the fleetbench-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/log"
)

const timeFormat = "2006-01-02T15:04:05.000Z"

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	RunID    string
	DeviceID string
	Category *log.Category
}

// RunView prints every matching event of the journal at path.
func RunView(path string, vf ViewFilter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		RunID:    vf.RunID,
		DeviceID: vf.DeviceID,
		Category: vf.Category,
	})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeFormat)
	step := "-"
	if event.StepIndex >= 0 {
		step = fmt.Sprintf("#%d", event.StepIndex)
	}
	subject := event.DeviceID
	if subject == "" {
		subject = "*"
	}
	fmt.Fprintf(w, "%s [run:%s] %-11s %-4s %s\n", ts, shortenRunID(event.RunID), event.Category, step, subject)

	switch {
	case event.Run != nil:
		formatRunDetails(w, event.Run)
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Mode != nil:
		me := event.Mode
		fmt.Fprintf(w, "  Mode: %s\n", me.Mode.Mode())
		fmt.Fprintf(w, "  Result: %s", me.Result)
		if me.Duration > 0 {
			fmt.Fprintf(w, " in %s", me.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
		if me.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", me.Error)
		}
	case event.Measurement != nil:
		formatMeasurementDetails(w, event.Measurement)
	case event.Exclusion != nil:
		fmt.Fprintf(w, "  Excluded after %d failures: %s\n", event.Exclusion.Failures, event.Exclusion.Reason)
	case event.Error != nil:
		if event.Error.Kind != "" {
			fmt.Fprintf(w, "  Kind: %s\n", event.Error.Kind)
		}
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
	fmt.Fprintln(w)
}

func formatRunDetails(w io.Writer, r *log.RunEvent) {
	fmt.Fprintf(w, "  Phase: %s\n", r.Phase)
	if r.Execution != "" {
		fmt.Fprintf(w, "  Execution: %s\n", r.Execution)
	}
	if len(r.Devices) > 0 {
		fmt.Fprintf(w, "  Devices: %s\n", strings.Join(r.Devices, ", "))
	}
	if r.Steps > 0 {
		fmt.Fprintf(w, "  Steps: %d\n", r.Steps)
	}
	if r.ResumedFrom != "" {
		fmt.Fprintf(w, "  Resumed from: %s\n", r.ResumedFrom)
	}
	if r.Status != "" {
		fmt.Fprintf(w, "  Status: %s\n", r.Status)
	}
	if len(r.Excluded) > 0 {
		fmt.Fprintf(w, "  Excluded: %s\n", strings.Join(r.Excluded, ", "))
	}
	if r.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", r.Reason)
	}
	if r.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", r.Duration.Round(time.Millisecond))
	}
}

func formatMeasurementDetails(w io.Writer, m *log.MeasurementEvent) {
	fmt.Fprintf(w, "  Mode: %s\n", m.Mode.Mode())
	switch {
	case m.Failed:
		fmt.Fprintf(w, "  FAIL")
		if m.Kind != "" {
			fmt.Fprintf(w, " [%s]", m.Kind)
		}
		fmt.Fprintf(w, ": %s\n", m.Failure)
	default:
		fmt.Fprintf(w, "  Throughput: %.1f Mbit/s\n", m.Mbps)
	}
	if m.Port > 0 {
		fmt.Fprintf(w, "  Port: %d\n", m.Port)
	}
	if m.Resumed {
		fmt.Fprintln(w, "  (resumed)")
	}
}

// shortenRunID returns the first 8 characters of the run ID.
func shortenRunID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// ParseCategoryFlag parses a category name, case-insensitively.
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (valid: run, state, mode, measurement, exclusion, error)", s)
	}
	return c, nil
}
