// Package reporter provides run result formatting and output.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fleetbench/fleetbench-go/internal/orchestrator"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// Reporter formats and outputs run results.
type Reporter interface {
	// ReportRun reports the final results of a run.
	ReportRun(report *orchestrator.Report)

	// ReportMeasurement reports one measurement as it is recorded.
	ReportMeasurement(m model.Measurement)
}

// Sink adapts a reporter to receive live measurements from a run.
func Sink(r Reporter) results.Sink {
	return results.SinkFunc(r.ReportMeasurement)
}

// New returns the reporter for a format name: "text", "json" or "junit".
func New(format string, w io.Writer, verbose bool) (Reporter, error) {
	switch format {
	case "text", "":
		return NewTextReporter(w, verbose), nil
	case "json":
		return NewJSONReporter(w, verbose), nil
	case "junit":
		return NewJUnitReporter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// TextReporter outputs human-readable text reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a new text reporter.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{
		writer:  w,
		verbose: verbose,
	}
}

// ReportRun reports run results in text format.
func (r *TextReporter) ReportRun(rep *orchestrator.Report) {
	fmt.Fprintf(r.writer, "\n=== Run: %s (%s, %s) ===\n", rep.RunID, rep.Domain, rep.Execution)
	if rep.ResumedFrom != "" {
		fmt.Fprintf(r.writer, "Resumed from: %s\n", rep.ResumedFrom)
	}
	fmt.Fprintf(r.writer, "Duration: %s\n", rep.Duration().Round(time.Millisecond))
	fmt.Fprintf(r.writer, "Outcome:  %s\n\n", rep.Outcome)

	r.writeTable(rep.Table)

	s := rep.Summary
	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Total:   %d\n", s.Overall.Count)
	fmt.Fprintf(r.writer, "Passed:  %d\n", s.Overall.Passed)
	fmt.Fprintf(r.writer, "Failed:  %d\n", s.Overall.Failed)
	fmt.Fprintf(r.writer, "Skipped: %d\n", rep.Table.Counts()[results.CellSkipped])
	if s.Overall.Count > 0 {
		fmt.Fprintf(r.writer, "Pass Rate: %.1f%%\n", s.Overall.PassRate())
	}
	if s.Overall.Passed > 0 {
		fmt.Fprintf(r.writer, "Throughput: min %.1f / mean %.1f / median %.1f / max %.1f Mbit/s (stddev %.1f)\n",
			s.Overall.Min, s.Overall.Mean, s.Overall.Median, s.Overall.Max, s.Overall.StdDev)
	}

	if len(s.Groups) > 0 {
		fmt.Fprintf(r.writer, "\n--- By band and standard ---\n")
		for _, g := range sortedKeys(s.Groups) {
			st := s.Groups[g]
			fmt.Fprintf(r.writer, "%-16s %3d/%-3d passed  mean %7.1f Mbit/s\n", g, st.Passed, st.Count, st.Mean)
		}
	}

	fmt.Fprintf(r.writer, "\n--- By device ---\n")
	for _, id := range rep.Devices {
		st := s.Devices[id]
		line := fmt.Sprintf("%-16s %3d/%-3d passed  mean %7.1f Mbit/s", id, st.Passed, st.Count, st.Mean)
		if ds, ok := rep.DeviceStates[id]; ok && ds.Excluded {
			line += "  EXCLUDED: " + ds.Reason
		}
		fmt.Fprintln(r.writer, line)
	}

	if len(s.Classes) > 0 {
		fmt.Fprintf(r.writer, "\nSpeed classes: excellent %d, good %d, poor %d\n",
			s.Classes[results.ClassExcellent], s.Classes[results.ClassGood], s.Classes[results.ClassPoor])
	}
}

func (r *TextReporter) writeTable(t results.Table) {
	fmt.Fprintf(r.writer, "%-36s", "Step")
	for _, id := range t.Devices {
		fmt.Fprintf(r.writer, " %14s", id)
	}
	fmt.Fprintln(r.writer)

	for _, row := range t.Rows {
		fmt.Fprintf(r.writer, "%-36s", row.Step.Descriptor())
		for _, id := range t.Devices {
			c, ok := row.Cells[id]
			if !ok {
				fmt.Fprintf(r.writer, " %14s", "")
				continue
			}
			fmt.Fprintf(r.writer, " %14s", cellText(c))
		}
		fmt.Fprintln(r.writer)

		if r.verbose {
			for _, id := range t.Devices {
				if c, ok := row.Cells[id]; ok && c.Status == results.CellFailed {
					fmt.Fprintf(r.writer, "    %s: [%s] %s\n", id, c.Kind, c.Failure)
				}
			}
		}
	}
}

func cellText(c results.Cell) string {
	var s string
	switch c.Status {
	case results.CellPassed:
		s = fmt.Sprintf("%.1f", c.Mbps)
	case results.CellFailed:
		s = "FAIL"
	default:
		s = "-"
	}
	if c.Resumed {
		s += "*"
	}
	return s
}

// ReportMeasurement reports a single measurement in text format.
func (r *TextReporter) ReportMeasurement(m model.Measurement) {
	if m.Failed {
		fmt.Fprintf(r.writer, "[FAIL] #%d %s %s: %s\n", m.StepIndex, m.DeviceID, m.Mode, m.Failure)
		return
	}
	if !r.verbose {
		return
	}
	fmt.Fprintf(r.writer, "[PASS] #%d %s %s: %.1f Mbit/s\n", m.StepIndex, m.DeviceID, m.Mode, m.Mbps)
}

// JSONReporter outputs JSON-formatted reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

// JSONRunResult is the JSON representation of a run.
type JSONRunResult struct {
	RunID       string                       `json:"run_id"`
	Domain      string                       `json:"domain"`
	Execution   string                       `json:"execution"`
	ResumedFrom string                       `json:"resumed_from,omitempty"`
	Started     time.Time                    `json:"started"`
	Duration    string                       `json:"duration"`
	Status      string                       `json:"status"`
	Excluded    []string                     `json:"excluded,omitempty"`
	Reason      string                       `json:"reason,omitempty"`
	Devices     []JSONDevice                 `json:"devices"`
	Summary     results.Summary              `json:"summary"`
	Steps       []JSONStep                   `json:"steps"`
	Thresholds  map[string]results.Threshold `json:"thresholds,omitempty"`
}

// JSONDevice is the JSON representation of a device's end state.
type JSONDevice struct {
	ID       string `json:"id"`
	Failures int    `json:"failures"`
	Excluded bool   `json:"excluded"`
	Reason   string `json:"reason,omitempty"`
}

// JSONStep is the JSON representation of one plan step.
type JSONStep struct {
	Index    int                     `json:"index"`
	Band     string                  `json:"band"`
	Channel  string                  `json:"channel"`
	Standard string                  `json:"standard"`
	Results  map[string]results.Cell `json:"results"`
}

// JSONMeasurement is the JSON representation of a live measurement.
type JSONMeasurement struct {
	Type string `json:"type"`
	model.Measurement
}

// ReportRun reports run results in JSON format.
func (r *JSONReporter) ReportRun(rep *orchestrator.Report) {
	jr := JSONRunResult{
		RunID:       rep.RunID,
		Domain:      rep.Domain,
		Execution:   rep.Execution.String(),
		ResumedFrom: rep.ResumedFrom,
		Started:     rep.Started,
		Duration:    rep.Duration().Round(time.Millisecond).String(),
		Status:      rep.Outcome.Status.String(),
		Excluded:    rep.Outcome.Excluded,
		Reason:      rep.Outcome.Reason,
		Summary:     rep.Summary,
		Thresholds:  rep.Thresholds,
		Devices:     make([]JSONDevice, 0, len(rep.Devices)),
		Steps:       make([]JSONStep, 0, len(rep.Table.Rows)),
	}
	for _, id := range rep.Devices {
		ds := rep.DeviceStates[id]
		jr.Devices = append(jr.Devices, JSONDevice{ID: id, Failures: ds.Failures, Excluded: ds.Excluded, Reason: ds.Reason})
	}
	for _, row := range rep.Table.Rows {
		jr.Steps = append(jr.Steps, JSONStep{
			Index:    row.Step.Index,
			Band:     string(row.Step.Mode.Band),
			Channel:  row.Step.Mode.Channel,
			Standard: row.Step.Mode.Standard,
			Results:  row.Cells,
		})
	}

	r.writeJSON(jr)
}

// ReportMeasurement reports a single measurement as one JSON line.
func (r *JSONReporter) ReportMeasurement(m model.Measurement) {
	data, err := json.Marshal(JSONMeasurement{Type: "measurement", Measurement: m})
	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`+"\n", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) writeJSON(v any) {
	var data []byte
	var err error

	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`, err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter outputs JUnit XML format for CI integration. Every
// planned (device, step) pair is one test case.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a new JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// ReportRun reports run results in JUnit XML format.
func (r *JUnitReporter) ReportRun(rep *orchestrator.Report) {
	counts := rep.Table.Counts()
	total := counts[results.CellPassed] + counts[results.CellFailed] + counts[results.CellSkipped]

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n")

	fmt.Fprintf(&b, `<testsuite name="%s" tests="%d" failures="%d" skipped="%d" time="%.3f">`,
		escapeXML(rep.Domain+" "+rep.RunID),
		total,
		counts[results.CellFailed],
		counts[results.CellSkipped],
		rep.Duration().Seconds())
	b.WriteString("\n")

	for _, row := range rep.Table.Rows {
		for _, id := range rep.Table.Devices {
			c, ok := row.Cells[id]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, `  <testcase name="%s" classname="%s">`,
				escapeXML(row.Step.Descriptor()),
				escapeXML(id))
			b.WriteString("\n")

			switch c.Status {
			case results.CellSkipped:
				reason := "not run"
				if ds, ok := rep.DeviceStates[id]; ok && ds.Excluded {
					reason = "excluded: " + ds.Reason
				}
				fmt.Fprintf(&b, `    <skipped message="%s"/>`, escapeXML(reason))
				b.WriteString("\n")
			case results.CellFailed:
				fmt.Fprintf(&b, `    <failure message="%s" type="%s"/>`, escapeXML(c.Failure), escapeXML(c.Kind))
				b.WriteString("\n")
			default:
				fmt.Fprintf(&b, `    <system-out>%.1f Mbit/s (%s)</system-out>`, c.Mbps, c.Class)
				b.WriteString("\n")
			}
			b.WriteString("  </testcase>\n")
		}
	}

	b.WriteString("</testsuite>\n")
	fmt.Fprint(r.writer, b.String())
}

// ReportMeasurement is a no-op; JUnit output is written once per run.
func (r *JUnitReporter) ReportMeasurement(model.Measurement) {}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
