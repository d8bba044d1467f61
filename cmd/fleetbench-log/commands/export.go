package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fleetbench/fleetbench-go/pkg/log"
)

// RunExport writes the journal at path as JSON lines (every event) or CSV
// (measurements only) to output, or stdout when output is empty.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

var csvHeader = []string{"timestamp", "run_id", "device", "step", "band", "channel", "standard", "mbps", "failed", "kind", "failure", "port", "resumed"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		m, ok := event.ToMeasurement()
		if !ok {
			continue
		}
		mbps := ""
		if !m.Failed {
			mbps = strconv.FormatFloat(m.Mbps, 'f', 2, 64)
		}
		row := []string{
			m.Timestamp.UTC().Format(timeFormat),
			m.RunID,
			m.DeviceID,
			strconv.Itoa(m.StepIndex),
			string(m.Mode.Band),
			m.Mode.Channel,
			m.Mode.Standard,
			mbps,
			strconv.FormatBool(m.Failed),
			m.Kind,
			m.Failure,
			strconv.Itoa(m.Port),
			strconv.FormatBool(m.Resumed),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
