package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	RunID     string
	DeviceID  string
	Step      int
	TimeStart string
	TimeEnd   string
	Category  string
}

// BuildFilter converts options into a journal filter. A negative Step
// matches every step.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		RunID:    opts.RunID,
		DeviceID: opts.DeviceID,
	}
	if opts.Step >= 0 {
		step := opts.Step
		filter.StepIndex = &step
	}
	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies matching events of the journal at path into a new
// journal and returns how many were written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := BuildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer reader.Close()

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output journal: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		out.Log(event)
		count++
	}
	if n := out.WriteErrors(); n > 0 {
		out.Close()
		return count, fmt.Errorf("%d events could not be written", n)
	}
	return count, out.Close()
}
