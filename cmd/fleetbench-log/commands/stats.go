package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/log"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// Stats holds aggregate statistics about a journal.
type Stats struct {
	TotalEvents      int
	EventsByCategory map[log.Category]int
	Runs             map[string]*RunStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// RunStats holds statistics for a single run.
type RunStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Execution   string
	Status      string
	ModeChanges int
	ModeFailed  int
	Excluded    []string
	Devices     map[string][]model.Measurement
}

// CollectStats reads the journal at path.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByCategory: make(map[log.Category]int),
		Runs:             make(map[string]*RunStats),
	}
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByCategory[event.Category]++
		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		run, ok := stats.Runs[event.RunID]
		if !ok {
			run = &RunStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
				Devices:   make(map[string][]model.Measurement),
			}
			stats.Runs[event.RunID] = run
		}
		run.Events++
		if event.Timestamp.After(run.LastSeen) {
			run.LastSeen = event.Timestamp
		}

		switch {
		case event.Run != nil:
			if event.Run.Execution != "" {
				run.Execution = event.Run.Execution
			}
			if event.Run.Phase == log.RunPhaseEnd {
				run.Status = event.Run.Status
			}
		case event.Mode != nil:
			run.ModeChanges++
			if event.Mode.Result == log.ModeFailed {
				run.ModeFailed++
			}
		case event.Measurement != nil:
			if m, ok := event.ToMeasurement(); ok {
				run.Devices[m.DeviceID] = append(run.Devices[m.DeviceID], m)
			}
		case event.Exclusion != nil:
			run.Excluded = append(run.Excluded, event.DeviceID)
		case event.Error != nil:
			stats.Errors++
		}
	}
	return stats, nil
}

// RunStatsCommand prints statistics about the journal at path.
func RunStatsCommand(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Fleetbench Journal Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for c := log.CategoryRun; c <= log.CategoryError; c++ {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", c.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Runs: %d\n", len(stats.Runs))
	ids := make([]string, 0, len(stats.Runs))
	for id := range stats.Runs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return stats.Runs[a].FirstSeen.Compare(stats.Runs[b].FirstSeen)
	})
	for _, id := range ids {
		run := stats.Runs[id]
		fmt.Fprintln(w)
		status := run.Status
		if status == "" {
			status = "INCOMPLETE"
		}
		fmt.Fprintf(w, "  [%s] %s, %d events, duration %s\n",
			shortenRunID(id), status, run.Events, run.LastSeen.Sub(run.FirstSeen).Round(time.Millisecond))
		if run.Execution != "" {
			fmt.Fprintf(w, "           Execution: %s\n", run.Execution)
		}
		if run.ModeChanges > 0 {
			fmt.Fprintf(w, "           Mode changes: %d (%d failed)\n", run.ModeChanges, run.ModeFailed)
		}
		devices := make([]string, 0, len(run.Devices))
		for d := range run.Devices {
			devices = append(devices, d)
		}
		slices.Sort(devices)
		for _, d := range devices {
			s := results.Compute(run.Devices[d])
			fmt.Fprintf(w, "           %s: %d passed, %d failed", d, s.Passed, s.Failed)
			if s.Passed > 0 {
				fmt.Fprintf(w, ", mean %.1f Mbit/s", s.Mean)
			}
			if slices.Contains(run.Excluded, d) {
				fmt.Fprint(w, " (excluded)")
			}
			fmt.Fprintln(w)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
