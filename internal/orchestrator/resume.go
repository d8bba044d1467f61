package orchestrator

import (
	"fmt"

	journal "github.com/fleetbench/fleetbench-go/pkg/log"
	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Checkpoint holds the successful results of an earlier run.
type Checkpoint struct {
	RunID        string
	Measurements []model.Measurement
}

// Done returns the result keys the checkpoint covers.
func (c *Checkpoint) Done() map[string]bool {
	done := make(map[string]bool, len(c.Measurements))
	for _, m := range c.Measurements {
		done[m.Key()] = true
	}
	return done
}

// LoadCheckpoint reads the most recent run in a journal and returns its
// successful measurements, carried-over ones included. Failed results are
// left out so they run again.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	runCat := journal.CategoryRun
	starts, err := journal.ReadAll(path, journal.Filter{Category: &runCat})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var runID string
	for _, e := range starts {
		if e.Run != nil && e.Run.Phase == journal.RunPhaseStart {
			runID = e.RunID
		}
	}
	if runID == "" {
		return nil, fmt.Errorf("journal %s: no run found", path)
	}

	measCat := journal.CategoryMeasurement
	events, err := journal.ReadAll(path, journal.Filter{RunID: runID, Category: &measCat})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	cp := &Checkpoint{RunID: runID}
	seen := make(map[string]bool)
	for _, e := range events {
		m, ok := e.ToMeasurement()
		if !ok || m.Failed || seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		cp.Measurements = append(cp.Measurements, m)
	}
	return cp, nil
}
