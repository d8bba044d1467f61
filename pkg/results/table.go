package results

import (
	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// CellStatus is the outcome of one device in one step.
type CellStatus string

const (
	CellPassed CellStatus = "passed"
	CellFailed CellStatus = "failed"

	// CellSkipped marks a planned pair without a result, typically because
	// the device was excluded or the run was aborted.
	CellSkipped CellStatus = "skipped"
)

// Cell is one entry of the outcome table.
type Cell struct {
	Status  CellStatus `json:"status"`
	Mbps    float64    `json:"mbps,omitempty"`
	Class   Class      `json:"class,omitempty"`
	Failure string     `json:"failure,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	Resumed bool       `json:"resumed,omitempty"`
}

// Row is one step of the outcome table. Cells holds an entry for every
// device the plan assigned to the step.
type Row struct {
	Step  model.Step      `json:"step"`
	Cells map[string]Cell `json:"cells"`
}

// Table is the per-device, per-step outcome table of a run.
type Table struct {
	Devices []string `json:"devices"`
	Rows    []Row    `json:"rows"`
}

// Table lays the records out against the planned steps.
func (a *Aggregator) Table(steps []model.Step, devices []string) Table {
	records := a.Results()
	index := make(map[string]model.Measurement, len(records))
	for _, m := range records {
		index[recordKey(m.DeviceID, m.StepIndex)] = m
	}

	t := Table{Devices: devices, Rows: make([]Row, 0, len(steps))}
	for _, step := range steps {
		row := Row{Step: step, Cells: make(map[string]Cell, len(step.Devices))}
		for _, id := range step.Devices {
			m, ok := index[recordKey(id, step.Index)]
			switch {
			case !ok:
				row.Cells[id] = Cell{Status: CellSkipped}
			case m.Failed:
				row.Cells[id] = Cell{Status: CellFailed, Failure: m.Failure, Kind: m.Kind, Resumed: m.Resumed}
			default:
				row.Cells[id] = Cell{
					Status:  CellPassed,
					Mbps:    m.Mbps,
					Class:   a.thresholds.Classify(m.Mode.Standard, m.Mbps),
					Resumed: m.Resumed,
				}
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Counts returns the number of cells per status.
func (t Table) Counts() map[CellStatus]int {
	out := make(map[CellStatus]int)
	for _, r := range t.Rows {
		for _, c := range r.Cells {
			out[c.Status]++
		}
	}
	return out
}
