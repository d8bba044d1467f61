package results

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

var (
	ac36 = model.NewMode(model.Band5G, "radio1", "36", "11a/n/ac", nil)
	ac40 = model.NewMode(model.Band5G, "radio1", "40", "11a/n/ac", nil)
	n6   = model.NewMode(model.Band2G, "radio0", "6", "11b/g/n", nil)
)

func pass(dev string, step int, mode model.Mode, mbps float64) model.Measurement {
	return model.Measurement{DeviceID: dev, StepIndex: step, Mode: mode, Mbps: mbps, Timestamp: time.Now()}
}

func fail(dev string, step int, mode model.Mode, reason string) model.Measurement {
	return model.Measurement{DeviceID: dev, StepIndex: step, Mode: mode, Failed: true, Failure: reason, Kind: "agent_command", Timestamp: time.Now()}
}

func TestStandardKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"11a/n/ac", "11ac"},
		{"11b/g/n", "11n"},
		{"11b/g/n/ax", "11ax"},
		{"11n/ax", "11ax"},
		{"11g", "11g"},
		{"11a", "11a"},
		{"11b", "11b"},
		{"11a/n/ac/ax", "11ax"},
		{"legacy", "legacy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StandardKey(tt.in), tt.in)
	}
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, ClassExcellent, th.Classify("11a/n/ac", 450))
	assert.Equal(t, ClassGood, th.Classify("11a/n/ac", 300))
	assert.Equal(t, ClassPoor, th.Classify("11a/n/ac", 299.9))
	assert.Equal(t, ClassExcellent, th.Classify("11b", 6))
	assert.Equal(t, ClassGood, th.Classify("11b/g/n", 60))

	// Unknown standards fall back to 100/50.
	assert.Equal(t, ClassGood, th.Classify("11zz", 75))
	assert.Equal(t, DefaultThreshold, th.For("legacy"))
}

func TestCompute(t *testing.T) {
	s := Compute([]model.Measurement{
		pass("a", 0, ac36, 100),
		pass("a", 1, ac40, 200),
		fail("a", 2, n6, "boom"),
		pass("a", 3, n6, 300),
		pass("a", 4, n6, 400),
	})
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 4, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 100.0, s.Min)
	assert.Equal(t, 400.0, s.Max)
	assert.Equal(t, 250.0, s.Mean)
	assert.Equal(t, 250.0, s.Median)
	assert.InDelta(t, 129.0994, s.StdDev, 1e-4)
	assert.Equal(t, 80.0, s.PassRate())

	odd := Compute([]model.Measurement{pass("a", 0, ac36, 3), pass("a", 1, ac36, 1), pass("a", 2, ac36, 2)})
	assert.Equal(t, 2.0, odd.Median)

	single := Compute([]model.Measurement{pass("a", 0, ac36, 42)})
	assert.Zero(t, single.StdDev)

	empty := Compute(nil)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.PassRate())

	allFailed := Compute([]model.Measurement{fail("a", 0, ac36, "x")})
	assert.Zero(t, allFailed.Mean)
	assert.Equal(t, 1, allFailed.Failed)
}

func TestAggregatorRecord(t *testing.T) {
	a := NewAggregator(nil, nil)
	require.NoError(t, a.Record(pass("a", 0, ac36, 410)))
	require.NoError(t, a.Record(pass("b", 0, ac36, 390)))
	require.NoError(t, a.Record(fail("a", 1, ac40, "no result")))

	err := a.Record(pass("a", 0, ac36, 1))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, a.Record(model.Measurement{StepIndex: 3}), ErrInvalid)

	assert.Equal(t, 3, a.Len())
	res := a.Results()
	require.Len(t, res, 3)
	assert.Equal(t, "b", res[1].DeviceID)

	// Results is a copy.
	res[0].Mbps = 0
	got, ok := a.Get("a", 0)
	require.True(t, ok)
	assert.Equal(t, 410.0, got.Mbps)

	byA := a.ByDevice("a")
	require.Len(t, byA, 2)
	assert.True(t, byA[1].Failed)
	assert.Empty(t, a.ByDevice("zz"))
}

func TestAggregatorSummary(t *testing.T) {
	a := NewAggregator(DefaultThresholds(), nil)
	require.NoError(t, a.Record(pass("a", 0, ac36, 500)))
	require.NoError(t, a.Record(pass("b", 0, ac36, 350)))
	require.NoError(t, a.Record(pass("a", 1, n6, 20)))
	require.NoError(t, a.Record(fail("b", 1, n6, "timeout")))

	s := a.Summary()
	assert.Equal(t, 4, s.Overall.Count)
	assert.Equal(t, 1, s.Overall.Failed)
	assert.Equal(t, 2, s.Devices["a"].Passed)
	assert.Equal(t, 1, s.Devices["b"].Failed)
	assert.Equal(t, 425.0, s.Groups["5G 11a/n/ac"].Mean)
	assert.Equal(t, 2, s.Groups["2G 11b/g/n"].Count)
	assert.Equal(t, map[Class]int{ClassExcellent: 1, ClassGood: 1, ClassPoor: 1}, s.Classes)
}

func TestAggregatorSubscribe(t *testing.T) {
	a := NewAggregator(nil, nil)

	var got []string
	unsubscribe := a.Subscribe(SinkFunc(func(m model.Measurement) {
		got = append(got, m.DeviceID)
	}))
	require.NoError(t, a.Record(pass("a", 0, ac36, 1)))
	require.NoError(t, a.Record(pass("b", 0, ac36, 1)))
	unsubscribe()
	require.NoError(t, a.Record(pass("c", 0, ac36, 1)))

	assert.Equal(t, []string{"a", "b"}, got)

	// Rejected records are not forwarded.
	var count int
	a.Subscribe(SinkFunc(func(model.Measurement) { count++ }))
	_ = a.Record(pass("a", 0, ac36, 1))
	assert.Zero(t, count)
}

func TestAggregatorConcurrentRecordOrder(t *testing.T) {
	a := NewAggregator(nil, nil)

	var mu sync.Mutex
	var emitted []model.Measurement
	a.Subscribe(SinkFunc(func(m model.Measurement) {
		mu.Lock()
		emitted = append(emitted, m)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for d := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range 20 {
				_ = a.Record(pass(string(rune('a'+d)), s, ac36, float64(s)))
			}
		}()
	}
	wg.Wait()

	res := a.Results()
	require.Len(t, res, 200)
	require.Len(t, emitted, 200)
	for i := range res {
		assert.Equal(t, res[i].Key(), emitted[i].Key())
		assert.Equal(t, res[i].StepIndex, emitted[i].StepIndex)
	}
}

func TestAggregatorTable(t *testing.T) {
	a := NewAggregator(nil, nil)
	steps := []model.Step{
		{Index: 0, Mode: ac36, Devices: []string{"a", "b"}},
		{Index: 1, Mode: ac40, Devices: []string{"a", "b"}},
	}
	require.NoError(t, a.Record(pass("a", 0, ac36, 460)))
	require.NoError(t, a.Record(fail("b", 0, ac36, "agent: no result")))
	resumed := pass("a", 1, ac40, 100)
	resumed.Resumed = true
	require.NoError(t, a.Record(resumed))

	table := a.Table(steps, []string{"a", "b"})
	require.Len(t, table.Rows, 2)

	c := table.Rows[0].Cells["a"]
	assert.Equal(t, CellPassed, c.Status)
	assert.Equal(t, ClassExcellent, c.Class)
	assert.Equal(t, CellFailed, table.Rows[0].Cells["b"].Status)
	assert.Equal(t, "agent: no result", table.Rows[0].Cells["b"].Failure)
	assert.True(t, table.Rows[1].Cells["a"].Resumed)
	assert.Equal(t, ClassPoor, table.Rows[1].Cells["a"].Class)
	assert.Equal(t, CellSkipped, table.Rows[1].Cells["b"].Status)

	assert.Equal(t, map[CellStatus]int{CellPassed: 2, CellFailed: 1, CellSkipped: 1}, table.Counts())
}
