package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/infra"
	journal "github.com/fleetbench/fleetbench-go/pkg/log"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/plan"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
	"github.com/fleetbench/fleetbench-go/pkg/remote/remotetest"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// ---------------------------------------------------------------------------
// stubInfra
// ---------------------------------------------------------------------------

type stubInfra struct{ mock.Mock }

func (s *stubInfra) ApplyMode(ctx context.Context, mode model.Mode) error {
	return s.Called(ctx, mode).Error(0)
}

func (s *stubInfra) Reset(ctx context.Context) error {
	return s.Called(ctx).Error(0)
}

func newStubInfra() *stubInfra {
	s := &stubInfra{}
	s.On("ApplyMode", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.On("Reset", mock.Anything).Return(nil).Maybe()
	return s
}

// ---------------------------------------------------------------------------
// fakeDomain
// ---------------------------------------------------------------------------

type execFunc func(ctx context.Context, sc StepContext) (float64, error)

type fakeDomain struct {
	steps []model.Step
	exec  execFunc

	mu    sync.Mutex
	calls []string
}

func (d *fakeDomain) Name() string                     { return "fake" }
func (d *fakeDomain) PlanSteps() ([]model.Step, error) { return d.steps, nil }

func (d *fakeDomain) ExecuteStep(ctx context.Context, sc StepContext) (float64, error) {
	d.mu.Lock()
	d.calls = append(d.calls, model.ResultKey(sc.Device.ID, sc.Step.Mode))
	d.mu.Unlock()
	if d.exec == nil {
		return 100, nil
	}
	return d.exec(ctx, sc)
}

func (d *fakeDomain) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func testDevice(id string) model.Device {
	return model.Device{ID: id, Address: "10.0.0." + id, OS: model.OSLinux, Credential: model.Credential{User: "root", Password: "pw"}}
}

func testFleet(t *testing.T, ids ...string) (*remote.Pool, *remotetest.Dialer, []model.Device) {
	t.Helper()
	d := remotetest.NewDialer()
	pool := remote.NewPool(d, remote.SessionConfig{
		ConnectTimeout: time.Second,
		PollInterval:   2 * time.Millisecond,
		ProbeTimeout:   200 * time.Millisecond,
		Retry:          connection.RetryPolicy{MaxAttempts: 1, Initial: time.Millisecond},
	}, nil)
	t.Cleanup(func() { _ = pool.Close() })

	devices := make([]model.Device, 0, len(ids))
	for _, id := range ids {
		dev := testDevice(id)
		require.NoError(t, pool.Add(dev))
		devices = append(devices, dev)
	}
	return pool, d, devices
}

func testMatrix(channels ...string) plan.Matrix {
	return plan.Matrix{Bands: []plan.BandPlan{{
		Band:      model.Band5G,
		Radio:     "radio1",
		SSID:      "lab-5g",
		Password:  "secret",
		Channels:  channels,
		Standards: []string{"11a/n/ac"},
		Modes:     map[string]map[string]string{"11a/n/ac": {"htmode": "VHT80"}},
	}}}
}

func testSteps(t *testing.T, devices []model.Device, channels ...string) []model.Step {
	t.Helper()
	steps, err := plan.Plan(testMatrix(channels...), devices)
	require.NoError(t, err)
	return steps
}

func fastEngineConfig(x Execution) Config {
	return Config{
		Execution:       x,
		RecoveryTimeout: 30 * time.Millisecond,
		StepTimeout:     2 * time.Second,
		CleanupTimeout:  time.Second,
	}
}

func newTestEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return e
}

// ---------------------------------------------------------------------------
// scenarios
// ---------------------------------------------------------------------------

func TestSequentialAllSucceed(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b", "c")
	inf := newStubInfra()
	dom := &fakeDomain{steps: testSteps(t, devices, "36", "40")}

	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: inf})
	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
	assert.Empty(t, rep.Outcome.Excluded)
	assert.Len(t, rep.Measurements, 6)
	assert.Equal(t, 6, rep.Summary.Overall.Passed)
	inf.AssertNumberOfCalls(t, "ApplyMode", 2)
	inf.AssertNumberOfCalls(t, "Reset", 1)

	// Devices run one after another in roster order within each step.
	assert.Equal(t, []string{
		"a@5G/36/11a/n/ac", "b@5G/36/11a/n/ac", "c@5G/36/11a/n/ac",
		"a@5G/40/11a/n/ac", "b@5G/40/11a/n/ac", "c@5G/40/11a/n/ac",
	}, dom.calls)
	assert.Equal(t, e.Ports().Size(), e.Ports().Available())
	assert.Equal(t, map[results.CellStatus]int{results.CellPassed: 6}, rep.Table.Counts())
}

func TestSequentialDoesNotAllocatePorts(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	var e *Engine
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36"),
		exec: func(_ context.Context, sc StepContext) (float64, error) {
			assert.Empty(t, e.Ports().InUse(), "pool untouched in sequential mode")
			assert.Equal(t, DefaultFirstPort, sc.Port)
			return 100, nil
		},
	}
	e = newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	require.Len(t, rep.Measurements, 2)
	for _, m := range rep.Measurements {
		assert.Equal(t, DefaultFirstPort, m.Port)
	}
	for id, st := range rep.DeviceStates {
		assert.Zero(t, st.Port, id)
	}
}

func TestRecoveryTimeoutExcludesAfterThreshold(t *testing.T) {
	pool, dialer, devices := testFleet(t, "a")
	host := dialer.Host("a")

	// Every mode switch takes the device off the network for good.
	inf := &stubInfra{}
	inf.On("ApplyMode", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		host.SetReachable(false)
	}).Return(nil)
	inf.On("Reset", mock.Anything).Return(nil)

	dom := &fakeDomain{steps: testSteps(t, devices, "36", "40", "44", "48", "149")}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: inf})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)

	assert.Equal(t, model.RunCompletedWithExclusions, rep.Outcome.Status)
	assert.Equal(t, []string{"a"}, rep.Outcome.Excluded)
	require.Len(t, rep.Measurements, 3)
	for _, m := range rep.Measurements {
		assert.True(t, m.Failed)
		assert.Equal(t, KindRecoveryTimeout.String(), m.Kind)
		assert.Less(t, m.StepIndex, 3)
	}
	assert.Zero(t, dom.callCount(), "measurement never ran")
	inf.AssertNumberOfCalls(t, "ApplyMode", 3)

	st := rep.DeviceStates["a"]
	assert.True(t, st.Excluded)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, results.CellSkipped, rep.Table.Rows[4].Cells["a"].Status)
}

func TestParallelStragglerDoesNotBlockStep(t *testing.T) {
	pool, _, devices := testFleet(t, "fast", "slow")
	cfg := fastEngineConfig(Parallel)
	cfg.StepTimeout = 100 * time.Millisecond

	dom := &fakeDomain{
		steps: testSteps(t, devices, "36"),
		exec: func(ctx context.Context, sc StepContext) (float64, error) {
			if sc.Device.ID == "slow" {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 420, nil
		},
	}
	e := newTestEngine(t, cfg, Deps{Sessions: pool, Infra: newStubInfra()})

	start := time.Now()
	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	fast := rep.ByDevice("fast")
	require.Len(t, fast, 1)
	assert.False(t, fast[0].Failed)
	assert.Equal(t, 420.0, fast[0].Mbps)

	slow := rep.ByDevice("slow")
	require.Len(t, slow, 1)
	assert.True(t, slow[0].Failed)
	assert.Equal(t, KindCommandTimeout.String(), slow[0].Kind)
	assert.Contains(t, slow[0].Failure, "did not finish")

	// One failure is below the threshold.
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
	assert.Equal(t, 1, rep.DeviceStates["slow"].Failures)
	assert.Equal(t, e.Ports().Size(), e.Ports().Available())
}

func TestCancellationAbortsRun(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cancelled atomic.Bool
	inf := &stubInfra{}
	inf.On("ApplyMode", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		assert.False(t, cancelled.Load(), "ApplyMode after cancellation")
	}).Return(nil)

	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40", "44"),
		exec: func(ctx context.Context, sc StepContext) (float64, error) {
			if sc.Step.Index == 1 && sc.Device.ID == "a" {
				cancelled.Store(true)
				cancel()
				return 0, ctx.Err()
			}
			return 100, nil
		},
	}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: inf})

	rep, err := e.Run(ctx, dom)
	require.NoError(t, err)

	assert.Equal(t, model.RunAborted, rep.Outcome.Status)
	assert.Equal(t, "cancelled", rep.Outcome.Reason)
	inf.AssertNumberOfCalls(t, "ApplyMode", 2)
	inf.AssertNotCalled(t, "Reset", mock.Anything)

	// Step 0 for both devices; the cancelled invocation is not recorded.
	assert.Len(t, rep.Measurements, 2)
	for _, m := range rep.Measurements {
		assert.Equal(t, 0, m.StepIndex)
	}
	assert.Equal(t, e.Ports().Size(), e.Ports().Available())
}

func TestCancellationParallel(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cancelled atomic.Bool
	inf := &stubInfra{}
	inf.On("ApplyMode", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		assert.False(t, cancelled.Load(), "ApplyMode after cancellation")
	}).Return(nil)

	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40"),
		exec: func(ctx context.Context, sc StepContext) (float64, error) {
			if sc.Device.ID == "a" {
				cancelled.Store(true)
				cancel()
			}
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	e := newTestEngine(t, fastEngineConfig(Parallel), Deps{Sessions: pool, Infra: inf})

	start := time.Now()
	rep, err := e.Run(ctx, dom)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, model.RunAborted, rep.Outcome.Status)
	assert.Empty(t, rep.Measurements)
	inf.AssertNumberOfCalls(t, "ApplyMode", 1)
	assert.Empty(t, e.Ports().InUse())
}

// preparingDomain adds device setup and teardown to fakeDomain.
type preparingDomain struct {
	*fakeDomain
	finish func(id string)
}

func (d *preparingDomain) Prepare(context.Context, model.Device, *remote.Session) error {
	return nil
}

func (d *preparingDomain) Finish(_ context.Context, dev model.Device, _ *remote.Session) error {
	if d.finish != nil {
		d.finish(dev.ID)
	}
	return nil
}

func TestCancellationDuringTeardownAborts(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inf := newStubInfra()
	var finished []string
	dom := &preparingDomain{
		fakeDomain: &fakeDomain{steps: testSteps(t, devices, "36")},
		finish: func(id string) {
			finished = append(finished, id)
			cancel()
		},
	}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: inf})

	rep, err := e.Run(ctx, dom)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, finished, "teardown still covers every device")
	assert.Len(t, rep.Measurements, 2)
	assert.Equal(t, model.RunAborted, rep.Outcome.Status)
	assert.Equal(t, "cancelled", rep.Outcome.Reason)
	inf.AssertNotCalled(t, "Reset", mock.Anything)
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	pool, _, devices := testFleet(t, "a")
	// fail, fail, pass, fail, fail, pass
	pattern := []bool{false, false, true, false, false, true}
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40", "44", "48", "149", "153"),
		exec: func(_ context.Context, sc StepContext) (float64, error) {
			if pattern[sc.Step.Index] {
				return 50, nil
			}
			return 0, &agent.AgentCommandError{Device: "a", Module: "wifi", Command: "iperf", Message: "iperf3 not found"}
		},
	}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
	assert.Len(t, rep.Measurements, 6)
	assert.Equal(t, 4, rep.Summary.Overall.Failed)
	assert.Zero(t, rep.DeviceStates["a"].Failures)
	assert.Equal(t, KindAgentCommand.String(), rep.Measurements[0].Kind)
}

func TestExclusionIsMonotonic(t *testing.T) {
	pool, _, devices := testFleet(t, "good", "bad")
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40", "44", "48", "149", "153"),
		exec: func(_ context.Context, sc StepContext) (float64, error) {
			if sc.Device.ID == "bad" {
				return 0, &remote.CommandTimeoutError{Device: "bad", Command: "iperf", Timeout: time.Second}
			}
			return 300, nil
		},
	}
	for _, x := range []Execution{Sequential, Parallel} {
		t.Run(x.String(), func(t *testing.T) {
			dom.calls = nil
			e := newTestEngine(t, fastEngineConfig(x), Deps{Sessions: pool, Infra: newStubInfra()})
			rep, err := e.Run(context.Background(), dom)
			require.NoError(t, err)

			assert.Equal(t, model.RunCompletedWithExclusions, rep.Outcome.Status)
			assert.Equal(t, []string{"bad"}, rep.Outcome.Excluded)
			assert.Len(t, rep.ByDevice("bad"), 3)
			assert.Len(t, rep.ByDevice("good"), 6)
			for _, m := range rep.ByDevice("bad") {
				assert.Less(t, m.StepIndex, 3)
				assert.Equal(t, KindCommandTimeout.String(), m.Kind)
			}
			assert.LessOrEqual(t, rep.DeviceStates["bad"].Failures, 3)
		})
	}
}

func TestFatalDeviceExcludedImmediately(t *testing.T) {
	pool, dialer, devices := testFleet(t, "a", "locked")
	dialer.Host("locked").SetAuthFailure(true)

	dom := &fakeDomain{steps: testSteps(t, devices, "36", "40")}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompletedWithExclusions, rep.Outcome.Status)
	assert.Equal(t, []string{"locked"}, rep.Outcome.Excluded)
	assert.Empty(t, rep.ByDevice("locked"))
	assert.Len(t, rep.ByDevice("a"), 2)
	assert.Zero(t, rep.DeviceStates["locked"].Failures)
}

func TestSessionFailureMidRunExcludes(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40", "44"),
		exec: func(_ context.Context, sc StepContext) (float64, error) {
			if sc.Device.ID == "b" && sc.Step.Index == 0 {
				return 0, fmt.Errorf("%w: %w", remote.ErrSessionFailed, &remote.AuthenticationError{Device: "b"})
			}
			return 10, nil
		},
	}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rep.Outcome.Excluded)
	require.Len(t, rep.ByDevice("b"), 1)
	assert.Equal(t, KindFatalDevice.String(), rep.ByDevice("b")[0].Kind)
	assert.Len(t, rep.ByDevice("a"), 3)
}

func TestConfigurationApplyFailsStepOnly(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	steps := testSteps(t, devices, "36", "40", "44", "48")

	inf := &stubInfra{}
	for _, s := range steps[:3] {
		inf.On("ApplyMode", mock.Anything, s.Mode).Return(&infra.ConfigurationApplyError{Mode: s.Mode, Mismatch: []string{"channel"}})
	}
	inf.On("ApplyMode", mock.Anything, steps[3].Mode).Return(nil)
	inf.On("Reset", mock.Anything).Return(nil)

	for _, x := range []Execution{Sequential, Parallel} {
		t.Run(x.String(), func(t *testing.T) {
			dom := &fakeDomain{steps: steps}
			e := newTestEngine(t, fastEngineConfig(x), Deps{Sessions: pool, Infra: inf})
			rep, err := e.Run(context.Background(), dom)
			require.NoError(t, err)

			assert.Equal(t, model.RunCompleted, rep.Outcome.Status, "apply failures never exclude")
			assert.Len(t, rep.Measurements, 8)
			assert.Equal(t, 6, rep.Summary.Overall.Failed)
			assert.Equal(t, KindConfigurationApply.String(), rep.Measurements[0].Kind)
			assert.Equal(t, 2, dom.callCount(), "only the last step measured")
			assert.Zero(t, rep.DeviceStates["a"].Failures)
		})
	}
}

func TestParallelPortsAreUnique(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b", "c", "d")
	cfg := fastEngineConfig(Parallel)
	cfg.FirstPort, cfg.LastPort = 6000, 6003

	var (
		e          *Engine
		mu         sync.Mutex
		violations []string
		arrived    = map[int]int{}
		barriers   = map[int]chan struct{}{0: make(chan struct{}), 1: make(chan struct{})}
	)
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36", "40"),
		exec: func(ctx context.Context, sc StepContext) (float64, error) {
			// Hold every port at once before checking ownership.
			mu.Lock()
			arrived[sc.Step.Index]++
			if arrived[sc.Step.Index] == 4 {
				close(barriers[sc.Step.Index])
			}
			barrier := barriers[sc.Step.Index]
			mu.Unlock()

			select {
			case <-barrier:
			case <-ctx.Done():
				return 0, ctx.Err()
			}

			inUse := e.Ports().InUse()
			mu.Lock()
			if len(inUse) != 4 || inUse[sc.Port] != sc.Device.ID {
				violations = append(violations, sc.Device.ID)
			}
			mu.Unlock()
			return float64(sc.Port), nil
		},
	}
	e = newTestEngine(t, cfg, Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)

	for step := range 2 {
		ports := map[int]bool{}
		for _, m := range rep.Measurements {
			if m.StepIndex == step {
				assert.False(t, ports[m.Port], "port %d used twice in step %d", m.Port, step)
				ports[m.Port] = true
				assert.GreaterOrEqual(t, m.Port, 6000)
				assert.LessOrEqual(t, m.Port, 6003)
			}
		}
		assert.Len(t, ports, 4)
	}
	assert.Equal(t, 4, e.Ports().Available())
}

func TestParallelWorkersCappedByPorts(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b", "c")
	cfg := fastEngineConfig(Parallel)
	cfg.FirstPort, cfg.LastPort = 7000, 7001
	cfg.Workers = 10

	var running, peak atomic.Int32
	dom := &fakeDomain{
		steps: testSteps(t, devices, "36"),
		exec: func(context.Context, StepContext) (float64, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return 1, nil
		},
	}
	e := newTestEngine(t, cfg, Deps{Sessions: pool, Infra: newStubInfra()})
	assert.Equal(t, 2, e.Config().Workers)

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
	assert.Len(t, rep.Measurements, 3)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestResumeSkipsMeasuredPairs(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	steps := testSteps(t, devices, "36", "40")

	cfg := fastEngineConfig(Sequential)
	cfg.Resume = &Checkpoint{
		RunID: "previous",
		Measurements: []model.Measurement{
			{RunID: "previous", DeviceID: "a", StepIndex: 0, Mode: steps[0].Mode, Mbps: 321},
			{RunID: "previous", DeviceID: "b", StepIndex: 0, Mode: steps[0].Mode, Mbps: 123},
			{RunID: "previous", DeviceID: "a", StepIndex: 1, Mode: steps[1].Mode, Mbps: 111},
		},
	}
	inf := newStubInfra()
	dom := &fakeDomain{steps: steps}
	e := newTestEngine(t, cfg, Deps{Sessions: pool, Infra: inf})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, "previous", rep.ResumedFrom)
	assert.Equal(t, []string{"b@5G/40/11a/n/ac"}, dom.calls)
	inf.AssertNumberOfCalls(t, "ApplyMode", 1)

	require.Len(t, rep.Measurements, 4)
	resumed := 0
	for _, m := range rep.Measurements {
		assert.Equal(t, rep.RunID, m.RunID)
		if m.Resumed {
			resumed++
		}
	}
	assert.Equal(t, 3, resumed)
	assert.True(t, rep.Table.Rows[0].Cells["a"].Resumed)
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
}

func TestResumeIgnoresPairsOutsidePlan(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	steps := testSteps(t, devices, "36")
	other := testSteps(t, devices, "149")[0].Mode

	cfg := fastEngineConfig(Sequential)
	cfg.Resume = &Checkpoint{
		RunID: "previous",
		Measurements: []model.Measurement{
			{RunID: "previous", DeviceID: "a", Mode: steps[0].Mode, Mbps: 321},
			{RunID: "previous", DeviceID: "gone", Mode: steps[0].Mode, Mbps: 1},
			{RunID: "previous", DeviceID: "b", Mode: other, Mbps: 2},
		},
	}
	dom := &fakeDomain{steps: steps}
	e := newTestEngine(t, cfg, Deps{Sessions: pool, Infra: newStubInfra()})

	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@5G/36/11a/n/ac"}, dom.calls)
	require.Len(t, rep.Measurements, 2)
	assert.True(t, rep.Measurements[0].Resumed)
	assert.False(t, rep.Measurements[1].Resumed)
}

func TestJournalCheckpointRoundTrip(t *testing.T) {
	pool, _, devices := testFleet(t, "a", "b")
	steps := testSteps(t, devices, "36", "40", "44")
	path := filepath.Join(t.TempDir(), "run.fbj")

	fl, err := journal.NewFileLogger(path)
	require.NoError(t, err)

	// First run: b fails on step 1, then the run is cancelled in step 2.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dom := &fakeDomain{steps: steps, exec: func(ctx context.Context, sc StepContext) (float64, error) {
		switch {
		case sc.Step.Index == 1 && sc.Device.ID == "b":
			return 0, errors.New("iperf: connection refused")
		case sc.Step.Index == 2:
			cancel()
			return 0, ctx.Err()
		}
		return 200, nil
	}}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra(), Journal: fl})
	rep, err := e.Run(ctx, dom)
	require.NoError(t, err)
	require.Equal(t, model.RunAborted, rep.Outcome.Status)
	require.NoError(t, fl.Close())

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, cp.RunID)
	assert.Len(t, cp.Measurements, 3, "failed results are not carried over")
	assert.False(t, cp.Done()["b@5G/40/11a/n/ac"])

	// Second run resumes: b step 1 and both devices of step 2 run again.
	cfg := fastEngineConfig(Sequential)
	cfg.Resume = cp
	dom2 := &fakeDomain{steps: steps}
	e2 := newTestEngine(t, cfg, Deps{Sessions: pool, Infra: newStubInfra()})
	rep2, err := e2.Run(context.Background(), dom2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b@5G/40/11a/n/ac", "a@5G/44/11a/n/ac", "b@5G/44/11a/n/ac"}, dom2.calls)
	assert.Len(t, rep2.Measurements, 6)
	assert.Equal(t, model.RunCompleted, rep2.Outcome.Status)
}

func TestJournalEvents(t *testing.T) {
	pool, dialer, devices := testFleet(t, "a", "b")
	dialer.Host("b").SetAuthFailure(true)
	rec := &recordingJournal{}

	dom := &fakeDomain{steps: testSteps(t, devices, "36")}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Infra: newStubInfra(), Journal: rec})
	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)

	cats := rec.categories()
	assert.Equal(t, journal.CategoryRun, cats[0])
	assert.Equal(t, journal.CategoryRun, cats[len(cats)-1])
	assert.Contains(t, cats, journal.CategoryExclusion)
	assert.Contains(t, cats, journal.CategoryMode)
	assert.Contains(t, cats, journal.CategoryMeasurement)
	assert.Contains(t, cats, journal.CategoryState)

	end := rec.events()[len(cats)-1]
	require.NotNil(t, end.Run)
	assert.Equal(t, journal.RunPhaseEnd, end.Run.Phase)
	assert.Equal(t, rep.Outcome.Status.String(), end.Run.Status)
	for _, ev := range rec.events() {
		assert.Equal(t, rep.RunID, ev.RunID)
	}
}

func TestSinksReceiveMeasurements(t *testing.T) {
	pool, _, devices := testFleet(t, "a")
	var got []model.Measurement
	sink := results.SinkFunc(func(m model.Measurement) { got = append(got, m) })

	dom := &fakeDomain{steps: testSteps(t, devices, "36", "40")}
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool, Sinks: []results.Sink{sink}})
	rep, err := e.Run(context.Background(), dom)
	require.NoError(t, err)
	assert.Equal(t, rep.Measurements, got)
}

func TestBandSettleDelay(t *testing.T) {
	pool, _, devices := testFleet(t, "a")
	m := testMatrix("36")
	m.Bands = append(m.Bands, plan.BandPlan{
		Band: model.Band2G, Radio: "radio0", SSID: "lab-2g", Channels: []string{"6"},
		Standards: []string{"11b/g/n"}, Modes: map[string]map[string]string{"11b/g/n": {"htmode": "HT40"}},
	})
	steps, err := plan.Plan(m, devices)
	require.NoError(t, err)

	cfg := fastEngineConfig(Sequential)
	cfg.BandSettleDelay = 80 * time.Millisecond
	e := newTestEngine(t, cfg, Deps{Sessions: pool})

	start := time.Now()
	rep, err := e.Run(context.Background(), &fakeDomain{steps: steps})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, model.RunCompleted, rep.Outcome.Status)
}

func TestRunRejectsUnknownDevice(t *testing.T) {
	pool, _, _ := testFleet(t, "a")
	steps := testSteps(t, []model.Device{testDevice("ghost")}, "36")
	e := newTestEngine(t, fastEngineConfig(Sequential), Deps{Sessions: pool})

	_, err := e.Run(context.Background(), &fakeDomain{steps: steps})
	assert.ErrorIs(t, err, remote.ErrUnknownDevice)

	_, err = e.Run(context.Background(), &fakeDomain{})
	assert.ErrorIs(t, err, ErrNoSteps)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{}, Deps{})
	assert.Error(t, err)

	pool, _, _ := testFleet(t)
	_, err = NewEngine(Config{FirstPort: 10, LastPort: 5}, Deps{Sessions: pool})
	assert.Error(t, err)

	e, err := NewEngine(Config{}, Deps{Sessions: pool})
	require.NoError(t, err)
	assert.Equal(t, DefaultFailureThreshold, e.Config().FailureThreshold)
	assert.Equal(t, DefaultLastPort-DefaultFirstPort+1, e.Config().Workers)
}

// recordingJournal keeps every journal event.
type recordingJournal struct {
	mu  sync.Mutex
	evs []journal.Event
}

func (r *recordingJournal) Log(e journal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, e)
}

func (r *recordingJournal) events() []journal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]journal.Event(nil), r.evs...)
}

func (r *recordingJournal) categories() []journal.Category {
	var out []journal.Category
	for _, e := range r.events() {
		out = append(out, e.Category)
	}
	return out
}
