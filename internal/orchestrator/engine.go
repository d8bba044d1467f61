package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fleetbench/fleetbench-go/pkg/connection"
	journal "github.com/fleetbench/fleetbench-go/pkg/log"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/plan"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// Execution selects how devices run within a step.
type Execution uint8

const (
	// Sequential runs one device at a time.
	Sequential Execution = iota

	// Parallel runs every device of a step concurrently and waits for all
	// of them before the next step.
	Parallel
)

// String returns the execution name.
func (x Execution) String() string {
	switch x {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// ParseExecution parses "sequential" or "parallel".
func ParseExecution(s string) (Execution, error) {
	switch s {
	case "sequential", "":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	default:
		return 0, fmt.Errorf("orchestrator: unknown execution mode %q", s)
	}
}

// Engine defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 120 * time.Second
	DefaultStepTimeout      = 10 * time.Minute
	DefaultCleanupTimeout   = 30 * time.Second
)

// Config configures an Engine.
type Config struct {
	Execution Execution

	// FailureThreshold is the number of consecutive failures that
	// excludes a device.
	FailureThreshold int

	// RecoveryTimeout bounds each wait for a device to come back.
	RecoveryTimeout time.Duration

	// StepTimeout bounds one device's part of a step, recovery included.
	// A device that exceeds it fails the step without holding up others.
	StepTimeout time.Duration

	// Workers caps concurrent devices in parallel mode. It is never more
	// than the number of ports.
	Workers int

	FirstPort int
	LastPort  int

	// BandSettleDelay is waited before the first step of a new band.
	BandSettleDelay time.Duration

	// CleanupTimeout bounds the end-of-run teardown.
	CleanupTimeout time.Duration

	Thresholds results.Thresholds

	// RunID overrides the generated run ID.
	RunID string

	// Resume carries results over from an earlier run.
	Resume *Checkpoint
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Execution:        Sequential,
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		StepTimeout:      DefaultStepTimeout,
		FirstPort:        DefaultFirstPort,
		LastPort:         DefaultLastPort,
		CleanupTimeout:   DefaultCleanupTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.FirstPort == 0 && c.LastPort == 0 {
		c.FirstPort, c.LastPort = d.FirstPort, d.LastPort
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = d.CleanupTimeout
	}
	if c.Thresholds == nil {
		c.Thresholds = results.DefaultThresholds()
	}
}

// Sessions gives the engine access to device sessions. *remote.Pool
// implements it.
type Sessions interface {
	Session(deviceID string) (*remote.Session, error)
	Devices() []model.Device
	OnStateChange(fn remote.StateChangeFunc)
}

// Infrastructure switches the shared network between modes.
// *infra.Controller implements it.
type Infrastructure interface {
	ApplyMode(ctx context.Context, mode model.Mode) error
	Reset(ctx context.Context) error
}

// Deps are the collaborators of an Engine. Sessions is required.
type Deps struct {
	Sessions Sessions

	// Infra may be nil for domains that do not reconfigure anything.
	Infra Infrastructure

	// Deployer installs the agent before the first step when set.
	Deployer *Deployer

	// Sinks receive every measurement as it is recorded.
	Sinks []results.Sink

	Journal journal.Logger
	Logger  *slog.Logger
}

// Engine runs test plans. An engine runs one plan at a time.
type Engine struct {
	cfg   Config
	deps  Deps
	ports *PortPool

	mu      sync.Mutex
	running bool
	runID   string
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	cfg.applyDefaults()
	if deps.Sessions == nil {
		return nil, errors.New("orchestrator: no sessions")
	}
	ports, err := NewPortPool(cfg.FirstPort, cfg.LastPort)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 || cfg.Workers > ports.Size() {
		cfg.Workers = ports.Size()
	}
	if deps.Journal == nil {
		deps.Journal = journal.NoopLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{cfg: cfg, deps: deps, ports: ports}
	deps.Sessions.OnStateChange(e.onStateChange)
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Ports returns the port pool, for inspection.
func (e *Engine) Ports() *PortPool {
	return e.ports
}

// Run executes the domain's plan and returns the report. Device failures
// and cancellation are reported in the outcome, not as errors; an error
// means the run could not start.
func (e *Engine) Run(ctx context.Context, domain Domain) (*Report, error) {
	planned, err := domain.PlanSteps()
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if len(planned) == 0 {
		return nil, ErrNoSteps
	}

	r, err := e.newRun(domain, planned)
	if err != nil {
		return nil, err
	}
	if !e.begin(r.id) {
		return nil, ErrRunning
	}
	defer e.end()

	return r.execute(ctx), nil
}

func (e *Engine) begin(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	e.runID = runID
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.runID = ""
}

func (e *Engine) currentRun() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

func (e *Engine) onStateChange(deviceID string, from, to connection.State) {
	runID := e.currentRun()
	if runID == "" {
		return
	}
	e.deps.Journal.Log(journal.Event{
		Timestamp: time.Now(),
		RunID:     runID,
		Category:  journal.CategoryState,
		DeviceID:  deviceID,
		StepIndex: -1,
		StateChange: &journal.StateChangeEvent{
			Entity:   journal.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

// run is the state of one Run call.
type run struct {
	*Engine

	id      string
	domain  Domain
	planned []model.Step
	steps   []model.Step
	order   []string
	devices map[string]model.Device
	state   *runState
	agg     *results.Aggregator
	logger  *slog.Logger
	started time.Time

	prepared []string
	lastBand model.Band
	aborted  bool
	reason   string
}

func (e *Engine) newRun(domain Domain, planned []model.Step) (*run, error) {
	id := e.cfg.RunID
	if id == "" {
		id = uuid.NewString()
	}

	roster := make(map[string]model.Device)
	for _, d := range e.deps.Sessions.Devices() {
		roster[d.ID] = d
	}
	r := &run{
		Engine:  e,
		id:      id,
		domain:  domain,
		planned: planned,
		steps:   planned,
		devices: make(map[string]model.Device),
		logger:  e.deps.Logger.With("run", id),
	}
	for _, d := range e.deps.Sessions.Devices() {
		if slices.ContainsFunc(planned, func(s model.Step) bool { return s.Includes(d.ID) }) {
			r.order = append(r.order, d.ID)
			r.devices[d.ID] = d
		}
	}
	for _, s := range planned {
		for _, id := range s.Devices {
			if _, ok := roster[id]; !ok {
				return nil, fmt.Errorf("%w: step %d references %s", remote.ErrUnknownDevice, s.Index, id)
			}
		}
	}

	r.state = newRunState(r.order, e.cfg.FailureThreshold)
	r.agg = results.NewAggregator(e.cfg.Thresholds, r.logger)
	r.agg.Subscribe(results.SinkFunc(func(m model.Measurement) {
		e.deps.Journal.Log(journal.NewMeasurementEvent(m))
	}))
	for _, s := range e.deps.Sinks {
		r.agg.Subscribe(s)
	}
	return r, nil
}

func (r *run) execute(ctx context.Context) *Report {
	r.started = time.Now()
	resumedFrom := r.resume()

	r.logger.Info("run started", "domain", r.domain.Name(), "execution", r.cfg.Execution,
		"devices", len(r.order), "steps", len(r.steps), "switches", plan.Switches(r.steps))
	r.journal(journal.Event{
		Category:  journal.CategoryRun,
		StepIndex: -1,
		Run: &journal.RunEvent{
			Phase:       journal.RunPhaseStart,
			Execution:   r.cfg.Execution.String(),
			Devices:     r.order,
			Steps:       len(r.steps),
			ResumedFrom: resumedFrom,
		},
	})

	r.prepare(ctx)
	if ctx.Err() == nil {
		r.runSteps(ctx)
	}
	if ctx.Err() != nil {
		r.abort(ctx)
	}
	r.finish(ctx)

	outcome := r.outcome()
	finished := time.Now()
	r.logger.Info("run finished", "outcome", outcome, "elapsed", finished.Sub(r.started).Round(time.Millisecond))
	r.journal(journal.Event{
		Category:  journal.CategoryRun,
		StepIndex: -1,
		Run: &journal.RunEvent{
			Phase:    journal.RunPhaseEnd,
			Status:   outcome.Status.String(),
			Excluded: outcome.Excluded,
			Reason:   outcome.Reason,
			Duration: finished.Sub(r.started),
		},
	})

	return &Report{
		RunID:        r.id,
		Domain:       r.domain.Name(),
		Execution:    r.cfg.Execution,
		ResumedFrom:  resumedFrom,
		Started:      r.started,
		Finished:     finished,
		Outcome:      outcome,
		Devices:      slices.Clone(r.order),
		Steps:        r.planned,
		Measurements: r.agg.Results(),
		Summary:      r.agg.Summary(),
		Table:        r.agg.Table(r.planned, r.order),
		DeviceStates: r.state.snapshot(),
		Thresholds:   r.cfg.Thresholds,
	}
}

// resume re-records the checkpoint's results and drops the pairs they
// cover from the plan.
func (r *run) resume() string {
	cp := r.cfg.Resume
	if cp == nil || len(cp.Measurements) == 0 {
		return ""
	}

	byMode := make(map[string]model.Step, len(r.planned))
	for _, s := range r.planned {
		byMode[s.Mode.Key()] = s
	}
	carried := &Checkpoint{RunID: cp.RunID}
	for _, m := range cp.Measurements {
		s, ok := byMode[m.Mode.Key()]
		if !ok || !s.Includes(m.DeviceID) {
			continue
		}
		m.RunID = r.id
		m.StepIndex = s.Index
		m.Mode = s.Mode
		m.Resumed = true
		if err := r.agg.Record(m); err != nil {
			r.logger.Warn("skipping resumed result", "device", m.DeviceID, "error", err)
			continue
		}
		carried.Measurements = append(carried.Measurements, m)
	}
	r.steps = plan.Skip(r.planned, carried.Done())
	r.logger.Info("resuming", "from", cp.RunID, "carried", len(carried.Measurements), "steps", len(r.steps))
	return cp.RunID
}

// prepare connects every device, deploys the agent and runs the domain's
// Prepare hook. Devices that fail fatally are excluded before step one.
func (r *run) prepare(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	var mu sync.Mutex
	for _, id := range r.order {
		g.Go(func() error {
			if r.prepareDevice(gctx, id) {
				mu.Lock()
				r.prepared = append(r.prepared, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Keep roster order for Finish.
	slices.SortFunc(r.prepared, func(a, b string) int {
		return slices.Index(r.order, a) - slices.Index(r.order, b)
	})
}

func (r *run) prepareDevice(ctx context.Context, id string) bool {
	dev := r.devices[id]
	sess, err := r.deps.Sessions.Session(id)
	if err == nil {
		err = sess.Connect(ctx)
	}
	if err == nil && r.deps.Deployer != nil {
		err = r.deps.Deployer.Deploy(ctx, sess)
	}
	if err != nil {
		if ctx.Err() == nil {
			r.excludeNow(id, -1, err)
		}
		return false
	}

	if p, ok := r.domain.(Preparer); ok {
		if err := p.Prepare(ctx, dev, sess); err != nil {
			if Classify(err) == KindFatalDevice {
				r.excludeNow(id, -1, err)
				return false
			}
			r.logger.Warn("prepare failed", "device", id, "error", err)
		}
	}
	return true
}

func (r *run) runSteps(ctx context.Context) {
	for _, step := range r.steps {
		if ctx.Err() != nil {
			return
		}
		if r.state.allExcluded() {
			r.logger.Warn("every device is excluded, skipping remaining steps")
			return
		}
		active := r.state.active(step.Devices)
		if len(active) == 0 {
			continue
		}
		if err := r.settle(ctx, step); err != nil {
			return
		}

		r.logger.Info("step", "step", step.Index, "mode", step.Mode.Key(), "devices", len(active))
		switch r.cfg.Execution {
		case Parallel:
			r.parallelStep(ctx, step, active)
		default:
			r.sequentialStep(ctx, step, active)
		}
	}
}

// settle waits BandSettleDelay when the band changes between steps.
func (r *run) settle(ctx context.Context, step model.Step) error {
	prev := r.lastBand
	r.lastBand = step.Mode.Band
	if prev == "" || prev == step.Mode.Band || r.cfg.BandSettleDelay <= 0 {
		return nil
	}
	r.logger.Info("band changed, settling", "from", prev, "to", step.Mode.Band, "delay", r.cfg.BandSettleDelay)
	return connection.Sleep(ctx, r.cfg.BandSettleDelay)
}

// sequentialStep applies the mode before the first device that needs it
// and measures devices one at a time.
func (r *run) sequentialStep(ctx context.Context, step model.Step, active []string) {
	applied := false
	for i, id := range active {
		if ctx.Err() != nil {
			return
		}
		if !applied {
			if err := r.applyMode(ctx, step); err != nil {
				if ctx.Err() == nil {
					r.failStep(step, active[i:], err)
				}
				return
			}
			applied = true
		}

		// One stream at a time; the first pool port is always free.
		m, err := r.invoke(ctx, step, id, r.cfg.FirstPort)
		if Classify(err) == KindCancelled {
			return
		}
		r.settleDevice(step, m, err)
	}
}

// parallelStep applies the mode once, then measures every device
// concurrently. The step ends when every worker has returned.
func (r *run) parallelStep(ctx context.Context, step model.Step, active []string) {
	if err := r.applyMode(ctx, step); err != nil {
		if ctx.Err() == nil {
			r.failStep(step, active, err)
		}
		return
	}

	type outcome struct {
		m   model.Measurement
		err error
	}
	outcomes := make([]outcome, len(active))

	// A plain group: one device failing must not cancel the others.
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, id := range active {
		g.Go(func() error {
			m, err := r.invokeWithPort(ctx, step, id)
			outcomes[i] = outcome{m: m, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if Classify(o.err) == KindCancelled {
			continue
		}
		r.settleDevice(step, o.m, o.err)
	}
}

// invokeWithPort holds a pool port for one parallel worker around invoke.
// The port is released on every path.
func (r *run) invokeWithPort(ctx context.Context, step model.Step, id string) (model.Measurement, error) {
	port, err := r.ports.Acquire(id)
	if err != nil {
		return model.Measurement{
			RunID: r.id, DeviceID: id, StepIndex: step.Index, Mode: step.Mode, Timestamp: time.Now(),
		}, err
	}
	r.state.setPort(id, port)
	defer func() {
		r.state.setPort(id, 0)
		r.ports.Release(port)
	}()
	return r.invoke(ctx, step, id, port)
}

// invoke runs one device's part of a step on port: wait for the session,
// then measure.
func (r *run) invoke(ctx context.Context, step model.Step, id string, port int) (model.Measurement, error) {
	dev := r.devices[id]
	m := model.Measurement{RunID: r.id, DeviceID: id, StepIndex: step.Index, Mode: step.Mode, Port: port}

	sess, err := r.deps.Sessions.Session(id)
	if err != nil {
		m.Timestamp = time.Now()
		return m, err
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
	defer cancel()
	// A straggler may be blocked inside a command; dropping its transport
	// makes it return.
	stop := context.AfterFunc(sctx, func() {
		if ctx.Err() == nil {
			sess.Interrupt()
		}
	})
	defer stop()

	mbps, err := r.measure(sctx, step, dev, sess, port)
	m.Timestamp = time.Now()
	switch {
	case ctx.Err() != nil:
		return m, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded):
		return m, &StepTimeoutError{Device: id, Timeout: r.cfg.StepTimeout}
	case err != nil:
		return m, err
	}
	m.Mbps = mbps
	return m, nil
}

func (r *run) measure(ctx context.Context, step model.Step, dev model.Device, sess *remote.Session, port int) (float64, error) {
	if err := sess.WaitForRecovery(ctx, r.cfg.RecoveryTimeout); err != nil {
		return 0, err
	}
	return r.domain.ExecuteStep(ctx, StepContext{
		RunID:           r.id,
		Step:            step,
		Device:          dev,
		Session:         sess,
		Port:            port,
		RecoveryTimeout: r.cfg.RecoveryTimeout,
	})
}

// settleDevice records one outcome and updates the failure table.
func (r *run) settleDevice(step model.Step, m model.Measurement, err error) {
	if err == nil {
		r.record(m)
		r.state.succeed(m.DeviceID)
		return
	}

	kind := Classify(err)
	m.Failed = true
	m.Failure = err.Error()
	m.Kind = kind.String()
	r.record(m)

	switch {
	case kind == KindFatalDevice:
		r.excludeNow(m.DeviceID, step.Index, err)
	case kind.Counts():
		reason := fmt.Sprintf("%d consecutive failures, last: %v", r.cfg.FailureThreshold, err)
		if r.state.fail(m.DeviceID, reason) {
			r.excluded(m.DeviceID, step.Index, reason)
		}
	}
}

// failStep records a failure for every device of a step whose mode could
// not be applied. Counters are left alone: the devices did nothing wrong.
func (r *run) failStep(step model.Step, ids []string, err error) {
	r.logger.Error("mode not applied, skipping step", "step", step.Index, "mode", step.Mode.Key(), "error", err)
	now := time.Now()
	for _, id := range ids {
		r.record(model.Measurement{
			RunID:     r.id,
			DeviceID:  id,
			StepIndex: step.Index,
			Mode:      step.Mode,
			Failed:    true,
			Failure:   err.Error(),
			Kind:      Classify(err).String(),
			Timestamp: now,
		})
	}
}

func (r *run) applyMode(ctx context.Context, step model.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.deps.Infra == nil {
		return nil
	}

	start := time.Now()
	err := r.deps.Infra.ApplyMode(ctx, step.Mode)
	ev := &journal.ModeEvent{Mode: journal.NewModeRef(step.Mode), Result: journal.ModeApplied, Duration: time.Since(start)}
	if err != nil {
		ev.Result = journal.ModeFailed
		ev.Error = err.Error()
	}
	r.journal(journal.Event{Category: journal.CategoryMode, StepIndex: step.Index, Mode: ev})
	return err
}

func (r *run) record(m model.Measurement) {
	if err := r.agg.Record(m); err != nil {
		r.logger.Error("result not recorded", "device", m.DeviceID, "step", m.StepIndex, "error", err)
	}
}

func (r *run) excludeNow(id string, step int, err error) {
	reason := err.Error()
	if r.state.exclude(id, reason) {
		r.excluded(id, step, reason)
	}
}

func (r *run) excluded(id string, step int, reason string) {
	failures := r.state.snapshot()[id].Failures
	r.logger.Warn("device excluded", "device", id, "step", step, "failures", failures, "reason", reason)
	r.journal(journal.Event{
		Category:  journal.CategoryExclusion,
		DeviceID:  id,
		StepIndex: step,
		Exclusion: &journal.ExclusionEvent{Failures: failures, Reason: reason},
	})
}

func (r *run) abort(ctx context.Context) {
	r.aborted = true
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) {
		r.reason = "cancelled"
	} else {
		r.reason = cause.Error()
	}
	r.logger.Warn("run aborted", "reason", r.reason)
}

// finish tears devices down and, unless the run was aborted, resets the
// infrastructure to its defaults. It runs on a context detached from the
// run so it still happens after cancellation.
func (r *run) finish(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CleanupTimeout)
	defer cancel()

	if p, ok := r.domain.(Preparer); ok {
		for _, id := range r.prepared {
			sess, err := r.deps.Sessions.Session(id)
			if err != nil || sess.State().Terminal() {
				continue
			}
			if err := p.Finish(cctx, r.devices[id], sess); err != nil {
				r.logger.Warn("finish failed", "device", id, "error", err)
			}
		}
	}

	// Cancellation during teardown still aborts the run.
	if !r.aborted && ctx.Err() != nil {
		r.abort(ctx)
	}
	if r.aborted || r.deps.Infra == nil {
		return
	}
	err := r.deps.Infra.Reset(cctx)
	ev := &journal.ModeEvent{Result: journal.ModeReset}
	if err != nil {
		ev.Error = err.Error()
		r.logger.Warn("infrastructure reset failed", "error", err)
	}
	r.journal(journal.Event{Category: journal.CategoryMode, StepIndex: -1, Mode: ev})
}

func (r *run) outcome() model.Outcome {
	excluded := r.state.excludedIDs()
	switch {
	case r.aborted:
		return model.Outcome{Status: model.RunAborted, Excluded: excluded, Reason: r.reason}
	case len(excluded) > 0:
		return model.Outcome{Status: model.RunCompletedWithExclusions, Excluded: excluded}
	default:
		return model.Outcome{Status: model.RunCompleted}
	}
}

func (r *run) journal(ev journal.Event) {
	ev.Timestamp = time.Now()
	ev.RunID = r.id
	r.deps.Journal.Log(ev)
}
