package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetbench/fleetbench-go/internal/config"
	"github.com/fleetbench/fleetbench-go/internal/orchestrator"
	"github.com/fleetbench/fleetbench-go/internal/reporter"
	"github.com/fleetbench/fleetbench-go/internal/store"
	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/discovery"
	"github.com/fleetbench/fleetbench-go/pkg/infra"
	journal "github.com/fleetbench/fleetbench-go/pkg/log"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// options are the command-line settings that are not in the config file.
type options struct {
	// Parallel overrides the configured execution mode.
	Parallel bool

	// Resume is a journal whose last run is carried over.
	Resume string

	Format  string
	Verbose bool
	Output  io.Writer
}

// runner wires the configured components together for one run.
type runner struct {
	cfg    *config.Config
	opts   options
	dialer remote.Dialer
	logger *slog.Logger

	// discover replaces mDNS discovery in tests.
	discover discovery.Discoverer
}

// resolveDevices merges the roster file and discovered agents into the
// configured devices.
func (r *runner) resolveDevices(ctx context.Context) error {
	if r.cfg.Roster != "" {
		devs, err := discovery.LoadRoster(r.cfg.Roster)
		if err != nil {
			return err
		}
		r.cfg.MergeDevices(devs)
	}
	if r.cfg.Discovery.MDNS {
		d := r.discover
		if d == nil {
			d = discovery.NewMDNSDiscoverer(r.cfg.MDNSConfig(), r.logger.With("component", "discovery"))
		}
		found, err := d.Discover(ctx)
		switch {
		case errors.Is(err, discovery.ErrNoDevices) && len(r.cfg.Devices) > 0:
			r.logger.Warn("no agents announced; using configured devices")
		case err != nil:
			return fmt.Errorf("discovery: %w", err)
		default:
			r.cfg.MergeDevices(found)
		}
	}
	if len(r.cfg.Devices) == 0 {
		return discovery.ErrNoDevices
	}
	return nil
}

// watch starts keepalive over the device sessions and the router session
// when enabled. The returned func stops the router monitor; the pool's stops
// with the pool.
func (r *runner) watch(ctx context.Context, pool *remote.Pool, router *remote.Session) func() {
	if !r.cfg.KeepAlive.Enabled {
		return func() {}
	}
	pool.StartKeepalive(ctx, r.cfg.KeepAliveConfig())
	ka := remote.NewKeepAlive(r.cfg.KeepAliveConfig(), func() []*remote.Session {
		return []*remote.Session{router}
	}, r.logger.With("component", "router"))
	ka.Start(ctx)
	return ka.Stop
}

// run executes one test run and returns its report. The returned report
// is nil only when the run could not start.
func (r *runner) run(ctx context.Context) (*orchestrator.Report, error) {
	if err := r.resolveDevices(ctx); err != nil {
		return nil, err
	}
	if r.opts.Parallel {
		r.cfg.Execution = orchestrator.Parallel.String()
	}
	ecfg := r.cfg.EngineConfig()
	ecfg.RunID = uuid.NewString()

	if r.opts.Resume != "" {
		cp, err := orchestrator.LoadCheckpoint(r.opts.Resume)
		if err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		ecfg.Resume = cp
		r.logger.Info("resuming run", "from", cp.RunID, "carried", len(cp.Measurements))
	}

	pool := remote.NewPool(r.dialer, r.cfg.SessionConfig(), r.logger.With("component", "remote"))
	defer pool.Close()
	for _, dev := range r.cfg.Devices {
		if err := pool.Add(dev); err != nil {
			return nil, err
		}
	}

	router := remote.NewSession(r.cfg.Infrastructure.Router, r.dialer, r.cfg.SessionConfig(), r.logger.With("component", "router"))
	if err := router.Connect(ctx); err != nil {
		router.Close()
		return nil, fmt.Errorf("router: %w", err)
	}
	ctrl := infra.NewController(infra.NewUCIAdapter(router, r.cfg.UCIConfig(), r.logger), r.cfg.InfraConfig(), r.logger.With("component", "infra"))
	defer ctrl.Close()
	defer r.watch(ctx, pool, router)()

	reg, err := agent.NewRegistry(agent.WiFiModule{})
	if err != nil {
		return nil, err
	}
	client := agent.NewClient(pool, reg, r.cfg.ClientConfig(), r.logger.With("component", "agent"))
	domain := &orchestrator.WiFiDomain{
		Matrix:  r.cfg.Matrix,
		Devices: r.cfg.Devices,
		WiFi: agent.WiFi{
			Client:       client,
			IperfTimeout: r.cfg.Timeouts.Iperf,
			Server:       r.cfg.Agent.Server,
		},
		Retry:          r.cfg.Retry,
		ForgetOnFinish: r.cfg.Agent.ForgetNetworks,
		Logger:         r.logger,
	}

	rep, err := reporter.New(r.opts.Format, r.opts.Output, r.opts.Verbose)
	if err != nil {
		return nil, err
	}
	deps := orchestrator.Deps{
		Sessions: pool,
		Infra:    ctrl,
		Sinks:    []results.Sink{reporter.Sink(rep)},
		Logger:   r.logger,
	}
	if r.cfg.Agent.LocalDir != "" {
		deps.Deployer = &orchestrator.Deployer{
			LocalDir:        r.cfg.Agent.LocalDir,
			WorkDirs:        r.cfg.ClientConfig(),
			Retry:           r.cfg.Retry,
			RecoveryTimeout: r.cfg.Timeouts.Recovery,
			Logger:          r.logger,
		}
	}

	loggers := []journal.Logger{}
	if r.opts.Verbose {
		loggers = append(loggers, journal.NewSlogAdapter(r.logger.With("component", "journal")))
	}
	if r.cfg.Journal != "" {
		fl, err := journal.NewFileLogger(r.cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		defer func() {
			if n := fl.WriteErrors(); n > 0 {
				r.logger.Warn("journal write errors", "count", n)
			}
			fl.Close()
		}()
		loggers = append(loggers, fl)
	}
	if len(loggers) > 0 {
		deps.Journal = journal.NewMultiLogger(loggers...)
	}

	var db *store.Store
	if r.cfg.Store != "" {
		db, err = store.NewStore(r.cfg.Store)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		deps.Sinks = append(deps.Sinks, db.Sink(r.logger))
	}

	engine, err := orchestrator.NewEngine(ecfg, deps)
	if err != nil {
		return nil, err
	}

	if db != nil {
		started := time.Now()
		run := &store.Run{
			ID:        ecfg.RunID,
			Domain:    domain.Name(),
			Execution: ecfg.Execution.String(),
			StartedAt: &started,
		}
		if ecfg.Resume != nil {
			run.ResumedFrom = ecfg.Resume.RunID
		}
		if err := db.CreateRun(run); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	report, err := engine.Run(ctx, domain)
	r.logger.Debug("access point reloads", "count", ctrl.Reloads())
	if err != nil {
		if db != nil {
			if derr := db.DeleteRun(ecfg.RunID); derr != nil {
				r.logger.Error("store cleanup", "error", derr)
			}
		}
		return nil, err
	}

	if db != nil {
		counts := report.Table.Counts()
		err := db.FinishRun(report.RunID, report.Outcome, store.Counts{
			Passed:  counts[results.CellPassed],
			Failed:  counts[results.CellFailed],
			Skipped: counts[results.CellSkipped],
		}, report.Finished)
		if err != nil {
			r.logger.Error("store run", "run", report.RunID, "error", err)
		}
	}
	rep.ReportRun(report)
	return report, nil
}

// exitCode maps a report to the process exit status: 0 when every cell
// passed, 1 when some failed, 2 when the run was aborted.
func exitCode(report *orchestrator.Report) int {
	if report.Outcome.Status == model.RunAborted {
		return 2
	}
	if report.Table.Counts()[results.CellFailed] > 0 || report.Outcome.Status != model.RunCompleted {
		return 1
	}
	return 0
}

// printHistory writes the most recent runs of the store.
func printHistory(w io.Writer, path string, limit int) error {
	db, err := store.NewStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(limit, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-19s  %-10s  %-26s  %6s  %6s  %6s\n", "RUN", "STARTED", "EXECUTION", "STATUS", "PASS", "FAIL", "SKIP")
	for _, run := range runs {
		started := "-"
		if run.StartedAt != nil {
			started = run.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-36s  %-19s  %-10s  %-26s  %6d  %6d  %6d\n",
			run.ID, started, run.Execution, run.Status, run.Passed, run.Failed, run.Skipped)
		if run.ResumedFrom != "" {
			fmt.Fprintf(w, "  resumed from %s\n", run.ResumedFrom)
		}
	}
	return nil
}
