package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/plan"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// WiFiDomain measures wireless throughput: in every step each device
// joins the band's network and runs iperf against the measurement server.
type WiFiDomain struct {
	Matrix  plan.Matrix
	Devices []model.Device
	WiFi    agent.WiFi

	// Retry bounds attempts of one agent command after a link drop.
	Retry connection.RetryPolicy

	// ForgetOnFinish removes the test network profiles at the end.
	ForgetOnFinish bool

	Logger *slog.Logger
}

var (
	_ Domain   = (*WiFiDomain)(nil)
	_ Preparer = (*WiFiDomain)(nil)
)

// Name implements Domain.
func (d *WiFiDomain) Name() string { return agent.WiFiModuleName }

// PlanSteps implements Domain.
func (d *WiFiDomain) PlanSteps() ([]model.Step, error) {
	return plan.Plan(d.Matrix, d.Devices)
}

// ExecuteStep joins the band's network and measures throughput on the
// step's port. Joining moves the device's link, so the session is
// recovered before iperf runs.
func (d *WiFiDomain) ExecuteStep(ctx context.Context, sc StepContext) (float64, error) {
	bp, ok := d.Matrix.Band(sc.Step.Mode.Band)
	if !ok {
		return 0, fmt.Errorf("no network configured for band %s", sc.Step.Mode.Band)
	}

	err := d.retry(ctx, sc, func() error {
		return d.WiFi.Connect(ctx, sc.Device, bp.SSID, bp.Password)
	})
	if err != nil {
		return 0, err
	}
	if err := sc.Session.WaitForRecovery(ctx, sc.RecoveryTimeout); err != nil {
		return 0, err
	}

	var report agent.ThroughputReport
	err = d.retry(ctx, sc, func() error {
		var err error
		report, err = d.WiFi.Throughput(ctx, sc.Device, sc.Port)
		return err
	})
	if err != nil {
		return 0, err
	}
	d.logger().Debug("throughput", "device", sc.Device.ID, "step", sc.Step.Index, "port", sc.Port, "mbps", report.Mbps)
	return report.Mbps, nil
}

// Prepare keeps the device awake for the run.
func (d *WiFiDomain) Prepare(ctx context.Context, dev model.Device, _ *remote.Session) error {
	return d.WiFi.PreventSleep(ctx, dev)
}

// Finish restores the power policy and optionally forgets the networks.
func (d *WiFiDomain) Finish(ctx context.Context, dev model.Device, sess *remote.Session) error {
	if sess.State() != connection.StateConnected {
		if err := sess.WaitForRecovery(ctx, 0); err != nil {
			return err
		}
	}
	err := d.WiFi.AllowSleep(ctx, dev)
	if d.ForgetOnFinish {
		err = errors.Join(err, d.WiFi.Forget(ctx, dev))
	}
	return err
}

// retry runs fn, recovering the session before each further attempt when
// the link dropped underneath it.
func (d *WiFiDomain) retry(ctx context.Context, sc StepContext, fn func() error) error {
	policy := d.Retry
	if policy.MaxAttempts == 0 {
		policy = connection.RetryPolicy{MaxAttempts: 2, Initial: time.Second, Max: time.Second}
	}
	return policy.Do(ctx, remote.IsTransient, func(attempt int) error {
		if attempt > 1 {
			if err := sc.Session.WaitForRecovery(ctx, sc.RecoveryTimeout); err != nil {
				return err
			}
		}
		return fn()
	})
}

func (d *WiFiDomain) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
