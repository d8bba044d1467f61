package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/agent"
	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// Deployer installs the agent bundle on devices.
type Deployer struct {
	// LocalDir is the agent bundle on this machine.
	LocalDir string

	// WorkDirs resolves the target directory per OS class.
	WorkDirs agent.ClientConfig

	// Retry bounds attempts after a transient link error.
	Retry connection.RetryPolicy

	// RecoveryTimeout bounds the wait for the link between attempts.
	RecoveryTimeout time.Duration

	Logger *slog.Logger
}

// Deploy pushes the bundle through sess, overwriting any previous copy.
// Every failure is returned as a *DeploymentError.
func (d *Deployer) Deploy(ctx context.Context, sess *remote.Session) error {
	dev := sess.Device()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(d.LocalDir); err != nil {
		return &DeploymentError{Device: dev.ID, Err: err}
	}
	target := d.WorkDirs.WorkDir(dev.OS)

	policy := d.Retry
	if policy.MaxAttempts == 0 {
		policy = connection.RetryPolicy{MaxAttempts: 2, Initial: time.Second, Max: time.Second}
	}
	err := policy.Do(ctx, remote.IsTransient, func(attempt int) error {
		if attempt > 1 {
			if err := sess.WaitForRecovery(ctx, d.RecoveryTimeout); err != nil {
				return err
			}
		}
		return sess.Push(ctx, d.LocalDir, target)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &DeploymentError{Device: dev.ID, Err: fmt.Errorf("push to %s: %w", target, err)}
	}
	logger.Info("agent deployed", "device", dev.ID, "dir", target)
	return nil
}
