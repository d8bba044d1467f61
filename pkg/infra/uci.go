package infra

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// UCIConfig configures a UCIAdapter.
type UCIConfig struct {
	// Package is the uci package holding radio sections. Default "wireless".
	Package string

	// ReloadCommand reloads the radios. Default "wifi reload".
	ReloadCommand string

	// Optional keys are deleted when a mode does not set them.
	Optional []string

	CommandTimeout time.Duration

	// RecoveryWait bounds how long a dropped control link may take to
	// come back before an apply is retried.
	RecoveryWait time.Duration
}

// DefaultUCIConfig returns the OpenWrt defaults.
func DefaultUCIConfig() UCIConfig {
	return UCIConfig{
		Package:        "wireless",
		ReloadCommand:  "wifi reload",
		Optional:       []string{"require_mode", "legacy_rates"},
		CommandTimeout: 30 * time.Second,
		RecoveryWait:   60 * time.Second,
	}
}

// UCIAdapter configures OpenWrt radios with uci over a remote session.
// The session is dedicated to the adapter.
type UCIAdapter struct {
	session *remote.Session
	cfg     UCIConfig
	logger  *slog.Logger
}

var _ Adapter = (*UCIAdapter)(nil)

// NewUCIAdapter creates an adapter over session.
func NewUCIAdapter(session *remote.Session, cfg UCIConfig, logger *slog.Logger) *UCIAdapter {
	d := DefaultUCIConfig()
	if cfg.Package == "" {
		cfg.Package = d.Package
	}
	if cfg.ReloadCommand == "" {
		cfg.ReloadCommand = d.ReloadCommand
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = d.CommandTimeout
	}
	if cfg.RecoveryWait <= 0 {
		cfg.RecoveryWait = d.RecoveryWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UCIAdapter{session: session, cfg: cfg, logger: logger}
}

// Settings returns channel plus every mode parameter. Optional keys the
// mode does not set map to "" so they are deleted.
func (a *UCIAdapter) Settings(mode model.Mode) Settings {
	s := Settings{"channel": mode.Channel}
	for _, k := range a.cfg.Optional {
		s[k] = ""
	}
	maps.Copy(s, mode.Params)
	return s
}

// Apply writes changes with uci, commits and reloads the radios.
func (a *UCIAdapter) Apply(ctx context.Context, mode model.Mode, changes Settings) error {
	if mode.Radio == "" {
		return fmt.Errorf("mode %s has no radio", mode.Key())
	}

	var cmds []string
	for _, k := range slices.Sorted(maps.Keys(changes)) {
		opt := a.option(mode.Radio, k)
		if v := changes[k]; v == "" {
			cmds = append(cmds, fmt.Sprintf("(uci -q delete %s || true)", opt))
		} else {
			cmds = append(cmds, fmt.Sprintf("uci set %s=%s", opt, shellQuote(v)))
		}
	}
	cmds = append(cmds, "uci commit "+a.cfg.Package, a.cfg.ReloadCommand)
	script := strings.Join(cmds, " && ")

	_, err := a.run(ctx, script)
	return err
}

// Current reads the active values in one round trip.
func (a *UCIAdapter) Current(ctx context.Context, mode model.Mode, keys []string) (Settings, error) {
	if mode.Radio == "" {
		return nil, fmt.Errorf("mode %s has no radio", mode.Key())
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`echo "%s=$(uci -q get %s)"`, k, a.option(mode.Radio, k)))
	}
	out, err := a.run(ctx, strings.Join(parts, "; "))
	if err != nil {
		return nil, err
	}

	got := Settings{}
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && slices.Contains(keys, k) {
			got[k] = v
		}
	}
	return got, nil
}

// Close closes the session.
func (a *UCIAdapter) Close() error {
	return a.session.Close()
}

// run executes cmd, recovering the control link once if it dropped.
func (a *UCIAdapter) run(ctx context.Context, cmd string) (string, error) {
	policy := connection.RetryPolicy{MaxAttempts: 2, Initial: time.Millisecond, Max: time.Millisecond}
	var out string
	err := policy.Do(ctx, remote.IsTransient, func(attempt int) error {
		if attempt > 1 || a.session.State() != connection.StateConnected {
			if err := a.session.WaitForRecovery(ctx, a.cfg.RecoveryWait); err != nil {
				return err
			}
		}
		res, err := a.session.Execute(ctx, cmd, a.cfg.CommandTimeout)
		if err != nil {
			a.logger.Debug("uci command failed", "attempt", attempt, "error", err)
			return err
		}
		if !res.OK() {
			return fmt.Errorf("exit status %d: %s", res.ExitStatus, res.Output())
		}
		out = res.Stdout
		return nil
	})
	return out, err
}

func (a *UCIAdapter) option(radio, key string) string {
	return a.cfg.Package + "." + radio + "." + key
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
