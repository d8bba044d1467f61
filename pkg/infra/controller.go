package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Settings maps adapter keys to values. An empty value means the key must
// be absent.
type Settings map[string]string

// Adapter talks to one kind of infrastructure device.
type Adapter interface {
	// Settings returns the full set of keys mode requires.
	Settings(mode model.Mode) Settings

	// Apply writes changes and reloads the affected service.
	Apply(ctx context.Context, mode model.Mode, changes Settings) error

	// Current reads back the active values of keys. Absent keys map to "".
	Current(ctx context.Context, mode model.Mode, keys []string) (Settings, error)

	Close() error
}

// Verification defaults.
const (
	DefaultVerifyTimeout  = 60 * time.Second
	DefaultVerifyInterval = 4 * time.Second
)

// Config configures a Controller.
type Config struct {
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration

	// Defaults are applied by Reset at the end of a run.
	Defaults []model.Mode
}

// Controller applies modes through an Adapter and remembers what is
// active, so reapplying the same mode costs nothing.
type Controller struct {
	adapter Adapter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	last    map[model.Band]model.Mode
	applied map[model.Band]Settings
	reloads int
}

// NewController creates a Controller.
func NewController(adapter Adapter, cfg Config, logger *slog.Logger) *Controller {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = DefaultVerifyInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		adapter: adapter,
		cfg:     cfg,
		logger:  logger,
		last:    make(map[model.Band]model.Mode),
		applied: make(map[model.Band]Settings),
	}
}

// ApplyMode makes mode active. Only keys that differ from the last
// applied settings of the band are written. Reapplying the active mode
// is a no-op.
func (c *Controller) ApplyMode(ctx context.Context, mode model.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if last, ok := c.last[mode.Band]; ok && last.Equal(mode) {
		c.logger.Debug("mode already active", "mode", mode.Key())
		return nil
	}

	want := c.adapter.Settings(mode)
	changes := diff(c.applied[mode.Band], want)
	if len(changes) == 0 {
		c.last[mode.Band] = mode
		return nil
	}

	c.logger.Info("applying mode", "mode", mode.Key(), "changes", len(changes))
	c.reloads++
	if err := c.adapter.Apply(ctx, mode, changes); err != nil {
		c.forget(mode.Band)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConfigurationApplyError{Mode: mode, Err: err}
	}

	if err := c.verify(ctx, mode, want); err != nil {
		c.forget(mode.Band)
		return err
	}

	c.applied[mode.Band] = want
	c.last[mode.Band] = mode
	return nil
}

// LastApplied returns the mode most recently verified on band.
func (c *Controller) LastApplied(band model.Band) (model.Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.last[band]
	return m, ok
}

// Reloads returns how many times the adapter was asked to apply changes.
func (c *Controller) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

// Reset applies the configured default modes. All defaults are attempted
// even if one fails.
func (c *Controller) Reset(ctx context.Context) error {
	var errs []error
	for _, m := range c.cfg.Defaults {
		if err := c.ApplyMode(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the adapter.
func (c *Controller) Close() error {
	return c.adapter.Close()
}

func (c *Controller) verify(ctx context.Context, mode model.Mode, want Settings) error {
	keys := slices.Sorted(maps.Keys(want))
	deadline := time.Now().Add(c.cfg.VerifyTimeout)

	var mismatch []string
	var lastErr error
	for attempt := 1; ; attempt++ {
		got, err := c.adapter.Current(ctx, mode, keys)
		if err == nil {
			mismatch = compare(want, got, keys)
			if len(mismatch) == 0 {
				c.logger.Debug("mode verified", "mode", mode.Key(), "attempt", attempt)
				return nil
			}
		} else if ctx.Err() == nil {
			lastErr = err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().Add(c.cfg.VerifyInterval).After(deadline) {
			break
		}
		if err := connection.Sleep(ctx, c.cfg.VerifyInterval); err != nil {
			return err
		}
	}
	return &ConfigurationApplyError{Mode: mode, Mismatch: mismatch, Err: lastErr}
}

func (c *Controller) forget(band model.Band) {
	delete(c.last, band)
	delete(c.applied, band)
}

// diff returns the entries of want that differ from have. A nil have
// means nothing is known and everything must be written.
func diff(have, want Settings) Settings {
	out := Settings{}
	for k, v := range want {
		if cur, ok := have[k]; have != nil && ok && cur == v {
			continue
		}
		out[k] = v
	}
	return out
}

func compare(want, got Settings, keys []string) []string {
	var out []string
	for _, k := range keys {
		w := strings.TrimSpace(want[k])
		g := strings.TrimSpace(got[k])
		if w != g {
			out = append(out, fmt.Sprintf("%s=%q/%q", k, w, g))
		}
	}
	return out
}
