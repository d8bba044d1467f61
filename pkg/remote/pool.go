package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/connection"
	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Pool is a keyed registry of sessions, one per device.
// Sessions are created lazily on first use.
type Pool struct {
	dialer Dialer
	cfg    SessionConfig
	logger *slog.Logger

	mu        sync.Mutex
	devices   map[string]model.Device
	order     []string
	sessions  map[string]*Session
	callbacks []StateChangeFunc
	keepalive *KeepAlive
	closed    bool
}

// NewPool creates an empty pool.
func NewPool(dialer Dialer, cfg SessionConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		dialer:   dialer,
		cfg:      cfg,
		logger:   logger,
		devices:  make(map[string]model.Device),
		sessions: make(map[string]*Session),
	}
}

// Add registers a device. Device IDs must be unique.
func (p *Pool) Add(dev model.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.devices[dev.ID]; ok {
		return fmt.Errorf("remote: duplicate device %q", dev.ID)
	}
	p.devices[dev.ID] = dev
	p.order = append(p.order, dev.ID)
	return nil
}

// Devices returns the registered devices in registration order.
func (p *Pool) Devices() []model.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Device, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.devices[id])
	}
	return out
}

// OnStateChange registers a callback on every current and future session.
func (p *Pool) OnStateChange(fn StateChangeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
	for _, s := range p.sessions {
		s.OnStateChange(fn)
	}
}

// Session returns the session for a device without connecting it.
func (p *Pool) Session(deviceID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrSessionClosed
	}
	if s, ok := p.sessions[deviceID]; ok {
		return s, nil
	}
	dev, ok := p.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	s := NewSession(dev, p.dialer, p.cfg, p.logger)
	for _, cb := range p.callbacks {
		s.OnStateChange(cb)
	}
	p.sessions[deviceID] = s
	return s, nil
}

// Get returns a connected session for a device, connecting on first use.
func (p *Pool) Get(ctx context.Context, deviceID string) (*Session, error) {
	s, err := p.Session(deviceID)
	if err != nil {
		return nil, err
	}
	if s.State() != connection.StateConnected {
		if err := s.Connect(ctx); err != nil {
			return s, err
		}
	}
	return s, nil
}

// WaitReachable blocks until the device answers a round trip again or
// maxWait elapses. A device that was never connected is connected first.
func (p *Pool) WaitReachable(ctx context.Context, deviceID string, maxWait time.Duration) error {
	s, err := p.Session(deviceID)
	if err != nil {
		return err
	}
	return s.WaitForRecovery(ctx, maxWait)
}

// StartKeepalive begins liveness monitoring of every connected session.
// It is stopped by Close or when ctx ends.
func (p *Pool) StartKeepalive(ctx context.Context, cfg KeepAliveConfig) {
	p.mu.Lock()
	if p.keepalive == nil {
		p.keepalive = NewKeepAlive(cfg, p.connected, p.logger)
	}
	ka := p.keepalive
	p.mu.Unlock()
	ka.Start(ctx)
}

// KeepAliveStats returns keepalive statistics per device, or nil when
// keepalive was never started.
func (p *Pool) KeepAliveStats() map[string]KeepAliveStats {
	p.mu.Lock()
	ka := p.keepalive
	p.mu.Unlock()
	if ka == nil {
		return nil
	}
	return ka.Stats()
}

// Close stops keepalive and closes every session.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ka := p.keepalive
	sessions := make([]*Session, 0, len(p.sessions))
	for _, id := range p.order {
		if s, ok := p.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	p.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Device().ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) connected() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Session
	for _, id := range p.order {
		if s, ok := p.sessions[id]; ok && s.State() == connection.StateConnected {
			out = append(out, s)
		}
	}
	return slices.Clip(out)
}
