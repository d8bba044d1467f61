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

// Session defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultProbeCommand   = "echo ok"
	DefaultRecoveryBudget = 3
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// ConnectTimeout bounds a single dial including the handshake.
	ConnectTimeout time.Duration

	// PollInterval is the fixed delay between recovery attempts.
	PollInterval time.Duration

	// ProbeCommand is the round-trip command used to prove liveness.
	ProbeCommand string
	ProbeTimeout time.Duration

	// Retry bounds Connect.
	Retry connection.RetryPolicy

	// RecoveryBudget is the number of consecutive recovery timeouts after
	// which the session becomes Failed. Zero means unlimited.
	RecoveryBudget int
}

// DefaultSessionConfig returns the production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: DefaultConnectTimeout,
		PollInterval:   DefaultPollInterval,
		ProbeCommand:   DefaultProbeCommand,
		ProbeTimeout:   DefaultProbeTimeout,
		Retry:          connection.DefaultRetryPolicy(),
		RecoveryBudget: DefaultRecoveryBudget,
	}
}

func (c *SessionConfig) applyDefaults() {
	d := DefaultSessionConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeCommand == "" {
		c.ProbeCommand = d.ProbeCommand
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = d.Retry
	}
}

// StateChangeFunc is called after every state transition.
type StateChangeFunc func(deviceID string, from, to connection.State)

// Session is a persistent remote command channel to one device.
//
// Operations are serialized: at most one command, push or recovery runs at
// a time. Interrupt and Close may be called concurrently with an operation.
type Session struct {
	device model.Device
	dialer Dialer
	cfg    SessionConfig
	logger *slog.Logger

	// opMu serializes Connect, Execute, Push, Probe and WaitForRecovery.
	opMu sync.Mutex

	mu               sync.Mutex
	state            connection.State
	transport        Transport
	closed           bool
	recoveryFailures int
	callbacks        []StateChangeFunc
}

// NewSession creates a disconnected session. No I/O happens until Connect.
func NewSession(dev model.Device, dialer Dialer, cfg SessionConfig, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		device: dev,
		dialer: dialer,
		cfg:    cfg,
		logger: logger.With("device", dev.ID),
		state:  connection.StateDisconnected,
	}
}

// Device returns the device this session is bound to.
func (s *Session) Device() model.Device {
	return s.device
}

// State returns the current state.
func (s *Session) State() connection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers a callback invoked after every transition.
func (s *Session) OnStateChange(fn StateChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Connect establishes the transport. Unreachable devices are retried per
// the configured policy; an authentication failure or an exhausted budget
// leaves the session Failed.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if s.State() == connection.StateConnected {
		return nil
	}

	s.setState(connection.StateConnecting)

	var t Transport
	attempts := 0
	err := s.cfg.Retry.Do(ctx, isUnreachable, func(attempt int) error {
		attempts = attempt
		var err error
		t, err = s.dial(ctx)
		if err != nil {
			s.logger.Debug("connect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})

	switch {
	case err == nil:
		return s.install(t)
	case IsAuthentication(err):
		s.setState(connection.StateFailed)
		return fmt.Errorf("%w: %w", ErrSessionFailed, err)
	case ctx.Err() != nil:
		s.setState(connection.StateDisconnected)
		return ctx.Err()
	default:
		s.setState(connection.StateFailed)
		cause := err
		var ue *UnreachableError
		if errors.As(err, &ue) {
			cause = ue.Err
		}
		return fmt.Errorf("%w: %w", ErrSessionFailed,
			&UnreachableError{Device: s.device.ID, Attempts: attempts, Err: cause})
	}
}

// Execute runs one command. A timeout of zero means no per-command limit.
//
// If the command exceeds timeout a *CommandTimeoutError is returned and the
// session stays Connected. If the link dies a *TransportLostError is
// returned and the session is Disconnected. If ctx ends first, ctx.Err()
// is returned.
func (s *Session) Execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.execute(ctx, cmd, timeout)
}

func (s *Session) execute(ctx context.Context, cmd string, timeout time.Duration) (Result, error) {
	t, err := s.current()
	if err != nil {
		return Result{}, err
	}

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	res, err := t.Run(cctx, cmd)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if cctx.Err() != nil {
		return Result{}, &CommandTimeoutError{Device: s.device.ID, Command: cmd, Timeout: timeout}
	}

	s.lose(t, err)
	return Result{}, &TransportLostError{Device: s.device.ID, Err: err}
}

// Push uploads a file or directory tree, overwriting existing files.
func (s *Session) Push(ctx context.Context, localPath, remotePath string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	t, err := s.current()
	if err != nil {
		return err
	}
	if err := t.Push(ctx, localPath, remotePath); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var tl *TransportLostError
		if errors.As(err, &tl) {
			s.lose(t, err)
		}
		return &TransferError{Device: s.device.ID, Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}

// Probe runs the probe command and reports whether it succeeded.
func (s *Session) Probe(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.probe(ctx)
}

func (s *Session) probe(ctx context.Context) error {
	res, err := s.execute(ctx, s.cfg.ProbeCommand, s.cfg.ProbeTimeout)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("probe exited with status %d", res.ExitStatus)
	}
	return nil
}

// WaitForRecovery waits until the device answers again after an expected
// link drop.
//
// If the session is Connected and the probe succeeds it returns at once
// without reconnecting. Otherwise every PollInterval it re-dials the device
// (full handshake and authentication) and probes the new transport, until
// one round trip succeeds or maxWait elapses. A timeout returns a
// *RecoveryTimeoutError and leaves the session Disconnected, or Failed once
// RecoveryBudget consecutive timeouts have occurred.
func (s *Session) WaitForRecovery(ctx context.Context, maxWait time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	if s.State() == connection.StateConnected {
		err := s.probe(ctx)
		if err == nil {
			s.resetRecoveryFailures()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("probe failed, recovering", "error", err)
	}

	s.mu.Lock()
	old := s.transport
	s.mu.Unlock()
	if old != nil && s.dropTransport(old) {
		s.setState(connection.StateDisconnected)
	}
	s.setState(connection.StateRecovering)

	start := time.Now()
	rctx, cancel := ctx, context.CancelFunc(func() {})
	if maxWait > 0 {
		rctx, cancel = context.WithTimeout(ctx, maxWait)
	}
	defer cancel()

	attempts := 0
	var lastErr error
	for {
		attempts++
		t, err := s.dial(rctx)
		if err == nil {
			if err = s.probeTransport(rctx, t); err == nil {
				if err := s.install(t); err != nil {
					return err
				}
				s.resetRecoveryFailures()
				s.logger.Info("session recovered", "attempts", attempts, "elapsed", time.Since(start).Round(time.Millisecond))
				return nil
			}
			_ = t.Close()
		}

		if IsAuthentication(err) {
			s.setState(connection.StateFailed)
			return fmt.Errorf("%w: %w", ErrSessionFailed, err)
		}
		if ctx.Err() != nil {
			s.setState(connection.StateDisconnected)
			return ctx.Err()
		}
		if rctx.Err() == nil {
			lastErr = err
		}
		if maxWait <= 0 {
			break
		}
		if connection.Sleep(rctx, s.cfg.PollInterval) != nil {
			break
		}
	}

	if ctx.Err() != nil {
		s.setState(connection.StateDisconnected)
		return ctx.Err()
	}

	s.mu.Lock()
	s.recoveryFailures++
	failures := s.recoveryFailures
	s.mu.Unlock()

	rerr := &RecoveryTimeoutError{Device: s.device.ID, Waited: time.Since(start).Round(time.Millisecond), Attempts: attempts, Err: lastErr}
	if s.cfg.RecoveryBudget > 0 && failures >= s.cfg.RecoveryBudget {
		s.setState(connection.StateFailed)
		return fmt.Errorf("%w: %w", ErrSessionFailed, rerr)
	}
	s.setState(connection.StateDisconnected)
	return rerr
}

// Interrupt tears down the current transport, aborting any in-flight
// command. The session becomes Disconnected.
func (s *Session) Interrupt() {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil && s.dropTransport(t) {
		s.logger.Debug("session interrupted")
		s.setState(connection.StateDisconnected)
	}
}

// Close releases the transport. Further operations return ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close()
	}
	s.setState(connection.StateDisconnected)
	return err
}

// ping checks liveness without waiting for a running operation. checked is
// false when the session was busy or not connected.
func (s *Session) ping(ctx context.Context, timeout time.Duration) (checked bool, err error) {
	if !s.opMu.TryLock() {
		return false, nil
	}
	defer s.opMu.Unlock()

	t, err := s.current()
	if err != nil {
		return false, nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if p, ok := t.(Pinger); ok {
		err = p.Ping(pctx)
	} else {
		err = s.probeTransport(pctx, t)
	}
	if err != nil && ctx.Err() != nil {
		return false, nil
	}
	return true, err
}

// markLost drops the transport after keepalive declared it dead.
func (s *Session) markLost(reason error) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		s.lose(t, reason)
	}
}

func (s *Session) dial(ctx context.Context) (Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	t, err := s.dialer.Dial(dctx, s.device)
	if err == nil {
		return t, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if IsAuthentication(err) || isUnreachable(err) {
		return nil, err
	}
	return nil, &UnreachableError{Device: s.device.ID, Attempts: 1, Err: err}
}

func (s *Session) probeTransport(ctx context.Context, t Transport) error {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	res, err := t.Run(pctx, s.cfg.ProbeCommand)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("probe exited with status %d", res.ExitStatus)
	}
	return nil
}

// install makes t the live transport, tearing down any previous one first.
func (s *Session) install(t Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return ErrSessionClosed
	}
	old := s.transport
	s.transport = t
	s.mu.Unlock()

	if old != nil && old != t {
		_ = old.Close()
	}
	s.setState(connection.StateConnected)
	return nil
}

// dropTransport clears t if it is still the live transport.
func (s *Session) dropTransport(t Transport) bool {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return false
	}
	s.transport = nil
	s.mu.Unlock()
	_ = t.Close()
	return true
}

func (s *Session) lose(t Transport, reason error) {
	if s.dropTransport(t) {
		s.logger.Warn("transport lost", "error", reason)
		s.setState(connection.StateDisconnected)
	}
}

func (s *Session) current() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrSessionClosed
	case s.state == connection.StateFailed:
		return nil, ErrSessionFailed
	case s.state != connection.StateConnected || s.transport == nil:
		return nil, ErrNotConnected
	}
	return s.transport, nil
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state == connection.StateFailed {
		return ErrSessionFailed
	}
	return nil
}

func (s *Session) resetRecoveryFailures() {
	s.mu.Lock()
	s.recoveryFailures = 0
	s.mu.Unlock()
}

func (s *Session) setState(to connection.State) {
	s.mu.Lock()
	from := s.state
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	callbacks := slices.Clone(s.callbacks)
	s.mu.Unlock()

	s.logger.Debug("session state changed", "from", from, "to", to)
	for _, cb := range callbacks {
		cb(s.device.ID, from, to)
	}
}

func isUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}
