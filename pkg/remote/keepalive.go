package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 15 * time.Second

	// DefaultPingTimeout is the default timeout waiting for a ping reply.
	DefaultPingTimeout = 5 * time.Second

	// DefaultMaxMissedPings is the number of consecutive missed pings
	// after which a transport is declared lost.
	DefaultMaxMissedPings = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PingTimeout bounds a single ping.
	PingTimeout time.Duration

	// MaxMissedPings is the number of missed pings before disconnect.
	MaxMissedPings int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PingTimeout:    DefaultPingTimeout,
		MaxMissedPings: DefaultMaxMissedPings,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPings) + c.PingTimeout
}

// KeepAliveStats contains per-session keep-alive statistics.
type KeepAliveStats struct {
	LastPing    time.Time
	LastSuccess time.Time
	Missed      int
	Lost        int
}

// KeepAlive pings idle connected sessions and tears down transports that
// stop answering, so the next use goes through recovery instead of hanging
// on a dead link. Busy sessions are skipped.
type KeepAlive struct {
	config   KeepAliveConfig
	sessions func() []*Session
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   map[string]*KeepAliveStats
}

// NewKeepAlive creates a keep-alive monitor over the sessions returned by
// the sessions func on each tick.
func NewKeepAlive(config KeepAliveConfig, sessions func() []*Session, logger *slog.Logger) *KeepAlive {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PingTimeout == 0 {
		config.PingTimeout = DefaultPingTimeout
	}
	if config.MaxMissedPings == 0 {
		config.MaxMissedPings = DefaultMaxMissedPings
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KeepAlive{
		config:   config,
		sessions: sessions,
		logger:   logger,
		stats:    make(map[string]*KeepAliveStats),
	}
}

// Start begins the keep-alive monitoring loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.doneCh = make(chan struct{})
	ka.mu.Unlock()

	go ka.loop(ctx)
}

// Stop stops monitoring and waits for the loop to exit.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = false
	close(ka.stopCh)
	done := ka.doneCh
	ka.mu.Unlock()

	<-done
}

// IsRunning returns true if keep-alive monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns a snapshot of the statistics keyed by device ID.
func (ka *KeepAlive) Stats() map[string]KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	out := make(map[string]KeepAliveStats, len(ka.stats))
	for id, s := range ka.stats {
		out[id] = *s
	}
	return out
}

func (ka *KeepAlive) loop(ctx context.Context) {
	defer close(ka.doneCh)

	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ka.mu.Lock()
			ka.running = false
			ka.mu.Unlock()
			return
		case <-ka.stopCh:
			return
		case <-ticker.C:
			ka.tick(ctx)
		}
	}
}

func (ka *KeepAlive) tick(ctx context.Context) {
	for _, s := range ka.sessions() {
		id := s.Device().ID
		checked, err := s.ping(ctx, ka.config.PingTimeout)
		if !checked {
			continue
		}

		now := time.Now()
		ka.mu.Lock()
		st, ok := ka.stats[id]
		if !ok {
			st = &KeepAliveStats{}
			ka.stats[id] = st
		}
		st.LastPing = now
		if err == nil {
			st.LastSuccess = now
			st.Missed = 0
			ka.mu.Unlock()
			continue
		}
		st.Missed++
		lost := st.Missed >= ka.config.MaxMissedPings
		if lost {
			st.Missed = 0
			st.Lost++
		}
		ka.mu.Unlock()

		ka.logger.Debug("keepalive ping failed", "device", id, "error", err)
		if lost {
			s.markLost(err)
		}
	}
}
