// Package remotetest provides in-memory transports for testing code built on
// package remote without a network.
package remotetest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// ErrLinkDown is returned by fake transports whose host is unreachable or
// whose link was dropped.
var ErrLinkDown = errors.New("remotetest: link down")

// Handler answers one command on a fake host.
type Handler func(ctx context.Context, cmd string) (remote.Result, error)

// Push records one file transfer.
type Push struct {
	Local  string
	Remote string
}

// Dialer is a fake remote.Dialer serving a set of in-memory hosts keyed by
// device ID. Unknown devices are created on first dial as reachable hosts
// that answer every command with exit status 0.
type Dialer struct {
	mu    sync.Mutex
	hosts map[string]*Host
}

// NewDialer creates an empty fake dialer.
func NewDialer() *Dialer {
	return &Dialer{hosts: make(map[string]*Host)}
}

// Host returns the fake host for a device ID, creating it if needed.
func (d *Dialer) Host(id string) *Host {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[id]
	if !ok {
		h = &Host{id: id, reachable: true}
		d.hosts[id] = h
	}
	return h
}

// Dial implements remote.Dialer.
func (d *Dialer) Dial(ctx context.Context, dev model.Device) (remote.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := d.Host(dev.ID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if h.authFail {
		return nil, &remote.AuthenticationError{Device: dev.ID, Err: errors.New("permission denied")}
	}
	if !h.reachable {
		return nil, &remote.UnreachableError{Device: dev.ID, Attempts: 1, Err: ErrLinkDown}
	}
	t := &Transport{host: h}
	h.live = append(h.live, t)
	return t, nil
}

// Host is one fake device.
type Host struct {
	id string

	mu        sync.Mutex
	reachable bool
	authFail  bool
	handler   Handler
	commands  []string
	pushes    []Push
	dials     int
	live      []*Transport
}

// SetReachable changes reachability. Making a host unreachable also drops
// its live transports.
func (h *Host) SetReachable(ok bool) {
	h.mu.Lock()
	h.reachable = ok
	h.mu.Unlock()
	if !ok {
		h.Drop()
	}
}

// SetAuthFailure makes every subsequent dial fail authentication.
func (h *Host) SetAuthFailure(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authFail = fail
}

// Handle installs the command handler. A nil handler answers every
// command with exit status 0 and no output.
func (h *Host) Handle(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Drop kills every live transport; the host stays reachable for new dials
// unless SetReachable(false) was called.
func (h *Host) Drop() {
	h.mu.Lock()
	live := h.live
	h.live = nil
	h.mu.Unlock()
	for _, t := range live {
		t.dead.Store(true)
	}
}

// Commands returns every command received, in order, probes included.
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.commands)
}

// CommandsContaining returns the received commands that contain substr.
func (h *Host) CommandsContaining(substr string) []string {
	var out []string
	for _, c := range h.Commands() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Pushes returns every recorded file transfer.
func (h *Host) Pushes() []Push {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.pushes)
}

// Dials returns the number of dial attempts, failed ones included.
func (h *Host) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// LiveTransports returns the number of transports neither closed nor dropped.
func (h *Host) LiveTransports() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.live {
		if !t.dead.Load() {
			n++
		}
	}
	return n
}

func (h *Host) forget(t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = slices.DeleteFunc(h.live, func(x *Transport) bool { return x == t })
}
