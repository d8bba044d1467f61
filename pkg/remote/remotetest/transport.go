package remotetest

import (
	"context"
	"sync/atomic"

	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// Transport is a fake remote.Transport bound to a Host.
type Transport struct {
	host *Host
	dead atomic.Bool
}

var (
	_ remote.Transport = (*Transport)(nil)
	_ remote.Pinger    = (*Transport)(nil)
)

// Run records cmd and answers it with the host's handler.
func (t *Transport) Run(ctx context.Context, cmd string) (remote.Result, error) {
	if err := t.alive(); err != nil {
		return remote.Result{}, err
	}

	t.host.mu.Lock()
	t.host.commands = append(t.host.commands, cmd)
	handler := t.host.handler
	t.host.mu.Unlock()

	if handler == nil {
		return remote.Result{}, ctx.Err()
	}
	res, err := handler(ctx, cmd)
	if err == nil && t.dead.Load() {
		return remote.Result{}, ErrLinkDown
	}
	return res, err
}

// Push records the transfer.
func (t *Transport) Push(ctx context.Context, localPath, remotePath string) error {
	if err := t.alive(); err != nil {
		return &remote.TransportLostError{Device: t.host.id, Err: err}
	}
	t.host.mu.Lock()
	defer t.host.mu.Unlock()
	t.host.pushes = append(t.host.pushes, Push{Local: localPath, Remote: remotePath})
	return ctx.Err()
}

// Ping succeeds while the link is up.
func (t *Transport) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.alive()
}

// Close marks the transport dead.
func (t *Transport) Close() error {
	t.dead.Store(true)
	t.host.forget(t)
	return nil
}

func (t *Transport) alive() error {
	if t.dead.Load() {
		return ErrLinkDown
	}
	t.host.mu.Lock()
	defer t.host.mu.Unlock()
	if !t.host.reachable {
		return ErrLinkDown
	}
	return nil
}
