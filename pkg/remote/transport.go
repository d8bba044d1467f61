package remote

import (
	"context"
	"strings"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// Result is the captured output of one remote command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool {
	return r.ExitStatus == 0
}

// Output returns stdout followed by stderr, trimmed.
func (r Result) Output() string {
	if r.Stderr == "" {
		return strings.TrimSpace(r.Stdout)
	}
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// Transport is one live link to a device.
//
// Run returns a non-nil error only when the command could not complete:
// ctx ended (ctx.Err() is returned) or the link is gone. A non-zero exit
// status is reported in Result.
type Transport interface {
	Run(ctx context.Context, cmd string) (Result, error)
	Push(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// Pinger is implemented by transports with a protocol level liveness check
// that is cheaper than running a command.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dialer establishes transports. Implementations return
// *AuthenticationError for rejected credentials and *UnreachableError for
// everything else.
type Dialer interface {
	Dial(ctx context.Context, dev model.Device) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, dev model.Device) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, dev model.Device) (Transport, error) {
	return f(ctx, dev)
}
