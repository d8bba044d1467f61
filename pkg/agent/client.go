package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/remote"
)

// Default agent work directories per OS class.
const (
	DefaultLinuxDir   = "/tmp/wifi_test_agent"
	DefaultWindowsDir = `C:\Temp\wifi_test_agent`
)

// DefaultTimeout bounds an agent command when the request sets none.
const DefaultTimeout = 60 * time.Second

// Sessions resolves the session of a device. *remote.Pool implements it.
type Sessions interface {
	Session(deviceID string) (*remote.Session, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// WorkDirs maps OS class to the agent directory on the device.
	WorkDirs map[model.OSClass]string

	Timeout time.Duration
}

// WorkDir returns the agent directory for an OS class.
func (c ClientConfig) WorkDir(os model.OSClass) string {
	if d, ok := c.WorkDirs[os]; ok && d != "" {
		return d
	}
	if os == model.OSWindows {
		return DefaultWindowsDir
	}
	return DefaultLinuxDir
}

// Client invokes agent commands over device sessions.
type Client struct {
	sessions Sessions
	registry *Registry
	cfg      ClientConfig
	logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(sessions Sessions, registry *Registry, cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{sessions: sessions, registry: registry, cfg: cfg, logger: logger}
}

// Config returns the client configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// Invoke runs module command with args on dev and returns the decoded
// result. Link errors from the session are returned unchanged; agent
// rejections are returned as *AgentCommandError.
func (c *Client) Invoke(ctx context.Context, dev model.Device, module, command string, args Args) (any, error) {
	return c.Do(ctx, dev, Request{Module: module, Command: command, Args: args})
}

// Do is Invoke with a full Request.
func (c *Client) Do(ctx context.Context, dev model.Device, req Request) (any, error) {
	mod, err := c.registry.Lookup(req.Module)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(mod.Commands(), req.Command) {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownCommand, req.Module, req.Command)
	}

	sess, err := c.sessions.Session(dev.ID)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	line := CommandLine(dev, c.cfg.WorkDir(dev.OS), req)
	c.logger.Debug("agent command", "device", dev.ID, "module", req.Module, "command", req.Command)

	res, err := sess.Execute(ctx, line, timeout)
	if err != nil {
		return nil, err
	}

	resp := ParseResponse(res.Output(), res.ExitStatus)
	if !resp.Success {
		return nil, &AgentCommandError{
			Device:  dev.ID,
			Module:  req.Module,
			Command: req.Command,
			Message: resp.Message,
			Code:    resp.Code,
		}
	}

	v, err := mod.Decode(req.Command, resp.Payload)
	if err != nil {
		return nil, &AgentCommandError{
			Device:  dev.ID,
			Module:  req.Module,
			Command: req.Command,
			Message: err.Error(),
		}
	}
	return v, nil
}
