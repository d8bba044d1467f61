package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModule is returned for a module that was never registered.
	ErrUnknownModule = errors.New("agent: unknown module")

	// ErrUnknownCommand is returned for a command the module does not offer.
	ErrUnknownCommand = errors.New("agent: unknown command")
)

// AgentCommandError is a definitive rejection reported by the agent. It
// must not be retried.
type AgentCommandError struct {
	Device  string
	Module  string
	Command string
	Message string
	Code    string
}

func (e *AgentCommandError) Error() string {
	msg := fmt.Sprintf("%s: %s %s failed: %s", e.Device, e.Module, e.Command, e.Message)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	return msg
}
