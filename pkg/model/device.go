package model

import (
	"fmt"
	"net"
	"strings"
)

// OSClass identifies the command interpreter family of a device.
type OSClass string

const (
	// OSLinux devices run POSIX shell commands.
	OSLinux OSClass = "linux"

	// OSWindows devices run cmd.exe / PowerShell commands.
	OSWindows OSClass = "windows"
)

// ParseOSClass normalizes a user supplied OS name.
func ParseOSClass(s string) (OSClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linux", "":
		return OSLinux, nil
	case "windows", "win":
		return OSWindows, nil
	default:
		return "", fmt.Errorf("unknown os class %q", s)
	}
}

// Credential holds the login material for a device.
// Either Password or KeyFile (or both) must be set.
type Credential struct {
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password,omitempty" json:"-"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// DefaultSSHPort is used when a device address carries no port.
const DefaultSSHPort = "22"

// Device is one test endpoint. It is read-only for the duration of a run.
type Device struct {
	// ID is the unique, human readable device name.
	ID string `yaml:"name" json:"name"`

	// Address is host or host:port of the remote command service.
	Address string `yaml:"address" json:"address"`

	// OS selects command syntax on the device.
	OS OSClass `yaml:"os" json:"os"`

	Credential Credential `yaml:"credential" json:"credential"`

	// Interpreter is the path of the agent interpreter (e.g. "python3").
	Interpreter string `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`

	// Product is an optional product description used in reports.
	Product string `yaml:"product,omitempty" json:"product,omitempty"`
}

// HostPort returns Address with the default SSH port applied.
func (d Device) HostPort() string {
	if _, _, err := net.SplitHostPort(d.Address); err == nil {
		return d.Address
	}
	return net.JoinHostPort(d.Address, DefaultSSHPort)
}

// InterpreterOrDefault returns the configured interpreter or the OS default.
func (d Device) InterpreterOrDefault() string {
	if d.Interpreter != "" {
		return d.Interpreter
	}
	if d.OS == OSWindows {
		return "python"
	}
	return "python3"
}

// Validate checks the fields required to open a session.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device: name is required")
	}
	if d.Address == "" {
		return fmt.Errorf("device %s: address is required", d.ID)
	}
	if d.Credential.User == "" {
		return fmt.Errorf("device %s: credential user is required", d.ID)
	}
	if d.Credential.Password == "" && d.Credential.KeyFile == "" {
		return fmt.Errorf("device %s: password or key_file is required", d.ID)
	}
	if _, err := ParseOSClass(string(d.OS)); err != nil {
		return fmt.Errorf("device %s: %w", d.ID, err)
	}
	return nil
}
