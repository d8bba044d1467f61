package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when a command is issued while the
	// session is not in the Connected state.
	ErrNotConnected = errors.New("remote: session not connected")

	// ErrSessionFailed is returned by every operation on a Failed session.
	ErrSessionFailed = errors.New("remote: session failed")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("remote: session closed")

	// ErrUnknownDevice is returned by the pool for unregistered device IDs.
	ErrUnknownDevice = errors.New("remote: unknown device")
)

// AuthenticationError means the device rejected the credential. It is
// never retried.
type AuthenticationError struct {
	Device string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Device, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UnreachableError means the device could not be reached.
type UnreachableError struct {
	Device   string
	Attempts int
	Err      error
}

func (e *UnreachableError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s unreachable after %d attempts: %v", e.Device, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s unreachable: %v", e.Device, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// CommandTimeoutError means a command exceeded its own timeout. The
// transport remains usable.
type CommandTimeoutError struct {
	Device  string
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command on %s timed out after %s: %s", e.Device, e.Timeout, e.Command)
}

// TransportLostError means the underlying link died. The session is
// Disconnected and must recover before further use.
type TransportLostError struct {
	Device string
	Err    error
}

func (e *TransportLostError) Error() string {
	return fmt.Sprintf("transport to %s lost: %v", e.Device, e.Err)
}

func (e *TransportLostError) Unwrap() error { return e.Err }

// TransferError means a file push failed.
type TransferError struct {
	Device string
	Local  string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("push %s to %s:%s: %v", e.Local, e.Device, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// RecoveryTimeoutError means the device did not answer within the
// recovery window. It is a device-level failure, not a run-level one.
type RecoveryTimeoutError struct {
	Device   string
	Waited   time.Duration
	Attempts int
	Err      error
}

func (e *RecoveryTimeoutError) Error() string {
	msg := fmt.Sprintf("%s did not recover within %s (%d attempts)", e.Device, e.Waited, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecoveryTimeoutError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a link-level error that a recovery
// can fix.
func IsTransient(err error) bool {
	var ue *UnreachableError
	var tl *TransportLostError
	return errors.As(err, &ue) || errors.As(err, &tl)
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
