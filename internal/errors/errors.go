package errors

import (
	"errors"
	"fmt"
	"time"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*TransportError)(nil)
	_ BridgeError = (*TimeoutError)(nil)
	_ BridgeError = (*ProtocolError)(nil)
	_ BridgeError = (*ActionError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrChannelDead indicates the channel's worker process has terminated
	// and the channel rejects further sends and receives.
	ErrChannelDead = errors.New("channel dead")

	// ErrChannelHung indicates a channel whose worker stopped producing
	// replies after a timeout; the owning pool replaces it.
	ErrChannelHung = errors.New("channel hung: no late reply within drain grace")

	// ErrPoolClosed indicates the pool has been shut down and rejects
	// new submissions.
	ErrPoolClosed = errors.New("pool closed")

	// ErrSessionFinished indicates a streaming session already received its
	// terminal reply and cannot be cancelled.
	ErrSessionFinished = errors.New("session finished")

	// ErrCancelGraceElapsed indicates a cancelled session's worker never
	// produced a terminal reply within the grace window.
	ErrCancelGraceElapsed = errors.New("no terminal reply within cancel grace")
)

// SpawnError indicates the worker process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn worker %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// TransportError indicates the worker process died or a pipe broke.
// It is always fatal to the owning channel.
type TransportError struct {
	// Reason describes what broke, e.g. "worker process exited".
	Reason string

	// ExitCode is the worker's exit code when known, otherwise zero.
	ExitCode int

	// Stderr holds the tail of the worker's diagnostic output when the
	// process died, to aid postmortem debugging.
	Stderr string

	Err error
}

func (e *TransportError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transport failure: %s (exit %d): %s", e.Reason, e.ExitCode, e.Stderr)
	}

	if e.Err != nil {
		return fmt.Sprintf("transport failure: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("transport failure: %s", e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *TransportError) IsBridgeError() bool { return true }

// TimeoutError indicates no terminal reply arrived within the caller's
// deadline. The worker may still be executing; the channel is left in a
// degraded state and drained before its next use.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %q timed out after %s", e.Action, e.Timeout)
}

// IsBridgeError implements BridgeError.
func (e *TimeoutError) IsBridgeError() bool { return true }

// ProtocolError indicates a reply could not be parsed into the expected
// shape. Protocol desynchronization cannot be recovered from, so this is
// fatal to the owning channel.
type ProtocolError struct {
	// RawLine preserves the line that failed to parse.
	RawLine string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed reply: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ProtocolError) IsBridgeError() bool { return true }

// ActionError indicates the worker itself reported a failed action.
// This is not a transport problem: the channel remains usable.
type ActionError struct {
	Action  string
	Message string

	// Payload carries any action-specific fields the worker attached to
	// the error reply.
	Payload map[string]any
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("action %q failed", e.Action)
	}

	return fmt.Sprintf("action %q failed: %s", e.Action, e.Message)
}

// IsBridgeError implements BridgeError.
func (e *ActionError) IsBridgeError() bool { return true }
