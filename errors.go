package bridge

import "github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"

// Re-export error types from internal package

// SpawnError indicates the worker process could not be launched.
type SpawnError = errors.SpawnError

// TransportError indicates the worker process or its pipes failed.
type TransportError = errors.TransportError

// TimeoutError indicates a command produced no terminal reply in time.
type TimeoutError = errors.TimeoutError

// ProtocolError indicates the worker wrote something that is not a valid
// reply.
type ProtocolError = errors.ProtocolError

// ActionError indicates the worker reported a command failure.
type ActionError = errors.ActionError

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrChannelDead indicates the worker channel has failed terminally.
	ErrChannelDead = errors.ErrChannelDead

	// ErrChannelHung indicates a degraded channel produced no late reply
	// within the drain grace.
	ErrChannelHung = errors.ErrChannelHung

	// ErrPoolClosed indicates the pool no longer accepts submissions.
	ErrPoolClosed = errors.ErrPoolClosed

	// ErrSessionFinished indicates a cancel arrived after the session
	// already resolved.
	ErrSessionFinished = errors.ErrSessionFinished

	// ErrCancelGraceElapsed indicates the worker never acknowledged a stop
	// request.
	ErrCancelGraceElapsed = errors.ErrCancelGraceElapsed
)
