package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

const (
	// DefaultPoolSize is the number of worker processes kept by default.
	DefaultPoolSize = 2

	// DefaultTimeout bounds a blocking command when the caller does not
	// supply its own deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultDrainGrace bounds the late-reply drain read performed on a
	// degraded channel before it is declared hung.
	DefaultDrainGrace = 500 * time.Millisecond

	// DefaultCancelGrace bounds the wait for a terminal cancelled reply
	// after a stop request.
	DefaultCancelGrace = 2 * time.Second

	// DefaultShutdownGrace bounds the wait for a worker to exit after a
	// shutdown request before it is killed.
	DefaultShutdownGrace = 2 * time.Second
)

// Conn is the framed, ordered communication path to one worker process.
//
// The default implementation spawns a child process (internal/worker); mock
// implementations can be injected via Options.Spawn for testing or
// alternative transports.
type Conn interface {
	// Send writes one request as a single framed message. Callers must not
	// have two conversations in flight on the same Conn; the dispatch
	// layer enforces this.
	Send(ctx context.Context, req protocol.Request) error

	// Receive blocks until one complete reply is read, the stream ends, or
	// a malformed message is encountered. Context expiry abandons the wait
	// without consuming the eventual reply.
	Receive(ctx context.Context) (*protocol.Reply, error)

	// Degraded reports whether a timed-out command may still produce a
	// late reply on this conn.
	Degraded() bool

	// SetDegraded marks or clears the degraded state.
	SetDegraded(degraded bool)

	// Dead reports whether the conn has failed terminally.
	Dead() bool

	// Done is closed when the underlying process has exited.
	Done() <-chan struct{}

	// Close forcibly terminates the worker. Idempotent.
	Close() error
}

// SpawnFunc creates a ready Conn. The production implementation launches the
// configured worker executable.
type SpawnFunc func(ctx context.Context) (Conn, error)

// Options configures the bridge.
type Options struct {
	// Logger receives structured bridge logs. Nil disables logging.
	Logger *slog.Logger

	// WorkerCommand is the worker executable to launch.
	WorkerCommand string

	// WorkerArgs are passed to the worker executable.
	WorkerArgs []string

	// Env provides additional environment variables for worker processes.
	Env map[string]string

	// Dir is the working directory for worker processes. Empty means
	// inherit the caller's.
	Dir string

	// PoolSize is the number of worker processes the pool may run.
	PoolSize int

	// DefaultTimeout applies to blocking commands issued without an
	// explicit deadline.
	DefaultTimeout time.Duration

	// DrainGrace bounds the late-reply drain on a degraded channel.
	DrainGrace time.Duration

	// CancelGrace bounds the cooperative wait for a cancelled reply.
	CancelGrace time.Duration

	// ShutdownGrace bounds the per-worker graceful exit window.
	ShutdownGrace time.Duration

	// ProbeOnSpawn exchanges a capability probe with each freshly spawned
	// worker before it accepts tasks, confirming readiness.
	ProbeOnSpawn bool

	// Settings is pushed to each freshly spawned worker via sync_settings
	// and re-sent on demand.
	Settings map[string]any

	// Stderr receives each line of worker diagnostic output, in addition
	// to debug logging. Optional.
	Stderr func(line string)

	// Spawn overrides worker process creation. Intended for testing and
	// custom transports; when nil the bridge launches WorkerCommand.
	Spawn SpawnFunc
}

// ApplyDefaults fills unset fields with their defaults.
func (o *Options) ApplyDefaults() {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}

	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}

	if o.DrainGrace <= 0 {
		o.DrainGrace = DefaultDrainGrace
	}

	if o.CancelGrace <= 0 {
		o.CancelGrace = DefaultCancelGrace
	}

	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
}

// Validate checks the options for consistency. Call after ApplyDefaults.
func (o *Options) Validate() error {
	if o.WorkerCommand == "" && o.Spawn == nil {
		return fmt.Errorf("options: worker command is required")
	}

	if o.PoolSize <= 0 {
		return fmt.Errorf("options: pool size must be positive, got %d", o.PoolSize)
	}

	return nil
}
