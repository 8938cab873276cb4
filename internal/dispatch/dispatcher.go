package dispatch

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/config"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

// Config tunes the dispatcher's grace windows.
type Config struct {
	// DrainGrace bounds the late-reply read on a degraded channel.
	DrainGrace time.Duration

	// CancelGrace bounds the wait for a terminal cancelled reply after a
	// stop request.
	CancelGrace time.Duration
}

// Dispatcher serializes command execution on one channel.
//
// Because replies carry no correlation identifier, the dispatcher admits
// exactly one conversation at a time, in FIFO order of arrival, and repairs
// the channel state left behind by timed-out conversations before reuse.
type Dispatcher struct {
	log  *slog.Logger
	conn config.Conn
	cfg  Config
	lock fifoLock
}

// NewDispatcher creates a dispatcher owning the conversation order on conn.
func NewDispatcher(log *slog.Logger, conn config.Conn, cfg Config) *Dispatcher {
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = config.DefaultDrainGrace
	}

	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = config.DefaultCancelGrace
	}

	return &Dispatcher{
		log:  log.With("component", "dispatcher"),
		conn: conn,
		cfg:  cfg,
	}
}

// Conn returns the underlying channel.
func (d *Dispatcher) Conn() config.Conn {
	return d.conn
}

// Execute sends one request and blocks until its terminal reply or the
// timeout. Progress replies received by a blocking execute are discarded.
//
// On timeout the worker may still be running; the channel is marked
// degraded and its next use drains the late reply or declares it hung.
func (d *Dispatcher) Execute(
	ctx context.Context,
	req protocol.Request,
	timeout time.Duration,
) (*protocol.Reply, error) {
	if err := protocol.Validate(req); err != nil {
		return nil, err
	}

	if err := d.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer d.lock.Release()

	if err := d.drainLate(ctx); err != nil {
		return nil, err
	}

	if err := d.conn.Send(ctx, req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)

	for {
		rctx, cancel := context.WithDeadline(ctx, deadline)
		reply, err := d.conn.Receive(rctx)

		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				// Caller abandoned mid-conversation; the eventual reply
				// must be drained before this channel is reused.
				d.conn.SetDegraded(true)

				return nil, ctx.Err()

			case stderrors.Is(err, context.DeadlineExceeded):
				d.log.Warn("Command timed out", "action", req.Action, "timeout", timeout)
				d.conn.SetDegraded(true)

				return nil, &errors.TimeoutError{Action: string(req.Action), Timeout: timeout}

			default:
				return nil, err
			}
		}

		if !reply.Terminal() {
			d.log.Debug("Discarding progress reply on blocking execute", "action", req.Action)

			continue
		}

		if reply.Status() == protocol.StatusError {
			return nil, &errors.ActionError{
				Action:  string(req.Action),
				Message: reply.Message(),
				Payload: reply.Payload(),
			}
		}

		return reply, nil
	}
}

// drainLate repairs a degraded channel before a new conversation starts.
// It discards any late replies from the previous timed-out command, bounded
// by a short grace read. A channel producing nothing within the grace is
// declared hung and torn down so the pool replaces it.
func (d *Dispatcher) drainLate(ctx context.Context) error {
	if !d.conn.Degraded() {
		return nil
	}

	d.log.Debug("Draining late replies from degraded channel", "grace", d.cfg.DrainGrace)

	deadline := time.Now().Add(d.cfg.DrainGrace)

	for {
		rctx, cancel := context.WithDeadline(ctx, deadline)
		reply, err := d.conn.Receive(rctx)

		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if stderrors.Is(err, context.DeadlineExceeded) {
				d.log.Warn("No late reply within drain grace, declaring channel hung")

				_ = d.conn.Close()

				return &errors.TransportError{Reason: "degraded channel", Err: errors.ErrChannelHung}
			}

			return err
		}

		if reply.Terminal() {
			d.log.Debug("Late terminal reply drained", "status", reply.Status())
			d.conn.SetDegraded(false)

			return nil
		}
	}
}
