package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

// OnMessage receives every reply of a streaming session, progress and
// terminal alike, in the exact order the worker produced them.
type OnMessage func(*protocol.Reply)

// Session manages one streaming request: zero or more progress replies
// followed by exactly one terminal reply.
type Session struct {
	d         *Dispatcher
	req       protocol.Request
	onMessage OnMessage

	cancelOnce sync.Once
	cancelCh   chan struct{}
	graceAt    time.Time // written before cancelCh closes, read after

	finished atomic.Bool
}

// NewSession prepares a streaming session. Run starts it.
func (d *Dispatcher) NewSession(req protocol.Request, onMessage OnMessage) *Session {
	return &Session{
		d:         d,
		req:       req,
		onMessage: onMessage,
		cancelCh:  make(chan struct{}),
	}
}

// Stream runs a streaming request to completion, returning its terminal
// reply. Convenience for sessions that never need cancellation.
func (d *Dispatcher) Stream(
	ctx context.Context,
	req protocol.Request,
	onMessage OnMessage,
) (*protocol.Reply, error) {
	return d.NewSession(req, onMessage).Run(ctx)
}

// Run sends the request and delivers every reply to the callback until the
// terminal one. It holds exclusive use of the channel for its entire
// duration; other callers queue behind it.
//
// The callback fires exactly once per reply, in order, with exactly one
// terminal invocation and none after it. Run returns the terminal reply,
// or an ActionError when the worker reported failure (the callback still
// sees the error reply first).
func (s *Session) Run(ctx context.Context) (*protocol.Reply, error) {
	if err := protocol.Validate(s.req); err != nil {
		return nil, err
	}

	if err := s.d.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.d.lock.Release()

	if err := s.d.drainLate(ctx); err != nil {
		return nil, err
	}

	if err := s.d.conn.Send(ctx, s.req); err != nil {
		return nil, err
	}

	s.d.log.Debug("Streaming session started", "action", s.req.Action)

	for {
		rctx, cancel := s.receiveContext(ctx)
		reply, err := s.d.conn.Receive(rctx)

		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.d.conn.SetDegraded(true)

				return nil, ctx.Err()

			case s.cancelRequested() && stderrors.Is(err, context.DeadlineExceeded):
				// The worker ignored the stop request. An undrained
				// in-flight reply would corrupt the next conversation,
				// so the channel goes down with the session.
				s.d.log.Warn("Cancel grace elapsed, tearing channel down", "action", s.req.Action)

				_ = s.d.conn.Close()

				return nil, &errors.TransportError{
					Reason: "cancelled session",
					Err:    errors.ErrCancelGraceElapsed,
				}

			case s.cancelRequested() && stderrors.Is(err, context.Canceled):
				// Woken by the cancel request; re-enter the read with the
				// grace deadline armed.
				continue

			default:
				return nil, err
			}
		}

		s.onMessage(reply)

		if !reply.Terminal() {
			continue
		}

		s.finished.Store(true)
		s.d.log.Debug("Streaming session finished", "action", s.req.Action, "status", reply.Status())

		if reply.Status() == protocol.StatusError {
			return nil, &errors.ActionError{
				Action:  string(s.req.Action),
				Message: reply.Message(),
				Payload: reply.Payload(),
			}
		}

		return reply, nil
	}
}

// Cancel asks the worker to stop, cooperatively. It writes a stop request
// out of band (stdin writes are safe mid-session) and arms a grace window;
// the session then finishes with the worker's terminal cancelled reply, or
// force-fails when the grace elapses. Idempotent.
func (s *Session) Cancel(ctx context.Context) error {
	if s.finished.Load() {
		return errors.ErrSessionFinished
	}

	var err error

	s.cancelOnce.Do(func() {
		s.graceAt = time.Now().Add(s.d.cfg.CancelGrace)
		s.d.log.Debug("Requesting cancellation", "action", s.req.Action, "grace", s.d.cfg.CancelGrace)

		err = s.d.conn.Send(ctx, protocol.NewRequest(protocol.ActionStop, nil))

		close(s.cancelCh)
	})

	return err
}

// cancelRequested reports whether Cancel has been called.
func (s *Session) cancelRequested() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// receiveContext builds the context for the next blocking read: unbounded
// until a cancel request arrives (but woken by one), then bounded by the
// cancel grace deadline.
func (s *Session) receiveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cancelRequested() {
		return context.WithDeadline(ctx, s.graceAt)
	}

	rctx, rcancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-s.cancelCh:
			rcancel()
		case <-rctx.Done():
		}
	}()

	return rctx, rcancel
}
