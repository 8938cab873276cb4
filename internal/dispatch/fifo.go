package dispatch

import (
	"context"
	"sync"
)

// fifoLock is a mutex whose waiters acquire in strict arrival order.
// sync.Mutex makes no fairness promise, and reply correlation here depends
// on callers reaching the channel in the order they queued.
type fifoLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is held or the context expires.
func (l *fifoLock) Acquire(ctx context.Context) error {
	l.mu.Lock()

	if !l.locked {
		l.locked = true
		l.mu.Unlock()

		return nil
	}

	ticket := make(chan struct{})
	l.waiters = append(l.waiters, ticket)
	l.mu.Unlock()

	select {
	case <-ticket:
		return nil

	case <-ctx.Done():
		l.mu.Lock()

		// The ticket may have been granted while we were giving up.
		select {
		case <-ticket:
			l.mu.Unlock()
			l.Release()

			return ctx.Err()
		default:
		}

		for i, w := range l.waiters {
			if w == ticket {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)

				break
			}
		}

		l.mu.Unlock()

		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, if any.
func (l *fifoLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) == 0 {
		l.locked = false

		return
	}

	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
