package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orbitgrid/satlink/ftm"
)

// Outcome is the terminal result of one transfer: whether it succeeded
// and the notification status that ended it.
type Outcome struct {
	Success bool
	Status  ftm.Status
}

// Latch is a single-use rendezvous between the notification path and the
// driving program. The first Release wins; later calls are no-ops. Await
// blocks until released or the context ends.
//
// A Latch covers one transfer. Allocate a fresh one per session.
type Latch struct {
	mu       sync.Mutex
	released bool
	outcome  Outcome
	done     chan struct{}
}

// NewLatch returns an unreleased latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Release records the outcome and wakes every waiter. Only the first call
// has any effect; the guarded state transition makes repeated terminal
// notifications on the same session harmless.
func (l *Latch) Release(o Outcome) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Release",
			"status":   o.Status.String(),
		}).Debug("Latch already released, ignoring")
		return
	}
	l.released = true
	l.outcome = o
	close(l.done)
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Release",
		"success":  o.Success,
		"status":   o.Status.String(),
	}).Info("Transfer outcome recorded")
}

// Released reports whether an outcome has been recorded.
func (l *Latch) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Await blocks until Release has been called at least once, then returns
// the first outcome supplied. Cancellation and deadlines arrive through
// ctx; flight links can stall indefinitely, so callers that cannot block
// forever should pass a context with a timeout.
func (l *Latch) Await(ctx context.Context) (Outcome, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome, nil
}
