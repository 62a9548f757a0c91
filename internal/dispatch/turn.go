package dispatch

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

type waiter struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// turnstile hands out exclusive turns in strict arrival order.
type turnstile struct {
	mu      sync.Mutex
	busy    bool
	waiters *queue.Queue
}

func newTurnstile() *turnstile {
	return &turnstile{waiters: queue.New()}
}

// acquire blocks until it is the caller's turn or ctx ends.
func (t *turnstile) acquire(ctx context.Context) error {
	t.mu.Lock()
	if !t.busy && t.waiters.Length() == 0 {
		t.busy = true
		t.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	t.waiters.Add(w)
	t.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		if w.granted {
			t.mu.Unlock()
			t.release()
			return ctx.Err()
		}
		w.abandoned = true
		t.mu.Unlock()
		return ctx.Err()
	}
}

// release passes the turn to the oldest live waiter.
func (t *turnstile) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.waiters.Length() > 0 {
		w := t.waiters.Remove().(*waiter)
		if w.abandoned {
			continue
		}
		w.granted = true
		close(w.ready)
		return
	}
	t.busy = false
}

func (t *turnstile) queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiters.Length()
}
