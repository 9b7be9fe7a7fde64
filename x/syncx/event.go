// Package syncx holds the two signal kinds shared by the gadget tasks:
// a level-triggered Event and a one-shot, interrupt-safe Flag.
package syncx

import (
	"context"
	"sync"
)

// Event is a level signal. It stays set until cleared and any number of
// goroutines may wait on it.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

func (e *Event) lazyInit() {
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
}

// Set raises the level and releases every waiter.
func (e *Event) Set() {
	e.mu.Lock()
	e.lazyInit()
	if !e.set {
		e.set = true
		close(e.ch)
	}
	e.mu.Unlock()
}

// Clear lowers the level. Later waiters block until the next Set.
func (e *Event) Clear() {
	e.mu.Lock()
	e.lazyInit()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
	e.mu.Unlock()
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Done returns a channel that is closed while the event is set.
// The channel is only valid for the current set/clear cycle.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lazyInit()
	return e.ch
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
