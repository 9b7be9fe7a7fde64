// Package deferred runs a callback once a countdown expires without being
// touched again. Clients that lose a resource silently use it to notice
// they have been idle and tidy up.
package deferred

import (
	"context"
	"sync"
	"time"

	"gadgetcore/x/timex"
)

type Task struct {
	timeout time.Duration
	fn      func()

	mu       sync.Mutex
	dirty    bool
	deadline time.Time

	kick chan struct{}
}

func New(timeout time.Duration, fn func()) *Task {
	return &Task{timeout: timeout, fn: fn, kick: make(chan struct{}, 1)}
}

// Touch starts the countdown, or restarts it if already running.
func (t *Task) Touch() {
	t.mu.Lock()
	t.dirty = true
	t.deadline = time.Now().Add(t.timeout)
	t.mu.Unlock()
	t.wake()
}

// Untouch cancels a running countdown.
func (t *Task) Untouch() {
	t.mu.Lock()
	t.dirty = false
	t.mu.Unlock()
	t.wake()
}

// Dirty reports whether a countdown is running.
func (t *Task) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

func (t *Task) wake() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run fires the callback once per expired countdown until ctx is done.
func (t *Task) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timex.StopTimer(timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.kick:
			t.rearm(timer)
		case <-timer.C:
			t.mu.Lock()
			fire := t.dirty && !time.Now().Before(t.deadline)
			if fire {
				t.dirty = false
			}
			t.mu.Unlock()
			if fire && t.fn != nil {
				t.fn()
			}
			t.rearm(timer)
		}
	}
}

func (t *Task) rearm(timer *time.Timer) {
	t.mu.Lock()
	dirty, left := t.dirty, time.Until(t.deadline)
	t.mu.Unlock()
	if dirty {
		timex.ResetTimer(timer, left)
	} else {
		timex.StopTimer(timer)
	}
}
