// Package display lets code that cannot block request e-ink operations.
// Requests are OR-ed into a pending bit-field and a single consumer task
// performs them in a fixed order, so repeated requests made before the
// consumer wakes coalesce into one pass.
package display

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gadgetcore/internal/logging"
	"gadgetcore/x/syncx"
	"gadgetcore/x/timex"
)

const settlePoll = 5 * time.Millisecond

// Action is a bit-set of panel operations.
type Action uint32

const (
	ActionRefresh Action = 1 << iota // 0b001
	ActionClear                      // 0b010
	ActionPush                       // 0b100

	ActionNone Action = 0
)

func (a Action) Has(b Action) bool { return a&b == b && b != 0 }

// Panel is the suspending side of the display. Each call returns once the
// panel has finished the operation.
type Panel interface {
	Clear(ctx context.Context) error
	Push(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// BorderSetter is implemented by panels with a configurable border colour.
type BorderSetter interface {
	SetBorder(ctx context.Context, colour uint8) error
}

type Bridge struct {
	panel   Panel
	border  uint8
	pending atomic.Uint32
	wake    *syncx.Flag
	passes  atomic.Uint32
	log     *slog.Logger

	// requested counts Request calls; served is the count the last pass
	// had observed before it picked up the pending bits.
	requested atomic.Uint64
	served    atomic.Uint64
}

type Option func(*Bridge)

// WithBorder sets the border colour applied once when Run starts.
func WithBorder(colour uint8) Option { return func(b *Bridge) { b.border = colour } }

func New(panel Panel, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		panel: panel,
		wake:  syncx.NewFlag(),
		log:   logging.NewComponentLogger(logger, "display"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Request queues a and returns immediately. Safe from any goroutine and from
// interrupt-deferred callbacks.
func (b *Bridge) Request(a Action) {
	if a == ActionNone {
		return
	}
	b.pending.Or(uint32(a))
	b.requested.Add(1)
	b.wake.Set()
}

// Refresh redraws the panel from what it already holds.
func (b *Bridge) Refresh() { b.Request(ActionRefresh) }

// ClearRefresh blanks the panel.
func (b *Bridge) ClearRefresh() { b.Request(ActionClear | ActionRefresh) }

// PushRefresh sends the frame buffer and shows it.
func (b *Bridge) PushRefresh() { b.Request(ActionPush | ActionRefresh) }

// Pending reports actions requested but not yet picked up.
func (b *Bridge) Pending() Action { return Action(b.pending.Load()) }

// Passes counts completed consumer passes.
func (b *Bridge) Passes() uint32 { return b.passes.Load() }

// Settle blocks until every action requested before the call has been
// performed, or ctx is done.
func (b *Bridge) Settle(ctx context.Context) error {
	want := b.requested.Load()
	for b.served.Load() < want {
		if err := timex.Sleep(ctx, settlePoll); err != nil {
			return err
		}
	}
	return nil
}

// Run is the consumer task. It returns when ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if bs, ok := b.panel.(BorderSetter); ok {
		if err := bs.SetBorder(ctx, b.border); err != nil {
			b.log.Warn("set border failed", logging.Error(err))
		}
	}
	for {
		if err := b.wake.Wait(ctx); err != nil {
			return err
		}
		seen := b.requested.Load()
		a := Action(b.pending.Swap(0))
		if a == ActionNone {
			b.served.Store(seen)
			continue
		}
		b.perform(ctx, a)
		b.passes.Add(1)
		b.served.Store(seen)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Bridge) perform(ctx context.Context, a Action) {
	steps := []struct {
		bit  Action
		name string
		fn   func(context.Context) error
	}{
		{ActionClear, "clear", b.panel.Clear},
		{ActionPush, "push", b.panel.Push},
		{ActionRefresh, "refresh", b.panel.Refresh},
	}
	for _, s := range steps {
		if !a.Has(s.bit) {
			continue
		}
		if err := s.fn(ctx); err != nil {
			b.log.Warn("panel operation failed", logging.String("op", s.name), logging.Error(err))
			continue
		}
		b.log.Debug("panel operation done", logging.String("op", s.name))
	}
}
