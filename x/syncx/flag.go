package syncx

import "context"

// Flag is a one-shot wake-up signal. Set may be called from interrupt
// context: it never blocks and never allocates. Exactly one Wait consumes
// each set, and sets that arrive before the consumer wakes collapse into one.
type Flag struct {
	ch chan struct{}
}

// NewFlag returns a cleared flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{}, 1)}
}

func (f *Flag) Set() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Clear drops a pending set, if any.
func (f *Flag) Clear() {
	select {
	case <-f.ch:
	default:
	}
}

// Wait blocks until the flag is set, then clears it.
func (f *Flag) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the underlying channel for select loops. A receive consumes the flag.
func (f *Flag) C() <-chan struct{} { return f.ch }
