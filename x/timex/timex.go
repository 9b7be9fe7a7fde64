package timex

import (
	"context"
	"time"
)

var epoch = time.Now()

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// MonoMs returns monotonic milliseconds since process start. It does not
// allocate and is safe to call from interrupt handlers.
func MonoMs() int64 { return int64(time.Since(epoch) / time.Millisecond) }

// Ms converts an integer millisecond count to a Duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetTimer stops, drains and re-arms t. Negative durations fire at once.
func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

// StopTimer stops t and discards a pending tick.
func StopTimer(t *time.Timer) {
	if !t.Stop() {
		DrainTimer(t)
	}
}

func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
