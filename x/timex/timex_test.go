package timex

import (
	"context"
	"testing"
	"time"
)

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("sleep ignored cancellation")
	}
}

func TestSleepElapses(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("sleep returned early")
	}
}

func TestMonoMsIsMonotonic(t *testing.T) {
	a := MonoMs()
	time.Sleep(2 * time.Millisecond)
	if b := MonoMs(); b < a {
		t.Fatalf("clock went backwards: %d < %d", b, a)
	}
	if Ms(30) != 30*time.Millisecond {
		t.Fatal("Ms conversion")
	}
}

func TestResetTimer(t *testing.T) {
	tm := time.NewTimer(0)
	time.Sleep(5 * time.Millisecond) // let it fire without reading
	ResetTimer(tm, 20*time.Millisecond)
	select {
	case <-tm.C:
		t.Fatal("stale tick survived reset")
	case <-time.After(5 * time.Millisecond):
	}
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("reset timer never fired")
	}

	StopTimer(tm)
	ResetTimer(tm, -time.Second)
	select {
	case <-tm.C:
	case <-time.After(time.Second):
		t.Fatal("negative reset should fire immediately")
	}
}
