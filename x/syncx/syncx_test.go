package syncx

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventReleasesAllWaiters(t *testing.T) {
	var e Event
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Wait(ctx)
		}()
	}
	time.Sleep(5 * time.Millisecond)
	e.Set()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	}
	if !e.IsSet() {
		t.Fatal("event should stay set")
	}
}

func TestEventClearBlocksNewWaiters(t *testing.T) {
	var e Event
	e.Set()
	e.Clear()
	if e.IsSet() {
		t.Fatal("event should be clear")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Wait(ctx); err == nil {
		t.Fatal("wait on cleared event should time out")
	}
}

func TestEventSetIsIdempotent(t *testing.T) {
	var e Event
	e.Set()
	e.Set()
	e.Clear()
	e.Clear()
	e.Set()
	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFlagCoalescesSets(t *testing.T) {
	f := NewFlag()
	f.Set()
	f.Set()
	f.Set()

	if err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); err == nil {
		t.Fatal("flag should auto-clear after one wait")
	}
}

func TestFlagClear(t *testing.T) {
	f := NewFlag()
	f.Set()
	f.Clear()
	select {
	case <-f.C():
		t.Fatal("cleared flag should not fire")
	default:
	}
}
