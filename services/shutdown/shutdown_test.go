package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gadgetcore/errcode"
	"gadgetcore/services/broker"
	"gadgetcore/types"
)

func TestSequenceTakesEverythingAndRunsInOrder(t *testing.T) {
	b := broker.New(nil, nil)
	var menuInput int
	menu, err := b.Register(broker.PriorityMenu, []broker.Resource{broker.ResOLED, broker.ResInput},
		broker.WithName("menu"),
		broker.WithOnInput(func(types.InputCode) { menuInput++ }))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Fn: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}}
	}
	s := New(b, []Step{
		step("oled", nil),
		step("matrix", errors.New("i2c nak")),
		step("needle", nil),
		step("cpu", nil),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	// Nothing happens before the trigger.
	time.Sleep(10 * time.Millisecond)
	if !menu.Active() {
		t.Fatal("menu displaced before trigger")
	}

	s.Trigger()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !s.Done().IsSet() {
		t.Fatal("done not set")
	}
	if menu.Active() {
		t.Fatal("menu should have lost its resources")
	}
	if got := b.Owners()[broker.ResNeedle]; got.Client != "shutdown" || got.Priority != broker.PriorityShutdown {
		t.Fatalf("needle owner %+v", got)
	}

	b.Dispatch(types.InputSelect)
	if menuInput != 0 {
		t.Fatal("input leaked to the displaced menu")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"oled", "matrix", "needle", "cpu"}
	if len(order) != len(want) {
		t.Fatalf("order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v", order)
		}
	}
}

func TestConflictSurfaces(t *testing.T) {
	b := broker.New(nil, nil)
	if _, err := b.Register(broker.PriorityShutdown, []broker.Resource{broker.ResOLED}, broker.WithName("rogue")); err != nil {
		t.Fatal(err)
	}
	s := New(b, nil, nil)
	s.Trigger()
	if err := s.Run(context.Background()); !errors.Is(err, errcode.PriorityConflict) {
		t.Fatalf("err %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(broker.New(nil, nil), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err %v", err)
	}
}
