package input

import (
	"context"
	"sync"
	"testing"
	"time"

	"gadgetcore/internal/halcore"
	"gadgetcore/types"
)

type collector struct {
	mu  sync.Mutex
	got []types.InputCode
}

func (c *collector) sink(code types.InputCode) {
	c.mu.Lock()
	c.got = append(c.got, code)
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T, n int) []types.InputCode {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		got := append([]types.InputCode(nil), c.got...)
		c.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %v, want %d codes", got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

type board struct {
	back, sel, a, b *halcore.FakePin
}

func start(t *testing.T, a, b bool, queue int) (*Decoder, *board, *collector) {
	t.Helper()
	bd := &board{
		back: halcore.NewFakePin(0, false),
		sel:  halcore.NewFakePin(1, false),
		a:    halcore.NewFakePin(2, a),
		b:    halcore.NewFakePin(3, b),
	}
	col := &collector{}
	d := New(Pins{Back: bd.back, Select: bd.sel, A: bd.a, B: bd.b}, col.sink, queue, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Run(ctx); close(done) }()
	t.Cleanup(func() { cancel(); <-done })

	// Handlers are installed before the worker drains its first event.
	d.Inject(types.InputBack)
	col.wait(t, 1)
	col.mu.Lock()
	col.got = nil
	col.mu.Unlock()
	return d, bd, col
}

func TestButtons(t *testing.T) {
	_, bd, col := start(t, true, true, 0)
	bd.back.Fire(true)
	bd.back.Fire(false) // falling edge ignored
	bd.sel.Fire(true)

	got := col.wait(t, 2)
	if got[0] != types.InputBack || got[1] != types.InputSelect {
		t.Fatalf("got %v", got)
	}
}

func TestRotaryClockwise(t *testing.T) {
	_, bd, col := start(t, true, true, 0)
	// 3 -> 1 -> 0 -> 2 -> 3
	bd.a.Fire(false)
	bd.b.Fire(false)
	bd.a.Fire(true)
	bd.b.Fire(true)

	col.wait(t, 1)
	time.Sleep(10 * time.Millisecond)
	if got := col.wait(t, 1); len(got) != 1 || got[0] != types.InputCW {
		t.Fatalf("got %v", got)
	}
}

func TestRotaryCounterClockwise(t *testing.T) {
	_, bd, col := start(t, false, false, 0)
	// 0 -> 1 -> 3 -> 2
	bd.b.Fire(true)
	bd.a.Fire(true)
	bd.b.Fire(false)

	got := col.wait(t, 1)
	if got[0] != types.InputCCW {
		t.Fatalf("got %v", got)
	}
}

func TestStepPatterns(t *testing.T) {
	d := New(Pins{}, nil, 1, nil)
	cases := []struct {
		name string
		seq  [][2]bool
		want []types.InputCode
	}{
		{"cw", [][2]bool{{false, true}, {false, false}, {true, false}}, []types.InputCode{types.InputCW}},
		{"ccw", [][2]bool{{false, true}, {true, true}, {true, false}}, []types.InputCode{types.InputCCW}},
		{"jitter", [][2]bool{{false, true}, {true, true}, {false, true}, {true, true}}, nil},
		{"two cw", [][2]bool{
			{false, true}, {false, false}, {true, false}, {true, true},
			{false, true}, {false, false}, {true, false},
		}, []types.InputCode{types.InputCW, types.InputCW}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d.rot = 0x30
			var got []types.InputCode
			for _, s := range tc.seq {
				if c, ok := d.step(s[0], s[1]); ok {
					got = append(got, c)
				}
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	d := New(Pins{}, nil, 2, nil)
	for i := 0; i < 5; i++ {
		d.Inject(types.InputSelect)
	}
	if d.ISRDrops() != 3 {
		t.Fatalf("drops %d", d.ISRDrops())
	}
	d.Inject(types.InputCode(9))
	if d.ISRDrops() != 3 {
		t.Fatal("invalid code should be ignored, not queued")
	}
}
