package heartbeat

import (
	"context"
	"testing"
	"time"

	"gadgetcore/bus"
	"gadgetcore/services/config"
	"gadgetcore/types"
)

func nextBeat(t *testing.T, sub *bus.Subscription, within time.Duration) types.Heartbeat {
	t.Helper()
	select {
	case m := <-sub.Channel():
		hb, ok := m.Payload.(types.Heartbeat)
		if !ok {
			t.Fatalf("payload %T", m.Payload)
		}
		return hb
	case <-time.After(within):
		t.Fatal("no heartbeat")
	}
	return types.Heartbeat{}
}

func TestBeatsCarryProbeFields(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(topicHeartbeat)

	s := New(100*time.Millisecond, func(hb *types.Heartbeat) {
		hb.InputOwner = "idle"
		hb.Storage = "ready"
	}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() { s.Run(ctx, conn); close(done) }()

	first := nextBeat(t, sub, time.Second)
	second := nextBeat(t, sub, time.Second)
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seq %d %d", first.Seq, second.Seq)
	}
	if first.InputOwner != "idle" || first.Storage != "ready" {
		t.Fatalf("probe fields missing: %+v", first)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConfigRetunesInterval(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(topicHeartbeat)

	s := New(time.Hour, nil, nil)
	go s.Run(t.Context(), conn)

	// Retained, so it reaches Run whether or not it has subscribed yet.
	conn.Publish(conn.NewMessage(topicConfigHeartbeat, config.Heartbeat{IntervalMs: 100}, true))
	nextBeat(t, sub, time.Second)
}

func TestIntervalFloor(t *testing.T) {
	if s := New(time.Millisecond, nil, nil); s.interval != minInterval {
		t.Fatalf("interval %v", s.interval)
	}
}
