package broker

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"gadgetcore/bus"
	"gadgetcore/errcode"
	"gadgetcore/types"
)

func mustRegister(t *testing.T, b *Broker, prio int, res []Resource, opts ...Option) *Registration {
	t.Helper()
	r, err := b.Register(prio, res, opts...)
	if err != nil {
		t.Fatalf("register %d %v: %v", prio, res, err)
	}
	return r
}

func counter(n *int) func() { return func() { *n++ } }

func TestPriorityWinsRegardlessOfOrder(t *testing.T) {
	for _, highFirst := range []bool{true, false} {
		b := New(nil, nil)
		var hi, lo *Registration
		if highFirst {
			hi = mustRegister(t, b, 10, []Resource{ResOLED}, WithName("A"))
			lo = mustRegister(t, b, 5, []Resource{ResOLED}, WithName("B"))
		} else {
			lo = mustRegister(t, b, 5, []Resource{ResOLED}, WithName("B"))
			hi = mustRegister(t, b, 10, []Resource{ResOLED}, WithName("A"))
		}
		if !hi.Active() || lo.Active() {
			t.Fatalf("highFirst=%v: hi.active=%v lo.active=%v", highFirst, hi.Active(), lo.Active())
		}
		if got := b.Owners()[ResOLED]; got.Client != "A" || got.Priority != 10 {
			t.Fatalf("owner = %+v", got)
		}
	}
}

func TestConflictRejected(t *testing.T) {
	b := New(nil, nil)
	mustRegister(t, b, 10, []Resource{ResOLED, ResInput}, WithName("menu"))

	_, err := b.Register(10, []Resource{ResInput}, WithName("other"))
	if !errors.Is(err, errcode.PriorityConflict) {
		t.Fatalf("expected priority conflict, got %v", err)
	}
	if len(b.Registrations()) != 1 {
		t.Fatal("rejected registration must not be inserted")
	}

	// Same priority, disjoint resources is fine.
	r := mustRegister(t, b, 10, []Resource{ResMatrix}, WithName("mtx"))
	if !r.Active() {
		t.Fatal("disjoint same-priority client should be active")
	}
}

func TestConflictOnlyAgainstCurrentlyRegistered(t *testing.T) {
	b := New(nil, nil)
	r := mustRegister(t, b, 10, []Resource{ResOLED})
	b.Unregister(r)
	mustRegister(t, b, 10, []Resource{ResOLED})
}

func TestActivationCallbacksFireAgainOnReactivation(t *testing.T) {
	b := New(nil, nil)
	var firstAct, secondAct int

	first := mustRegister(t, b, 1, []Resource{ResOLED}, WithName("idle"), WithOnActivate(counter(&firstAct)))
	if !first.Active() || firstAct != 1 {
		t.Fatalf("first: active=%v activations=%d", first.Active(), firstAct)
	}

	second := mustRegister(t, b, 2, []Resource{ResOLED}, WithName("menu"), WithOnActivate(counter(&secondAct)))
	if first.Active() || !second.Active() {
		t.Fatal("second should displace first")
	}
	if firstAct != 1 || secondAct != 1 {
		t.Fatalf("activations first=%d second=%d", firstAct, secondAct)
	}

	// Regaining the OLED is a new activation, so idle is told again.
	b.Unregister(second)
	if !first.Active() {
		t.Fatal("first should be active again")
	}
	if firstAct != 2 {
		t.Fatalf("first should have been re-activated exactly once more, got %d", firstAct)
	}
	if second.Active() {
		t.Fatal("unregistered handle reports active")
	}
}

func TestStillActiveClientNotReactivated(t *testing.T) {
	b := New(nil, nil)
	var n int
	mustRegister(t, b, 5, []Resource{ResOLED}, WithOnActivate(counter(&n)))
	other := mustRegister(t, b, 7, []Resource{ResMatrix})
	b.Unregister(other)
	mustRegister(t, b, 1, []Resource{ResNeedle})
	if n != 1 {
		t.Fatalf("on_activate should fire once while continuously active, got %d", n)
	}
}

func TestPartialClaimBlocksActivation(t *testing.T) {
	b := New(nil, nil)
	mustRegister(t, b, 10, []Resource{ResOLED})
	both := mustRegister(t, b, 5, []Resource{ResOLED, ResMatrix}, WithName("both"))
	if both.Active() {
		t.Fatal("client missing one resource must be inactive")
	}
	if _, held := b.Owners()[ResMatrix]; held {
		t.Fatal("inactive client must not claim any resource")
	}
}

func TestInputRouting(t *testing.T) {
	b := New(nil, nil)
	var idleGot, menuGot []types.InputCode

	// No owner: dispatch is a no-op.
	b.Dispatch(types.InputSelect)

	idle := mustRegister(t, b, PriorityIdle, []Resource{ResOLED, ResInput}, WithName("idle"),
		WithOnInput(func(c types.InputCode) { idleGot = append(idleGot, c) }))
	b.Dispatch(types.InputCW)

	menu := mustRegister(t, b, PriorityMenu, []Resource{ResOLED, ResInput}, WithName("menu"),
		WithOnInput(func(c types.InputCode) { menuGot = append(menuGot, c) }))
	b.Dispatch(types.InputSelect)
	if b.InputOwner() != "menu" {
		t.Fatalf("input owner %q", b.InputOwner())
	}

	b.Unregister(menu)
	b.Dispatch(types.InputBack)

	b.Unregister(idle)
	b.Dispatch(types.InputCCW)
	if b.InputOwner() != "" {
		t.Fatal("input should fall back to the no-op sink")
	}

	if len(idleGot) != 2 || idleGot[0] != types.InputCW || idleGot[1] != types.InputBack {
		t.Fatalf("idle got %v", idleGot)
	}
	if len(menuGot) != 1 || menuGot[0] != types.InputSelect {
		t.Fatalf("menu got %v", menuGot)
	}
}

func TestInputOwnerWithoutSinkSwallowsInput(t *testing.T) {
	b := New(nil, nil)
	var got int
	mustRegister(t, b, 1, []Resource{ResInput}, WithOnInput(func(types.InputCode) { got++ }))
	mustRegister(t, b, 9, []Resource{ResInput}, WithName("shutdown"))
	b.Dispatch(types.InputSelect)
	if got != 0 {
		t.Fatal("lower priority sink must not receive input")
	}
	if b.InputOwner() != "shutdown" {
		t.Fatalf("input owner %q", b.InputOwner())
	}
}

func TestDeactivationSilentUnlessOptedIn(t *testing.T) {
	b := New(nil, nil)
	var lost int
	silent := mustRegister(t, b, 1, []Resource{ResNeedle})
	loud := mustRegister(t, b, 2, []Resource{ResMatrix}, WithOnDeactivate(counter(&lost)))

	mustRegister(t, b, 50, []Resource{ResNeedle, ResMatrix})
	if silent.Active() || loud.Active() {
		t.Fatal("both should be displaced")
	}
	if lost != 1 {
		t.Fatalf("opt-in deactivation callback fired %d times", lost)
	}
}

func TestCallbackMayReenterBroker(t *testing.T) {
	b := New(nil, nil)
	var child *Registration
	mustRegister(t, b, 3, []Resource{ResOLED}, WithOnActivate(func() {
		var err error
		child, err = b.Register(2, []Resource{ResMatrix}, WithName("child"))
		if err != nil {
			t.Errorf("nested register: %v", err)
		}
	}))
	if child == nil || !child.Active() {
		t.Fatal("nested registration should have completed")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	b := New(nil, nil)
	r := mustRegister(t, b, 1, []Resource{ResOLED})
	b.Unregister(r)
	b.Unregister(r)
	b.Unregister(nil)
	if len(b.Owners()) != 0 {
		t.Fatal("table should be empty")
	}
}

func TestDuplicateTagsFolded(t *testing.T) {
	b := New(nil, nil)
	r := mustRegister(t, b, 1, []Resource{ResOLED, ResOLED})
	if len(r.Resources()) != 1 {
		t.Fatalf("resources %v", r.Resources())
	}
}

// Random register/unregister sequences never leave two active clients on one tag,
// and the active set always equals the greedy priority assignment.
func TestMutualExclusionUnderRandomSequences(t *testing.T) {
	tags := []Resource{ResOLED, ResMatrix, ResNeedle, ResInput, "eink"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		b := New(nil, nil)
		var live []*Registration
		for step := 0; step < 30; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(live))
				b.Unregister(live[i])
				live = append(live[:i], live[i+1:]...)
			} else {
				var res []Resource
				for _, tg := range tags {
					if rng.Intn(3) == 0 {
						res = append(res, tg)
					}
				}
				r, err := b.Register(rng.Intn(6)+1, res)
				if err != nil {
					if !errors.Is(err, errcode.PriorityConflict) {
						t.Fatalf("unexpected error %v", err)
					}
					continue
				}
				live = append(live, r)
			}
			assertExclusive(t, live)
		}
	}
}

func assertExclusive(t *testing.T, live []*Registration) {
	t.Helper()
	holder := map[Resource]*Registration{}
	for _, r := range live {
		if !r.Active() {
			continue
		}
		for _, res := range r.Resources() {
			if h, ok := holder[res]; ok {
				t.Fatalf("%q held by both %v and %v", res, h, r)
			}
			holder[res] = r
		}
	}
	// Every inactive client must be blocked by a strictly higher active holder.
	for _, r := range live {
		if r.Active() {
			continue
		}
		blocked := false
		for _, res := range r.Resources() {
			if h := holder[res]; h != nil && h.Priority() > r.Priority() {
				blocked = true
			}
		}
		if !blocked {
			t.Fatalf("%v inactive without a higher priority holder", r)
		}
	}
}

func TestOwnersPublishedOnBus(t *testing.T) {
	bb := bus.NewBus(8)
	conn := bb.NewConnection("test")
	sub := conn.Subscribe(topicOwners)
	b := New(conn, nil)

	mustRegister(t, b, PriorityMenu, []Resource{ResOLED, ResInput}, WithName("menu"))

	select {
	case m := <-sub.Channel():
		snap, ok := m.Payload.(types.Owners)
		if !ok {
			t.Fatalf("payload %T", m.Payload)
		}
		if snap.Input != "menu" || len(snap.Entries) != 2 || snap.Entries[0].Resource != "input" {
			t.Fatalf("snapshot %+v", snap)
		}
		if !m.Retained {
			t.Fatal("owners snapshot should be retained")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no owners snapshot published")
	}
}

func TestOwnersSnapshotKeepsTableOrder(t *testing.T) {
	bb := bus.NewBus(8)
	b := New(bb.NewConnection("broker"), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.Register(PriorityIdle, []Resource{ResOLED}, WithName("idle"), WithOnActivate(func() {
			close(entered)
			<-release
		}))
	}()
	<-entered
	mustRegister(t, b, PriorityMenu, []Resource{ResOLED}, WithName("menu"))
	close(release)
	<-done

	sub := bb.NewConnection("test").Subscribe(topicOwners)
	select {
	case m := <-sub.Channel():
		snap := m.Payload.(types.Owners)
		if len(snap.Entries) != 1 || snap.Entries[0].Client != "menu" || snap.Entries[0].Priority != PriorityMenu {
			t.Fatalf("retained snapshot %+v, table %+v", snap.Entries, b.Owners())
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no retained owners snapshot")
	}
}

func TestDisplacedBeforeCallbackRunsIsNotActivated(t *testing.T) {
	b := New(nil, nil)
	var idleAct int

	top := mustRegister(t, b, 5, []Resource{ResOLED, ResMatrix}, WithName("top"))
	mustRegister(t, b, 3, []Resource{ResMatrix}, WithName("opener"), WithOnActivate(func() {
		if _, err := b.Register(PriorityMenu, []Resource{ResOLED}, WithName("menu")); err != nil {
			t.Error(err)
		}
	}))
	idle := mustRegister(t, b, PriorityIdle, []Resource{ResOLED}, WithName("idle"), WithOnActivate(counter(&idleAct)))

	// One pass activates opener and idle; opener's callback runs first and
	// hands the OLED to the menu before idle's callback gets its turn.
	b.Unregister(top)

	if idle.Active() || idleAct != 0 {
		t.Fatalf("idle active=%v activations=%d", idle.Active(), idleAct)
	}
	if got := b.Owners()[ResOLED].Client; got != "menu" {
		t.Fatalf("oled owner %q", got)
	}
}
