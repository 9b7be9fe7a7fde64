package halcore

import "testing"

func TestEdgeToString(t *testing.T) {
	cases := map[Edge]string{
		EdgeNone:    "none",
		EdgeRising:  "rising",
		EdgeFalling: "falling",
		EdgeBoth:    "both",
	}
	for e, want := range cases {
		if got := EdgeToString(e); got != want {
			t.Fatalf("EdgeToString(%d)=%q want %q", e, got, want)
		}
	}
}

func TestFakePinEdgeFiltering(t *testing.T) {
	p := NewFakePin(3, false)
	calls := 0
	_ = p.SetIRQ(EdgeRising, func() { calls++ })

	p.Fire(true)  // rising
	p.Fire(false) // falling, ignored
	p.Fire(false) // no change
	if calls != 1 {
		t.Fatalf("rising-only handler called %d times", calls)
	}

	_ = p.SetIRQ(EdgeBoth, func() { calls++ })
	p.Fire(true)
	p.Fire(false)
	if calls != 3 {
		t.Fatalf("both-edge handler: calls=%d", calls)
	}

	_ = p.ClearIRQ()
	p.Fire(true)
	p.Bounce()
	if calls != 3 {
		t.Fatal("cleared IRQ still fired")
	}
}

func TestFakeSPIScript(t *testing.T) {
	s := &FakeSPI{Reply: func(w byte) byte { return w ^ 0xFF }}
	r := make([]byte, 2)
	if err := s.Tx([]byte{0x01, 0x02}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0xFE || r[1] != 0xFD {
		t.Fatalf("reply %x", r)
	}
	b, _ := s.Transfer(0x00)
	if b != 0xFF {
		t.Fatalf("transfer %x", b)
	}
	if got := s.Written(); len(got) != 3 {
		t.Fatalf("written %x", got)
	}
}
