package halcore

import "sync"

// FakePin is an in-memory IRQPin for host simulation and tests.
// Fire changes the level and invokes the installed handler synchronously,
// the way a hardware edge would.
type FakePin struct {
	mu      sync.Mutex
	level   bool
	edge    Edge
	handler func()
	number  int
}

func NewFakePin(number int, level bool) *FakePin {
	return &FakePin{number: number, level: level}
}

func (p *FakePin) ConfigureInput(_ Pull) error { return nil }
func (p *FakePin) ConfigureOutput(initial bool) error {
	p.Set(initial)
	return nil
}
func (p *FakePin) Set(b bool)  { p.mu.Lock(); p.level = b; p.mu.Unlock() }
func (p *FakePin) Get() bool   { p.mu.Lock(); defer p.mu.Unlock(); return p.level }
func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(e Edge, h func()) error {
	p.mu.Lock()
	p.edge, p.handler = e, h
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.edge, p.handler = EdgeNone, nil
	p.mu.Unlock()
	return nil
}

// Fire drives the pin to level and runs the handler if the configured edge matches.
func (p *FakePin) Fire(level bool) {
	p.mu.Lock()
	prev := p.level
	p.level = level
	h, e := p.handler, p.edge
	p.mu.Unlock()
	if h == nil {
		return
	}
	rising := !prev && level
	falling := prev && !level
	switch {
	case e == EdgeBoth && (rising || falling),
		e == EdgeRising && rising,
		e == EdgeFalling && falling:
		h()
	}
}

// Bounce fires a handler call without a level change, the way contact
// chatter shows up on a real switch.
func (p *FakePin) Bounce() {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

// FakeSPI records transmitted bytes and answers from a script.
type FakeSPI struct {
	mu  sync.Mutex
	Out []byte
	// Reply, when set, decides the byte returned for each transmitted byte.
	Reply func(w byte) byte
	Err   error
}

func (s *FakeSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		b := byte(0xFF)
		if i < len(w) {
			b = w[i]
		}
		s.Out = append(s.Out, b)
		// The device sees every clocked byte, even when nothing is read back.
		rb := s.reply(b)
		if i < len(r) {
			r[i] = rb
		}
	}
	return nil
}

func (s *FakeSPI) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := s.Tx([]byte{b}, r[:])
	return r[0], err
}

func (s *FakeSPI) reply(w byte) byte {
	if s.Reply == nil {
		return 0xFF
	}
	return s.Reply(w)
}

// Written returns a copy of everything sent so far.
func (s *FakeSPI) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Out...)
}
