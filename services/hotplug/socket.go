// Package hotplug tracks a removable storage card behind a mechanical
// detect switch.
//
// Two tasks cooperate through four level events. The presence task reacts
// to debounced switch edges and maintains CardPresent / CardAbsent. The
// initialisation task waits for CardPresent, brings the card up with a
// bounded number of attempts, and discards the handle once the card is
// removed. CardStateKnown is cleared at the start of every plug transition
// and set again once the outcome (ready, gave up or absent) is decided;
// consumers needing a definitive answer wait on it.
package hotplug

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gadgetcore/bus"
	"gadgetcore/internal/halcore"
	"gadgetcore/internal/logging"
	"gadgetcore/types"
	"gadgetcore/x/syncx"
	"gadgetcore/x/timex"
)

// Card is an initialised storage handle. If it implements io.Closer it is
// closed when the socket discards it.
type Card any

// Initializer brings up a freshly inserted card. Failures are retried by
// the socket and never surface to callers.
type Initializer interface {
	Init(ctx context.Context) (Card, error)
}

// InitFunc adapts a function to Initializer.
type InitFunc func(ctx context.Context) (Card, error)

func (f InitFunc) Init(ctx context.Context) (Card, error) { return f(ctx) }

type Config struct {
	Debounce   time.Duration // detect switch bounce window
	Settle     time.Duration // wait after insertion before the first attempt
	RetryDelay time.Duration // wait between failed attempts
	Tries      int           // attempts before giving up
	ActiveLow  bool          // switch pulls the pin low when a card is in
}

func DefaultConfig() Config {
	return Config{
		Debounce:   100 * time.Millisecond,
		Settle:     30 * time.Millisecond,
		RetryDelay: 100 * time.Millisecond,
		Tries:      10,
		ActiveLow:  true,
	}
}

type State uint8

const (
	StateAbsent State = iota
	StatePresentPending
	StateReady
	StatePresentFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePresentPending:
		return "present_pending"
	case StateReady:
		return "ready"
	case StatePresentFailed:
		return "present_failed"
	default:
		return "unknown"
	}
}

// Status codes reported to the UI.
const (
	StatusReady    = 0
	StatusAbsent   = 1
	StatusNotReady = 2
)

var topicState = bus.T("storage", "sd", "state")

type Socket struct {
	CardPresent    syncx.Event
	CardAbsent     syncx.Event
	CardReady      syncx.Event
	CardStateKnown syncx.Event

	cfg   Config
	pin   halcore.IRQPin
	init  Initializer
	clock func() int64

	// Written by the ISR.
	plug     *syncx.Flag
	lastEdge atomic.Int64
	accepted atomic.Uint32
	rejected atomic.Uint32

	mu       sync.Mutex // serialises transitions and guards card/tries/resolved
	card     Card
	tries    int
	resolved bool // outcome decided for the current insertion

	conn *bus.Connection // optional
	log  *slog.Logger
}

type Option func(*Socket)

// WithClock replaces the monotonic millisecond clock read by the ISR.
func WithClock(fn func() int64) Option { return func(s *Socket) { s.clock = fn } }

// WithBus publishes every transition as a retained storage/sd/state message.
func WithBus(conn *bus.Connection) Option { return func(s *Socket) { s.conn = conn } }

func New(pin halcore.IRQPin, init Initializer, cfg Config, logger *slog.Logger, opts ...Option) *Socket {
	if cfg.Tries <= 0 {
		cfg.Tries = 1
	}
	s := &Socket{
		cfg:   cfg,
		pin:   pin,
		init:  init,
		clock: timex.MonoMs,
		plug:  syncx.NewFlag(),
		log:   logging.NewComponentLogger(logger, "hotplug"),
	}
	for _, o := range opts {
		o(s)
	}
	s.CardAbsent.Set()
	s.lastEdge.Store(s.clock())
	return s
}

// Run installs the detect interrupt and runs both tasks until ctx is done.
func (s *Socket) Run(ctx context.Context) error {
	pull := halcore.PullUp
	if !s.cfg.ActiveLow {
		pull = halcore.PullDown
	}
	if err := s.pin.ConfigureInput(pull); err != nil {
		return err
	}
	if err := s.pin.SetIRQ(halcore.EdgeBoth, s.isr); err != nil {
		return err
	}
	defer func() { _ = s.pin.ClearIRQ() }()

	// Resolve the startup state without waiting for an edge.
	s.plug.Set()
	s.publish()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s.presenceLoop(ctx) }()
	go func() { defer wg.Done(); _ = s.initLoop(ctx) }()
	wg.Wait()

	s.discard()
	return ctx.Err()
}

// isr runs in interrupt context. The pin level is not read here because the
// switch may already have bounced by the time the handler runs.
func (s *Socket) isr() {
	now := s.clock()
	if now-s.lastEdge.Load() < s.cfg.Debounce.Milliseconds() {
		s.rejected.Add(1)
		return
	}
	s.lastEdge.Store(now)
	s.accepted.Add(1)
	s.plug.Set()
}

func (s *Socket) switchClosed() bool {
	return s.pin.Get() != s.cfg.ActiveLow
}

func (s *Socket) presenceLoop(ctx context.Context) error {
	for {
		if err := s.plug.Wait(ctx); err != nil {
			return err
		}
		s.CardStateKnown.Clear()

		// The first edge of a bounce burst wakes us; trust the level only
		// after it has settled.
		if err := timex.Sleep(ctx, s.cfg.Debounce); err != nil {
			return err
		}

		s.mu.Lock()
		if s.switchClosed() {
			inserted := !s.CardPresent.IsSet()
			s.CardAbsent.Clear()
			s.CardPresent.Set()
			// Chatter on a card already dealt with changes nothing.
			if s.resolved {
				s.CardStateKnown.Set()
			}
			s.mu.Unlock()
			if inserted {
				s.log.Info("card inserted")
			}
		} else {
			s.resolved = false
			s.CardPresent.Clear()
			s.CardReady.Clear()
			s.CardAbsent.Set()
			s.CardStateKnown.Set()
			s.mu.Unlock()
			s.log.Info("card removed")
		}
		s.publish()
	}
}

func (s *Socket) initLoop(ctx context.Context) error {
	for {
		if err := s.CardPresent.Wait(ctx); err != nil {
			return err
		}
		if err := timex.Sleep(ctx, s.cfg.Settle); err != nil {
			return err
		}
		if err := s.bringUp(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		// A removal during bring-up has already decided the outcome.
		s.resolved = s.CardPresent.IsSet()
		s.CardStateKnown.Set()
		s.mu.Unlock()
		s.publish()
		if !s.CardReady.IsSet() && s.CardPresent.IsSet() {
			s.log.Warn("card present but faulty, giving up",
				logging.Int("tries", s.Tries()))
		}

		if err := s.CardAbsent.Wait(ctx); err != nil {
			return err
		}
		s.discard()
	}
}

// bringUp makes up to cfg.Tries attempts. It stops early if the card is
// pulled so that CardReady is never raised for a missing card.
func (s *Socket) bringUp(ctx context.Context) error {
	s.mu.Lock()
	s.tries = 0
	s.mu.Unlock()

	for i := 0; i < s.cfg.Tries; i++ {
		if !s.CardPresent.IsSet() {
			return nil
		}
		card, err := s.init.Init(ctx)
		if ctx.Err() != nil {
			closeCard(card)
			return ctx.Err()
		}

		s.mu.Lock()
		s.tries = i + 1
		if err == nil {
			if !s.CardPresent.IsSet() {
				s.mu.Unlock()
				closeCard(card)
				return nil
			}
			s.card = card
			s.CardReady.Set()
			s.mu.Unlock()
			s.log.Info("card ready", logging.Int("tries", i+1))
			return nil
		}
		s.mu.Unlock()
		s.log.Debug("card init attempt failed", logging.Int("try", i+1), logging.Error(err))

		if i < s.cfg.Tries-1 {
			if err := timex.Sleep(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Socket) discard() {
	s.mu.Lock()
	card := s.card
	s.card = nil
	s.mu.Unlock()
	if card != nil {
		closeCard(card)
		s.log.Debug("card handle discarded")
	}
}

func closeCard(c Card) {
	if cl, ok := c.(io.Closer); ok {
		_ = cl.Close()
	}
}

// Card borrows the live handle, or nil. Callers must not keep it past the
// next CardAbsent.
func (s *Socket) Card() Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.card
}

// Tries reports attempts used on the current or last insertion.
func (s *Socket) Tries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tries
}

// Levels is a consistent read of the four events.
type Levels struct {
	Present, Absent, Ready, Known bool
}

func (s *Socket) Snapshot() Levels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Levels{
		Present: s.CardPresent.IsSet(),
		Absent:  s.CardAbsent.IsSet(),
		Ready:   s.CardReady.IsSet(),
		Known:   s.CardStateKnown.IsSet(),
	}
}

func (l Levels) State() State {
	switch {
	case l.Absent:
		return StateAbsent
	case l.Ready:
		return StateReady
	case l.Known:
		return StatePresentFailed
	default:
		return StatePresentPending
	}
}

func (s *Socket) State() State { return s.Snapshot().State() }

// Status maps the current state to the UI status code.
func (s *Socket) Status() int {
	l := s.Snapshot()
	switch {
	case l.Ready:
		return StatusReady
	case l.Present:
		return StatusNotReady
	default:
		return StatusAbsent
	}
}

// Stats reports accepted and debounced-away detect edges.
func (s *Socket) Stats() (accepted, rejected uint32) {
	return s.accepted.Load(), s.rejected.Load()
}

func (s *Socket) publish() {
	l := s.Snapshot()
	st := types.StorageState{
		State:   l.State().String(),
		Status:  s.Status(),
		Present: l.Present,
		Ready:   l.Ready,
		Known:   l.Known,
		Tries:   s.Tries(),
		TSms:    timex.NowMs(),
	}
	s.log.Debug("storage state", logging.String(logging.FieldState, st.State))
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(topicState, st, true))
	}
}
