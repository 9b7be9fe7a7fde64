// Package battery reacts to the supply monitor's level events. A low
// battery puts a warning on the e-ink and wobbles the needle until the
// gadget is charging; an empty battery powers it down.
package battery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/types"
	"gadgetcore/x/syncx"
	"gadgetcore/x/timex"
)

var topicState = bus.T("power", "battery", "state")

// Signals are raised by the board's supply monitor. Exactly one of
// Charging and Discharging is set at a time.
type Signals struct {
	Low         syncx.Event
	Empty       syncx.Event
	Charging    syncx.Event
	Discharging syncx.Event
}

// NewSignals starts out discharging with nothing raised.
func NewSignals() *Signals {
	s := &Signals{}
	s.Discharging.Set()
	return s
}

// SetCharging flips the charging pair.
func (s *Signals) SetCharging(on bool) {
	if on {
		s.Discharging.Clear()
		s.Charging.Set()
		return
	}
	s.Charging.Clear()
	s.Discharging.Set()
}

// SetLow raises or lowers the low level.
func (s *Signals) SetLow(on bool) {
	if on {
		s.Low.Set()
		return
	}
	s.Low.Clear()
}

// Actions are the runtime hooks the monitor drives. Nil hooks are skipped.
type Actions struct {
	Redraw func()        // redraw the e-ink with or without the warning
	Wobble func(on bool) // start or stop the needle wobble
	Empty  func()        // power down on a flat battery
}

type Monitor struct {
	sig  *Signals
	act  Actions
	conn *bus.Connection // optional
	warn atomic.Bool
	log  *slog.Logger
}

func New(sig *Signals, act Actions, conn *bus.Connection, logger *slog.Logger) *Monitor {
	return &Monitor{
		sig:  sig,
		act:  act,
		conn: conn,
		log:  logging.NewComponentLogger(logger, "battery"),
	}
}

// Warning reports whether the low-battery warning is up.
func (m *Monitor) Warning() bool { return m.warn.Load() }

// Run watches the signals until ctx is done. The empty watcher fires at
// most once.
func (m *Monitor) Run(ctx context.Context) error {
	m.publish()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = m.lowLoop(ctx) }()
	go func() { defer wg.Done(); _ = m.emptyLoop(ctx) }()
	wg.Wait()
	return ctx.Err()
}

func (m *Monitor) lowLoop(ctx context.Context) error {
	defer func() {
		if m.warn.Swap(false) {
			m.wobble(false)
		}
	}()
	for {
		if err := m.sig.Low.Wait(ctx); err != nil {
			return err
		}
		m.warn.Store(true)
		m.log.Warn("battery low")
		m.redraw()
		m.wobble(true)
		m.publish()

		if err := m.sig.Charging.Wait(ctx); err != nil {
			return err
		}
		m.warn.Store(false)
		m.log.Info("charging, warning cleared")
		m.redraw()
		m.wobble(false)
		m.publish()

		// Look at the level again only once the charger is unplugged.
		if err := m.sig.Discharging.Wait(ctx); err != nil {
			return err
		}
		m.publish()
	}
}

func (m *Monitor) emptyLoop(ctx context.Context) error {
	if err := m.sig.Empty.Wait(ctx); err != nil {
		return err
	}
	m.log.Error("battery empty, powering down")
	m.publish()
	if m.act.Empty != nil {
		m.act.Empty()
	}
	return nil
}

func (m *Monitor) redraw() {
	if m.act.Redraw != nil {
		m.act.Redraw()
	}
}

func (m *Monitor) wobble(on bool) {
	if m.act.Wobble != nil {
		m.act.Wobble(on)
	}
}

// State summarises the signals.
func (m *Monitor) State() types.BatteryState {
	st := types.BatteryState{
		State:    "ok",
		Low:      m.sig.Low.IsSet(),
		Charging: m.sig.Charging.IsSet(),
		Warning:  m.warn.Load(),
		TSms:     timex.NowMs(),
	}
	switch {
	case m.sig.Empty.IsSet():
		st.State = "empty"
	case st.Charging:
		st.State = "charging"
	case st.Low:
		st.State = "low"
	}
	return st
}

func (m *Monitor) publish() {
	st := m.State()
	m.log.Debug("battery state", logging.String(logging.FieldState, st.State))
	if m.conn != nil {
		m.conn.Publish(m.conn.NewMessage(topicState, st, true))
	}
}
