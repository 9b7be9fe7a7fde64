//go:build !rp2040

package platform

import (
	"context"
	"log/slog"
	"sync"

	"gadgetcore/internal/halcore"
	"gadgetcore/internal/logging"
	"gadgetcore/services/battery"
	"gadgetcore/types"
)

// Pin numbers follow the rev 1 handheld so logs read the same on both.
const (
	pinSDCS     = 2
	pinSDDetect = 3
	pinRotB     = 5
	pinRotBtn   = 6
	pinRotA     = 7
	pinSW1      = 8
	pinEinkDC   = 9
	pinEinkCS   = 10
	pinEinkBusy = 21
)

// Sim is an in-memory board. Its pins can be driven from code to play
// scenarios against the runtime.
type Sim struct {
	Board *Board

	detect            *halcore.FakePin
	back, sel, ra, rb *halcore.FakePin
	card              *simCard
	power             *simPower
}

func NewSim(logger *slog.Logger) *Sim {
	s := &Sim{
		detect: halcore.NewFakePin(pinSDDetect, true), // pulled up, socket empty
		back:   halcore.NewFakePin(pinSW1, false),
		sel:    halcore.NewFakePin(pinRotBtn, false),
		ra:     halcore.NewFakePin(pinRotA, true),
		rb:     halcore.NewFakePin(pinRotB, true),
		power:  &simPower{log: logging.NewComponentLogger(logger, "power")},
	}
	s.card = &simCard{present: func() bool { return !s.detect.Get() }}

	s.Board = &Board{
		Name:      "sim",
		Detect:    s.detect,
		SDSPI:     &halcore.FakeSPI{Reply: s.card.reply},
		SDCS:      halcore.NewFakePin(pinSDCS, true),
		PanelSPI:  &halcore.FakeSPI{},
		PanelCS:   halcore.NewFakePin(pinEinkCS, true),
		PanelDC:   halcore.NewFakePin(pinEinkDC, false),
		PanelBusy: halcore.NewFakePin(pinEinkBusy, true),
		Back:      s.back,
		Select:    s.sel,
		RotA:      s.ra,
		RotB:      s.rb,
		Power:     s.power,
		Battery:   battery.NewSignals(),
	}
	return s
}

func openSim(opts Options, logger *slog.Logger) (*Board, error) {
	b := NewSim(logger).Board
	if opts.SerialPort != "" {
		feed, err := openSerialFeed(opts.SerialPort, opts.SerialBaud)
		if err != nil {
			return nil, err
		}
		b.Feed = feed
		b.closers = append(b.closers, feed)
	}
	b.Link = serialLink(opts.LinkPort, opts.SerialBaud)
	return b, nil
}

// Insert closes the detect switch.
func (s *Sim) Insert() { s.detect.Fire(false) }

// Remove opens the detect switch.
func (s *Sim) Remove() { s.detect.Fire(true) }

// SetFaulty makes the simulated card ignore every command.
func (s *Sim) SetFaulty(v bool) { s.card.setFaulty(v) }

// Press drives the pins the way the physical control would.
func (s *Sim) Press(code types.InputCode) {
	switch code {
	case types.InputBack:
		s.back.Fire(true)
		s.back.Fire(false)
	case types.InputSelect:
		s.sel.Fire(true)
		s.sel.Fire(false)
	case types.InputCW:
		// From detent 3: 1, 0, 2, then back to 3.
		s.ra.Fire(false)
		s.rb.Fire(false)
		s.ra.Fire(true)
		s.rb.Fire(true)
	case types.InputCCW:
		// From detent 3: 2, 0, 1, 3, 2, 3. Only the 1, 3, 2 run counts.
		s.rb.Fire(false)
		s.ra.Fire(false)
		s.rb.Fire(true)
		s.ra.Fire(true)
		s.rb.Fire(false)
		s.rb.Fire(true)
	}
}

// SetBatteryLow raises or lowers the low-battery level.
func (s *Sim) SetBatteryLow(v bool) { s.Board.Battery.SetLow(v) }

// SetCharging plugs or unplugs the charger.
func (s *Sim) SetCharging(v bool) { s.Board.Battery.SetCharging(v) }

// DrainBattery raises the empty-battery level.
func (s *Sim) DrainBattery() { s.Board.Battery.Empty.Set() }

// Wobbling reports whether the needle is shaking.
func (s *Sim) Wobbling() bool { return s.power.wobbling() }

// PowerLog lists the power-down steps performed so far.
func (s *Sim) PowerLog() []string { return s.power.steps() }

type simPower struct {
	mu     sync.Mutex
	did    []string
	wobble bool
	log    *slog.Logger
}

func (p *simPower) record(step string) error {
	p.mu.Lock()
	p.did = append(p.did, step)
	p.mu.Unlock()
	p.log.Info("power step", logging.String("step", step))
	return nil
}

func (p *simPower) steps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.did...)
}

func (p *simPower) OLEDOff(context.Context) error    { return p.record("oled") }
func (p *simPower) MatrixOff(context.Context) error  { return p.record("matrix") }
func (p *simPower) NeedleZero(context.Context) error { return p.record("needle") }
func (p *simPower) Halt(context.Context) error       { return p.record("halt") }

func (p *simPower) NeedleWobble(_ context.Context, on bool) error {
	p.mu.Lock()
	p.wobble = on
	p.mu.Unlock()
	p.log.Info("needle wobble", logging.Bool("on", on))
	return nil
}

func (p *simPower) wobbling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wobble
}
