// Package input turns the side switch, the knob button and the rotary
// encoder into input codes.
//
// Interrupt handlers only sample pin levels into a bounded queue; decoding
// happens on the worker goroutine and each code is handed to the Sink.
package input

import (
	"context"
	"log/slog"
	"sync/atomic"

	"gadgetcore/internal/halcore"
	"gadgetcore/internal/logging"
	"gadgetcore/types"
)

// Sink receives decoded codes, normally the broker's Dispatch.
type Sink func(types.InputCode)

type Pins struct {
	Back   halcore.IRQPin // side switch, rising edge
	Select halcore.IRQPin // knob push, rising edge
	A, B   halcore.IRQPin // quadrature, both edges
}

type source uint8

const (
	srcRotary source = iota
	srcBack
	srcSelect
	srcInject
)

type isrEvent struct {
	src  source
	a, b bool
	code types.InputCode
}

// Rotary patterns over the last three A/B samples, newest in bits 5..4.
const (
	rotCW  = 0x21 // 1, 0, 2
	rotCCW = 0x2D // 1, 3, 2
)

type Decoder struct {
	pins Pins
	sink Sink
	isrQ chan isrEvent
	rot  uint8 // worker only

	drops   atomic.Uint32
	decoded atomic.Uint32
	log     *slog.Logger
}

func New(pins Pins, sink Sink, queue int, logger *slog.Logger) *Decoder {
	if queue <= 0 {
		queue = 32
	}
	return &Decoder{
		pins: pins,
		sink: sink,
		isrQ: make(chan isrEvent, queue),
		log:  logging.NewComponentLogger(logger, "input"),
	}
}

// Run installs the interrupt handlers and decodes until ctx is done.
// Pins left nil in Pins are skipped.
func (d *Decoder) Run(ctx context.Context) error {
	var installed []halcore.IRQPin
	defer func() {
		for _, p := range installed {
			_ = p.ClearIRQ()
		}
	}()
	install := func(p halcore.IRQPin, e halcore.Edge, h func()) error {
		if p == nil {
			return nil
		}
		if err := p.ConfigureInput(halcore.PullUp); err != nil {
			return err
		}
		if err := p.SetIRQ(e, h); err != nil {
			return err
		}
		installed = append(installed, p)
		return nil
	}

	if err := install(d.pins.Back, halcore.EdgeRising, func() { d.push(isrEvent{src: srcBack}) }); err != nil {
		return err
	}
	if err := install(d.pins.Select, halcore.EdgeRising, func() { d.push(isrEvent{src: srcSelect}) }); err != nil {
		return err
	}
	if d.pins.A != nil && d.pins.B != nil {
		if err := install(d.pins.A, halcore.EdgeBoth, d.rotaryISR); err != nil {
			return err
		}
		if err := install(d.pins.B, halcore.EdgeBoth, d.rotaryISR); err != nil {
			return err
		}
		d.rot = level(d.pins.A.Get(), d.pins.B.Get()) << 4
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.isrQ:
			d.handle(ev)
		}
	}
}

// Inject queues a code as if it came from the hardware. Used by host feeds.
func (d *Decoder) Inject(code types.InputCode) {
	if code.Valid() {
		d.push(isrEvent{src: srcInject, code: code})
	}
}

// ISRDrops counts samples lost because the queue was full.
func (d *Decoder) ISRDrops() uint32 { return d.drops.Load() }

// Decoded counts codes handed to the sink.
func (d *Decoder) Decoded() uint32 { return d.decoded.Load() }

func (d *Decoder) rotaryISR() {
	d.push(isrEvent{src: srcRotary, a: d.pins.A.Get(), b: d.pins.B.Get()})
}

// push must not block: it runs in interrupt context.
func (d *Decoder) push(ev isrEvent) {
	select {
	case d.isrQ <- ev:
	default:
		d.drops.Add(1)
	}
}

func (d *Decoder) handle(ev isrEvent) {
	var code types.InputCode
	switch ev.src {
	case srcBack:
		code = types.InputBack
	case srcSelect:
		code = types.InputSelect
	case srcInject:
		code = ev.code
	case srcRotary:
		c, ok := d.step(ev.a, ev.b)
		if !ok {
			return
		}
		code = c
	}
	d.decoded.Add(1)
	d.log.Debug("input", logging.String("code", code.String()))
	if d.sink != nil {
		d.sink(code)
	}
}

// step shifts one A/B sample into the history and reports a detent.
func (d *Decoder) step(a, b bool) (types.InputCode, bool) {
	d.rot = d.rot>>2 | level(a, b)<<4
	switch d.rot {
	case rotCW:
		return types.InputCW, true
	case rotCCW:
		return types.InputCCW, true
	}
	return 0, false
}

func level(a, b bool) uint8 {
	var v uint8
	if a {
		v |= 2
	}
	if b {
		v |= 1
	}
	return v
}
