package display

import (
	"context"
	"sync"
	"time"

	"gadgetcore/errcode"
	"gadgetcore/internal/halcore"
	"gadgetcore/x/timex"
)

// Controller command bytes.
const (
	cmdBorder = 0x50 // CDI: VCOM and data interval, carries the border bits
	cmdDTM1   = 0x10 // black plane
	cmdDTM2   = 0x13 // red plane
	cmdAuto   = 0x17 // auto sequence

	autoPowerRefreshOff      = 0xA5 // PON, DRF, POF
	autoPowerRefreshOffSleep = 0xA7 // PON, DRF, POF, DSLP

	cdiTimings = 0x07
)

// Border colours: white, black, red, floating.
var borderVBD = [4]byte{0x80, 0xC0, 0x40, 0x00}

// FrameSource supplies the two colour planes pushed to the panel.
type FrameSource interface {
	Planes() (black, red []byte)
}

// SPIPanel drives a two-plane e-ink controller over SPI. The busy pin reads
// low while the controller is working.
type SPIPanel struct {
	mu    sync.Mutex
	spi   halcore.SPI
	cs    halcore.GPIOPin
	dc    halcore.GPIOPin
	busy  halcore.GPIOPin
	frame FrameSource

	planeSize int
	sleep     bool
	poll      time.Duration
	tail      time.Duration
}

type PanelConfig struct {
	PlaneSize int           // bytes per colour plane
	DeepSleep bool          // enter deep sleep after each refresh
	BusyPoll  time.Duration // default 5ms
	BusyTail  time.Duration // settle after busy clears, default 200ms
}

func NewSPIPanel(spi halcore.SPI, cs, dc, busy halcore.GPIOPin, frame FrameSource, cfg PanelConfig) *SPIPanel {
	if cfg.BusyPoll <= 0 {
		cfg.BusyPoll = 5 * time.Millisecond
	}
	if cfg.BusyTail < 0 {
		cfg.BusyTail = 0
	} else if cfg.BusyTail == 0 {
		cfg.BusyTail = 200 * time.Millisecond
	}
	_ = cs.ConfigureOutput(true)
	_ = dc.ConfigureOutput(false)
	_ = busy.ConfigureInput(halcore.PullNone)
	return &SPIPanel{
		spi: spi, cs: cs, dc: dc, busy: busy, frame: frame,
		planeSize: cfg.PlaneSize,
		sleep:     cfg.DeepSleep,
		poll:      cfg.BusyPoll,
		tail:      cfg.BusyTail,
	}
}

func (p *SPIPanel) SetBorder(ctx context.Context, colour uint8) error {
	if int(colour) >= len(borderVBD) {
		return &errcode.E{C: errcode.InvalidParams, Op: "display.border", Msg: "colour must be 0..3"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitIdle(ctx); err != nil {
		return err
	}
	if err := p.command(cmdBorder); err != nil {
		return err
	}
	return p.data([]byte{borderVBD[colour] | cdiTimings})
}

func (p *SPIPanel) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitIdle(ctx); err != nil {
		return err
	}
	for _, cmd := range []byte{cmdDTM1, cmdDTM2} {
		if err := p.command(cmd); err != nil {
			return err
		}
		if err := p.zeros(p.planeSize); err != nil {
			return err
		}
	}
	return nil
}

func (p *SPIPanel) Push(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitIdle(ctx); err != nil {
		return err
	}
	black, red := p.frame.Planes()
	if err := p.command(cmdDTM1); err != nil {
		return err
	}
	if err := p.data(black); err != nil {
		return err
	}
	if err := p.command(cmdDTM2); err != nil {
		return err
	}
	return p.data(red)
}

func (p *SPIPanel) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitIdle(ctx); err != nil {
		return err
	}
	seq := byte(autoPowerRefreshOff)
	if p.sleep {
		seq = autoPowerRefreshOffSleep
	}
	if err := p.command(cmdAuto); err != nil {
		return err
	}
	if err := p.data([]byte{seq}); err != nil {
		return err
	}
	// Give the controller time to raise busy before polling it.
	if err := timex.Sleep(ctx, p.tail); err != nil {
		return err
	}
	return p.waitIdle(ctx)
}

// waitIdle polls the busy pin, then waits the settle tail.
func (p *SPIPanel) waitIdle(ctx context.Context) error {
	if p.busy.Get() {
		return nil
	}
	for !p.busy.Get() {
		if err := timex.Sleep(ctx, p.poll); err != nil {
			return errcode.Wrap(errcode.Timeout, "display.busy", err)
		}
	}
	return timex.Sleep(ctx, p.tail)
}

func (p *SPIPanel) command(c byte) error {
	p.dc.Set(false)
	p.cs.Set(false)
	_, err := p.spi.Transfer(c)
	p.cs.Set(true)
	if err != nil {
		return errcode.Wrap(errcode.IOError, "display.command", err)
	}
	return nil
}

func (p *SPIPanel) data(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	p.dc.Set(true)
	p.cs.Set(false)
	err := p.spi.Tx(b, nil)
	p.cs.Set(true)
	if err != nil {
		return errcode.Wrap(errcode.IOError, "display.data", err)
	}
	return nil
}

func (p *SPIPanel) zeros(n int) error {
	var chunk [64]byte
	p.dc.Set(true)
	p.cs.Set(false)
	defer p.cs.Set(true)
	for n > 0 {
		k := min(n, len(chunk))
		if err := p.spi.Tx(chunk[:k], nil); err != nil {
			return errcode.Wrap(errcode.IOError, "display.clear", err)
		}
		n -= k
	}
	return nil
}
