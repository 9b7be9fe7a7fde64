//go:build rp2040

package platform

import (
	"context"
	"io"
	"log/slog"
	"machine"
	"sync"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"gadgetcore/internal/halcore"
	"gadgetcore/internal/logging"
)

// Rev 1 wiring.
const (
	gpSDCS     = machine.GPIO2
	gpSDDetect = machine.GPIO3
	gpNeedle   = machine.GPIO4
	gpRotB     = machine.GPIO5
	gpRotBtn   = machine.GPIO6
	gpRotA     = machine.GPIO7
	gpSW1      = machine.GPIO8
	gpEinkDC   = machine.GPIO9
	gpEinkCS   = machine.GPIO10
	gpMtxCS    = machine.GPIO13
	gpSDA      = machine.GPIO14
	gpSCL      = machine.GPIO15
	gpMISO     = machine.GPIO16
	gpSCK      = machine.GPIO18
	gpMOSI     = machine.GPIO19
	gpEinkBusy = machine.GPIO21
	gpLinkTX   = machine.GPIO20 // UART1, spare header
	gpLinkRX   = machine.GPIO25

	spiHz = 4_000_000
	i2cHz = 100_000

	oledAddr = 0x3C
	linkBaud = 115200
	wobbleHz = 4
)

// Console returns the UART0 console used as the log writer.
func Console() *uartx.UART {
	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	return u
}

func openPico(_ Options, logger *slog.Logger) (*Board, error) {
	spi := machine.SPI0
	if err := spi.Configure(machine.SPIConfig{
		Frequency: spiHz,
		SCK:       gpSCK,
		SDO:       gpMOSI,
		SDI:       gpMISO,
		Mode:      0,
	}); err != nil {
		return nil, err
	}
	i2c := machine.I2C1
	if err := i2c.Configure(machine.I2CConfig{Frequency: i2cHz, SDA: gpSDA, SCL: gpSCL}); err != nil {
		return nil, err
	}

	// The matrix shares SPI0; keep it deselected.
	mtxCS := &rp2Pin{p: gpMtxCS}
	_ = mtxCS.ConfigureOutput(true)

	link := uartx.UART1
	_ = link.Configure(uartx.UARTConfig{BaudRate: linkBaud, TX: gpLinkTX, RX: gpLinkRX})

	return &Board{
		Name:      "pico",
		Detect:    &rp2Pin{p: gpSDDetect},
		SDSPI:     spi,
		SDCS:      &rp2Pin{p: gpSDCS},
		PanelSPI:  spi,
		PanelCS:   &rp2Pin{p: gpEinkCS},
		PanelDC:   &rp2Pin{p: gpEinkDC},
		PanelBusy: &rp2Pin{p: gpEinkBusy},
		Back:      &rp2Pin{p: gpSW1},
		Select:    &rp2Pin{p: gpRotBtn},
		RotA:      &rp2Pin{p: gpRotA},
		RotB:      &rp2Pin{p: gpRotB},
		Power: &picoPower{
			spi:    spi,
			i2c:    i2c,
			mtxCS:  mtxCS,
			needle: &rp2Pin{p: gpNeedle},
			log:    logging.NewComponentLogger(logger, "power"),
		},
		Link: func(context.Context) (io.ReadWriteCloser, error) {
			return picoLink{u: link}, nil
		},
	}, nil
}

// picoLink adapts the UART to io.ReadWriteCloser. The UART stays
// configured across redials, so Close is a no-op.
type picoLink struct{ u *uartx.UART }

func (l picoLink) Read(b []byte) (int, error) {
	return l.u.RecvSomeContext(context.Background(), b)
}
func (l picoLink) Write(b []byte) (int, error) { return l.u.Write(b) }
func (picoLink) Close() error                  { return nil }

type picoPower struct {
	spi    *machine.SPI
	i2c    *machine.I2C
	mtxCS  *rp2Pin
	needle *rp2Pin
	log    *slog.Logger

	mu     sync.Mutex
	wobble chan struct{} // closed to stop the wobble goroutine
}

// NeedleWobble shakes the needle by toggling its drive at wobbleHz.
func (p *picoPower) NeedleWobble(_ context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !on {
		if p.wobble != nil {
			close(p.wobble)
			p.wobble = nil
		}
		return nil
	}
	if p.wobble != nil {
		return nil
	}
	if err := p.needle.ConfigureOutput(false); err != nil {
		return err
	}
	stop := make(chan struct{})
	p.wobble = stop
	go func() {
		t := time.NewTicker(time.Second / (2 * wobbleHz))
		defer t.Stop()
		level := false
		for {
			select {
			case <-stop:
				p.needle.Set(false)
				return
			case <-t.C:
				level = !level
				p.needle.Set(level)
			}
		}
	}()
	return nil
}

// OLEDOff sends DISPLAYOFF to the SSD1306.
func (p *picoPower) OLEDOff(context.Context) error {
	return p.i2c.Tx(oledAddr, []byte{0x00, 0xAE}, nil)
}

// MatrixOff puts the MAX7219 into shutdown (register 0x0C = 0).
func (p *picoPower) MatrixOff(context.Context) error {
	p.mtxCS.Set(false)
	err := p.spi.Tx([]byte{0x0C, 0x00}, nil)
	p.mtxCS.Set(true)
	return err
}

// NeedleZero parks the needle by holding its drive low.
func (p *picoPower) NeedleZero(context.Context) error {
	return p.needle.ConfigureOutput(false)
}

// Halt leaves the CPU idle; the e-ink keeps its last image unpowered.
func (p *picoPower) Halt(ctx context.Context) error {
	p.log.Info("halted")
	for ctx.Err() == nil {
		time.Sleep(time.Second)
	}
	return nil
}

type rp2Pin struct{ p machine.Pin }

func (r *rp2Pin) ConfigureInput(pull halcore.Pull) error {
	mode := machine.PinInput
	switch pull {
	case halcore.PullUp:
		mode = machine.PinInputPullup
	case halcore.PullDown:
		mode = machine.PinInputPulldown
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }
func (r *rp2Pin) Number() int    { return int(r.p) }

func (r *rp2Pin) SetIRQ(edge halcore.Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r *rp2Pin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e halcore.Edge) machine.PinChange {
	switch e {
	case halcore.EdgeRising:
		return machine.PinRising
	case halcore.EdgeFalling:
		return machine.PinFalling
	case halcore.EdgeBoth:
		return machine.PinToggle
	}
	var zero machine.PinChange
	return zero
}
