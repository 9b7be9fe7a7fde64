// Package platform wires the gadget's pins, buses and power rails for the
// target it is built for: the RP2040 handheld, a Linux host with a real
// card reader, or an in-memory simulator.
package platform

import (
	"context"
	"io"
	"log/slog"

	"gadgetcore/errcode"
	"gadgetcore/internal/halcore"
	"gadgetcore/services/battery"
	"gadgetcore/services/hotplug"
)

// Power switches the non-arbitrated loads off during shutdown.
type Power interface {
	OLEDOff(ctx context.Context) error
	MatrixOff(ctx context.Context) error
	NeedleZero(ctx context.Context) error
	Halt(ctx context.Context) error
}

// Wobbler is implemented by boards whose needle can shake as a warning.
type Wobbler interface {
	NeedleWobble(ctx context.Context, on bool) error
}

// Board is everything the runtime needs from the hardware.
type Board struct {
	Name string

	// Storage socket.
	Detect halcore.IRQPin
	SDSPI  halcore.SPI
	SDCS   halcore.GPIOPin
	// CardInit overrides the SPI-mode initialiser when the card sits behind
	// a host reader.
	CardInit hotplug.Initializer

	// E-ink panel.
	PanelSPI  halcore.SPI
	PanelCS   halcore.GPIOPin
	PanelDC   halcore.GPIOPin
	PanelBusy halcore.GPIOPin

	// Controls. Nil pins are not wired.
	Back, Select, RotA, RotB halcore.IRQPin

	Power Power

	// Battery, when set, carries the supply monitor's levels.
	Battery *battery.Signals

	// Feed, when set, carries key presses from a host terminal or serial line.
	Feed io.ReadCloser

	// Link, when set, opens the telemetry byte link.
	Link func(ctx context.Context) (io.ReadWriteCloser, error)

	closers []io.Closer
}

func (b *Board) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// Options selects and parameterises a board.
type Options struct {
	Board        string // sim, linux or pico
	SerialPort   string
	SerialBaud   int
	DetectDevice string
	LinkPort     string
}

// Open builds the named board.
func Open(opts Options, logger *slog.Logger) (*Board, error) {
	switch opts.Board {
	case "", "sim":
		return openSim(opts, logger)
	case "linux":
		return openLinux(opts, logger)
	case "pico":
		return openPico(opts, logger)
	}
	return nil, &errcode.E{C: errcode.Unsupported, Op: "platform.open", Msg: "unknown board " + opts.Board}
}

func unsupported(board string) error {
	return &errcode.E{C: errcode.Unsupported, Op: "platform.open", Msg: board + " board not available in this build"}
}
