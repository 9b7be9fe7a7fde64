//go:build rp2040

// cmd/boardtest/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/config"
	"gadgetcore/services/display"
	"gadgetcore/services/hotplug"
	"gadgetcore/services/hotplug/sdcard"
	"gadgetcore/services/input"
	"gadgetcore/types"
)

// ---------- Configuration ----------

const (
	cardTimeout  = 5 * time.Second
	panelTimeout = 20 * time.Second
	inputWindow  = 10 * time.Second
	cycleDelay   = 3 * time.Second

	// Cycles: 0 = loop forever
	cyclesToRun = 0
)

// ---------- Output to console and the spare link ----------

type out struct {
	console io.Writer
	link    io.Writer
}

func (o *out) printf(format string, a ...any) {
	line := fmt.Sprintf(format, a...)
	_, _ = io.WriteString(o.console, line)
	if o.link != nil {
		_, _ = io.WriteString(o.link, line)
	}
}

func verdict(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// ---------- Checks ----------

// checkCard runs the socket until the card state is decided.
func checkCard(o *out, board *platform.Board, cfg config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), cardTimeout)
	defer cancel()

	sock := hotplug.New(board.Detect, &sdcard.Initializer{SPI: board.SDSPI, CS: board.SDCS},
		cfg.HotplugConfig(), logging.NewNop())
	done := make(chan struct{})
	go func() { _ = sock.Run(ctx); close(done) }()

	err := sock.CardStateKnown.Wait(ctx)
	st := sock.State()
	cancel()
	<-done

	if err != nil {
		o.printf("[card] state not decided within %s\n", cardTimeout)
		return false
	}
	o.printf("[card] %s after %d tries\n", st, sock.Tries())
	return st == hotplug.StateReady
}

// checkPanel draws a half black, half red test card and waits for the refresh.
func checkPanel(o *out, board *platform.Board, cfg config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), panelTimeout)
	defer cancel()

	frame := display.NewFrame(cfg.Display.PlaneSize)
	frame.Update(func(black, red []byte) {
		for i := range black {
			if i < len(black)/2 {
				black[i] = 0x00
			} else {
				red[i] = 0xFF
			}
		}
	})
	panel := display.NewSPIPanel(board.PanelSPI, board.PanelCS, board.PanelDC, board.PanelBusy, frame,
		display.PanelConfig{PlaneSize: cfg.Display.PlaneSize, BusyTail: cfg.BusyTail()})
	br := display.New(panel, logging.NewNop())
	done := make(chan struct{})
	go func() { _ = br.Run(ctx); close(done) }()

	start := time.Now()
	br.PushRefresh()
	err := br.Settle(ctx)
	cancel()
	<-done

	if err != nil {
		o.printf("[panel] refresh not finished within %s\n", panelTimeout)
		return false
	}
	o.printf("[panel] refreshed in %s\n", time.Since(start).Round(time.Millisecond))
	return true
}

// checkInput echoes every decoded control for a while. Passing needs at
// least one of each code.
func checkInput(o *out, board *platform.Board, cfg config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), inputWindow)
	defer cancel()

	seen := make(map[types.InputCode]int)
	codes := make(chan types.InputCode, 16)
	dec := input.New(input.Pins{Back: board.Back, Select: board.Select, A: board.RotA, B: board.RotB},
		func(c types.InputCode) {
			select {
			case codes <- c:
			default:
			}
		}, cfg.Input.ISRQueue, logging.NewNop())
	go func() { _ = dec.Run(ctx) }()

	o.printf("[input] press back, select and turn the knob both ways (%s)\n", inputWindow)
	for {
		select {
		case c := <-codes:
			seen[c]++
			o.printf("[input] %s\n", c)
		case <-ctx.Done():
			if n := dec.ISRDrops(); n > 0 {
				o.printf("[input] %d samples dropped\n", n)
			}
			return seen[types.InputBack] > 0 && seen[types.InputSelect] > 0 &&
				seen[types.InputCW] > 0 && seen[types.InputCCW] > 0
		}
	}
}

// ---------- Main ----------

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	o := &out{console: platform.Console()}
	cfg := config.Default()
	cfg.Platform.Board = "pico"

	board, err := platform.Open(platform.Options{Board: cfg.Platform.Board}, logging.NewNop())
	if err != nil {
		o.printf("[boardtest] open board: %v\n", err)
		select {}
	}
	if board.Link != nil {
		if l, err := board.Link(context.Background()); err == nil {
			o.link = l
		}
	}

	for cycle := 1; cyclesToRun == 0 || cycle <= cyclesToRun; cycle++ {
		o.printf("[boardtest] cycle %d\n", cycle)
		card := checkCard(o, board, cfg)
		panel := checkPanel(o, board, cfg)
		in := checkInput(o, board, cfg)
		o.printf("[boardtest] card=%s panel=%s input=%s\n", verdict(card), verdict(panel), verdict(in))
		time.Sleep(cycleDelay)
	}
	select {}
}
