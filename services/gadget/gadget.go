// Package gadget assembles the runtime: bus, broker, e-ink bridge, storage
// socket, input decoder and shutdown sequencer, plus the idle client and
// menu that sit on top of them.
package gadget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/battery"
	"gadgetcore/services/broker"
	"gadgetcore/services/config"
	"gadgetcore/services/display"
	"gadgetcore/services/heartbeat"
	"gadgetcore/services/hotplug"
	"gadgetcore/services/hotplug/sdcard"
	"gadgetcore/services/input"
	"gadgetcore/services/shutdown"
	"gadgetcore/services/telemetry"
	"gadgetcore/types"
)

var topicStorage = bus.T("storage", "sd", "state")

type Gadget struct {
	cfg   config.Config
	board *platform.Board
	log   *slog.Logger

	Bus       *bus.Bus
	Broker    *broker.Broker
	Frame     *display.Frame
	Display   *display.Bridge
	Socket    *hotplug.Socket
	Input     *input.Decoder
	Shutdown  *shutdown.Sequencer
	Menu      *Menu
	Heartbeat *heartbeat.Service
	Telemetry *telemetry.Service // nil unless enabled
	Battery   *battery.Monitor   // nil when the board has no supply monitor

	conn *bus.Connection
	idle []*broker.Registration
	flat atomic.Bool // powering down on an empty battery
}

// New wires the runtime for board. Nothing runs until Run.
func New(cfg config.Config, board *platform.Board, logger *slog.Logger) (*Gadget, error) {
	if board == nil {
		return nil, errors.New("gadget: nil board")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	g := &Gadget{
		cfg:   cfg,
		board: board,
		log:   logging.NewComponentLogger(logger, "gadget"),
		Bus:   bus.NewBus(cfg.Bus.QueueLen),
	}
	g.conn = g.Bus.NewConnection("gadget")
	g.Broker = broker.New(g.Bus.NewConnection("broker"), logger)

	g.Frame = display.NewFrame(cfg.Display.PlaneSize)
	panel := display.NewSPIPanel(board.PanelSPI, board.PanelCS, board.PanelDC, board.PanelBusy, g.Frame,
		display.PanelConfig{
			PlaneSize: cfg.Display.PlaneSize,
			DeepSleep: cfg.Display.DeepSleep,
			BusyTail:  cfg.BusyTail(),
		})
	g.Display = display.New(panel, logger, display.WithBorder(uint8(cfg.Display.Border)))

	cardInit := board.CardInit
	if cardInit == nil {
		cardInit = &sdcard.Initializer{SPI: board.SDSPI, CS: board.SDCS}
	}
	g.Socket = hotplug.New(board.Detect, cardInit, cfg.HotplugConfig(), logger,
		hotplug.WithBus(g.Bus.NewConnection("hotplug")))

	g.Input = input.New(input.Pins{
		Back:   board.Back,
		Select: board.Select,
		A:      board.RotA,
		B:      board.RotB,
	}, g.Broker.Dispatch, cfg.Input.ISRQueue, logger)

	g.Shutdown = shutdown.New(g.Broker, g.powerSteps(), logger)

	g.Menu = newMenu(g.Broker, []MenuItem{
		{Name: "redraw", Run: g.Display.PushRefresh},
		{Name: "blank", Run: g.Display.ClearRefresh},
		{Name: "power off", Run: g.Shutdown.Trigger},
	}, cfg.MenuTimeout(), g.conn, logger)

	g.Heartbeat = heartbeat.New(cfg.HeartbeatInterval(), g.probe, logger)

	if board.Battery != nil {
		g.Battery = battery.New(board.Battery, battery.Actions{
			Redraw: g.Display.PushRefresh,
			Wobble: g.wobble,
			Empty:  g.powerOffFlat,
		}, g.Bus.NewConnection("battery"), logger)
	}

	if cfg.Telemetry.Enabled {
		g.Telemetry = telemetry.New(g.Bus.NewConnection("telemetry"), telemetry.Dial(board.Link),
			cfg.TelemetryTopics(), logger)
	}
	return g, nil
}

// powerSteps follows the clean power-down order: blank the e-ink (or show
// the dead-battery card), then the OLED, the matrix and the needle, and
// finally halt.
func (g *Gadget) powerSteps() []shutdown.Step {
	steps := []shutdown.Step{{
		Name: "eink",
		Fn: func(ctx context.Context) error {
			if g.flat.Load() {
				drawDeadBattery(g.Frame)
				g.Display.PushRefresh()
			} else {
				g.Display.ClearRefresh()
			}
			return g.Display.Settle(ctx)
		},
	}}
	if p := g.board.Power; p != nil {
		steps = append(steps,
			shutdown.Step{Name: "oled", Fn: p.OLEDOff},
			shutdown.Step{Name: "matrix", Fn: p.MatrixOff},
			shutdown.Step{Name: "needle", Fn: p.NeedleZero},
			shutdown.Step{Name: "halt", Fn: p.Halt},
		)
	}
	return steps
}

func (g *Gadget) probe(hb *types.Heartbeat) {
	hb.InputOwner = g.Broker.InputOwner()
	hb.Storage = g.Socket.State().String()
	hb.Decoded = g.Input.Decoded()
	hb.ISRDrops = g.Input.ISRDrops()
}

// PowerOff starts the shutdown sequence. Run returns once it completes.
func (g *Gadget) PowerOff() { g.Shutdown.Trigger() }

func (g *Gadget) powerOffFlat() {
	g.flat.Store(true)
	g.Shutdown.Trigger()
}

// drawDeadBattery leaves the panel solid red, which it keeps unpowered.
func drawDeadBattery(f *display.Frame) { f.Fill(0x00, 0xFF) }

func (g *Gadget) wobble(on bool) {
	w, ok := g.board.Power.(platform.Wobbler)
	if !ok {
		return
	}
	if err := w.NeedleWobble(context.Background(), on); err != nil {
		g.log.Warn("needle wobble", logging.Error(err))
	}
}

// Run starts every task and blocks until ctx is cancelled or the gadget
// has powered down.
func (g *Gadget) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	config.NewService(g.cfg).Start(ctx, g.conn)
	if err := g.registerIdle(); err != nil {
		return err
	}
	defer g.unregisterIdle()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.log.Error("task failed", logging.String("task", name), logging.Error(err))
			}
		}()
	}

	spawn("display", g.Display.Run)
	spawn("hotplug", g.Socket.Run)
	spawn("input", g.Input.Run)
	spawn("shutdown", g.Shutdown.Run)
	spawn("menu-timeout", g.Menu.timer.Run)
	spawn("storage-warning", func(ctx context.Context) error {
		g.watchStorage(ctx, g.Bus.NewConnection("storage-warning"))
		return nil
	})
	spawn("heartbeat", func(ctx context.Context) error {
		g.Heartbeat.Run(ctx, g.Bus.NewConnection("heartbeat"))
		return nil
	})
	if g.Battery != nil {
		spawn("battery", g.Battery.Run)
	}
	if g.Telemetry != nil {
		spawn("telemetry", func(ctx context.Context) error {
			g.Telemetry.Run(ctx)
			return nil
		})
	}
	if g.board.Feed != nil {
		// Not waited for: the read only returns once the board closes the feed.
		go func() {
			if err := platform.PumpFeed(ctx, g.board.Feed, g.Input.Inject); err != nil && ctx.Err() == nil {
				g.log.Warn("input feed ended", logging.Error(err))
			}
		}()
	}

	g.log.Info("running", logging.String("board", g.board.Name))
	select {
	case <-ctx.Done():
	case <-g.Shutdown.Done().Done():
		g.log.Info("powered down")
	}
	cancel()
	wg.Wait()
	return nil
}
