package gadget

import (
	"context"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/services/broker"
	"gadgetcore/types"
)

var controlResources = []broker.Resource{broker.ResMatrix, broker.ResNeedle, broker.ResInput}

// registerIdle installs the two lowest-priority clients. The idle screen
// holds only the OLED so that a storage warning covering it leaves the
// controls working; the controls client owns input, the matrix and the
// needle: select redraws the e-ink, turning the knob opens the menu.
func (g *Gadget) registerIdle() error {
	screen, err := g.Broker.Register(broker.PriorityIdle, []broker.Resource{broker.ResOLED},
		broker.WithName("idle"),
		broker.WithOnActivate(func() { g.log.Debug("idle screen") }),
	)
	if err != nil {
		return err
	}
	controls, err := g.Broker.Register(broker.PriorityIdle, controlResources,
		broker.WithName("controls"),
		broker.WithOnInput(g.idleInput),
	)
	if err != nil {
		g.Broker.Unregister(screen)
		return err
	}
	g.idle = []*broker.Registration{screen, controls}
	return nil
}

func (g *Gadget) unregisterIdle() {
	for _, r := range g.idle {
		g.Broker.Unregister(r)
	}
	g.idle = nil
}

func (g *Gadget) idleInput(code types.InputCode) {
	switch code {
	case types.InputSelect:
		g.Display.PushRefresh()
	case types.InputCW, types.InputCCW:
		if err := g.Menu.Open(); err != nil {
			g.log.Warn("menu open failed", logging.Error(err))
		}
	}
}

// watchStorage puts a warning on the OLED while the socket is empty or its
// card failed, and takes it down once a card is ready.
func (g *Gadget) watchStorage(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(topicStorage)
	defer sub.Unsubscribe()

	var (
		warn   *broker.Registration
		reason string
	)
	defer func() { g.Broker.Unregister(warn) }()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			st, ok := m.Payload.(types.StorageState)
			if !ok {
				continue
			}
			switch st.State {
			case "absent", "present_failed":
				if warn != nil && reason == st.State {
					continue
				}
				g.Broker.Unregister(warn)
				warn, reason = nil, st.State
				shown := reason
				reg, err := g.Broker.Register(broker.PriorityStorage, []broker.Resource{broker.ResOLED},
					broker.WithName("storage-warning"),
					broker.WithOnActivate(func() {
						g.log.Warn("storage unavailable", logging.String(logging.FieldState, shown))
					}),
				)
				if err != nil {
					g.log.Error("storage warning", logging.Error(err))
					continue
				}
				warn = reg
			case "ready":
				g.Broker.Unregister(warn)
				warn, reason = nil, ""
			}
		}
	}
}
