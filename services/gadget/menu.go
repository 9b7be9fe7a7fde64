package gadget

import (
	"log/slog"
	"sync"
	"time"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/services/broker"
	"gadgetcore/types"
	"gadgetcore/x/deferred"
	"gadgetcore/x/mathx"
	"gadgetcore/x/timex"
)

var topicMenu = bus.T("gadget", "menu")

var menuResources = []broker.Resource{broker.ResOLED, broker.ResInput}

// MenuItem is one selectable entry.
type MenuItem struct {
	Name string
	Run  func()
}

// Menu is a list the knob scrolls through. It holds the OLED and input at
// menu priority while open and closes itself after a spell without input.
type Menu struct {
	broker *broker.Broker
	items  []MenuItem
	conn   *bus.Connection
	log    *slog.Logger
	timer  *deferred.Task

	mu     sync.Mutex
	open   bool
	reg    *broker.Registration
	cursor int
}

func newMenu(b *broker.Broker, items []MenuItem, timeout time.Duration, conn *bus.Connection, logger *slog.Logger) *Menu {
	m := &Menu{
		broker: b,
		items:  items,
		conn:   conn,
		log:    logging.NewComponentLogger(logger, "menu"),
	}
	m.timer = deferred.New(timeout, func() {
		m.log.Debug("inactive, closing")
		m.Close()
	})
	return m
}

// Open registers the menu with the cursor on the first item. Opening an
// open menu only restarts its timeout.
func (m *Menu) Open() error {
	m.mu.Lock()
	if m.open {
		m.mu.Unlock()
		m.timer.Touch()
		return nil
	}
	m.open = true
	m.cursor = 0
	m.mu.Unlock()

	reg, err := m.broker.Register(broker.PriorityMenu, menuResources,
		broker.WithName("menu"),
		broker.WithOnInput(m.input),
		broker.WithOnActivate(m.publish),
	)
	if err != nil {
		m.mu.Lock()
		m.open = false
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.reg = reg
	m.mu.Unlock()
	m.timer.Touch()
	m.log.Info("opened")
	return nil
}

// Close unregisters the menu. Closing a closed menu does nothing.
func (m *Menu) Close() {
	m.mu.Lock()
	reg := m.reg
	m.reg = nil
	m.open = false
	m.mu.Unlock()
	if reg == nil {
		return
	}
	m.timer.Untouch()
	m.broker.Unregister(reg)
	m.publish()
	m.log.Info("closed")
}

func (m *Menu) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Cursor is the index of the highlighted item.
func (m *Menu) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *Menu) input(code types.InputCode) {
	m.timer.Touch()
	switch code {
	case types.InputCW:
		m.move(+1)
	case types.InputCCW:
		m.move(-1)
	case types.InputSelect:
		m.mu.Lock()
		item := m.items[m.cursor]
		m.mu.Unlock()
		m.log.Info("selected", logging.String("item", item.Name))
		m.Close()
		if item.Run != nil {
			item.Run()
		}
	case types.InputBack:
		m.Close()
	}
}

// move steps the cursor, stopping at either end.
func (m *Menu) move(d int) {
	m.mu.Lock()
	c := mathx.Clamp(m.cursor+d, 0, len(m.items)-1)
	if c == m.cursor {
		m.mu.Unlock()
		return
	}
	m.cursor = c
	m.mu.Unlock()
	m.publish()
}

func (m *Menu) publish() {
	if m.conn == nil {
		return
	}
	m.mu.Lock()
	st := types.MenuState{Open: m.open, Cursor: m.cursor, TSms: timex.NowMs()}
	if st.Open {
		st.Item = m.items[m.cursor].Name
	}
	m.mu.Unlock()
	m.conn.Publish(m.conn.NewMessage(topicMenu, st, true))
}
