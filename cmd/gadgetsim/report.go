package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gadgetcore/bus"
	"gadgetcore/services/broker"
	"gadgetcore/services/gadget"
	"gadgetcore/types"
)

// report is a point-in-time view of a running gadget.
type report struct {
	Board    string
	Clients  []broker.Snapshot
	Storage  types.StorageState
	Menu     types.MenuState
	Battery  types.BatteryState
	Passes   uint32
	Decoded  uint32
	Drops    uint32
	Accepted uint32
	Rejected uint32
}

func collectReport(board string, g *gadget.Gadget) report {
	r := report{
		Board:   board,
		Clients: g.Broker.Registrations(),
		Passes:  g.Display.Passes(),
		Decoded: g.Input.Decoded(),
		Drops:   g.Input.ISRDrops(),
	}
	r.Accepted, r.Rejected = g.Socket.Stats()

	conn := g.Bus.NewConnection("report")
	defer conn.Disconnect()
	if st, ok := retained(conn, bus.T("storage", "sd", "state")).(types.StorageState); ok {
		r.Storage = st
	}
	if ms, ok := retained(conn, bus.T("gadget", "menu")).(types.MenuState); ok {
		r.Menu = ms
	}
	if bs, ok := retained(conn, bus.T("power", "battery", "state")).(types.BatteryState); ok {
		r.Battery = bs
	}
	return r
}

// retained returns the retained payload on topic, or nil. Retained
// messages are queued during Subscribe, so no wait is needed.
func retained(conn *bus.Connection, topic bus.Topic) any {
	sub := conn.Subscribe(topic)
	defer sub.Unsubscribe()
	select {
	case m := <-sub.Channel():
		return m.Payload
	default:
		return nil
	}
}

func renderReport(w io.Writer, r report, now time.Time, colorize bool) {
	fmt.Fprintf(w, "Board: %s\n\n", r.Board)

	rows := make([][]string, 0, len(r.Clients))
	for _, c := range r.Clients {
		res := make([]string, 0, len(c.Resources))
		for _, x := range c.Resources {
			res = append(res, string(x))
		}
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Priority), strings.Join(res, ","), yesNo(c.Active)})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Client", "Priority", "Resources", "Active"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
		colorize,
	))

	since := "never"
	if r.Storage.TSms > 0 {
		since = humanize.RelTime(time.UnixMilli(r.Storage.TSms), now, "ago", "from now")
	}
	batt := r.Battery.State
	if batt == "" {
		batt = "unknown"
	}
	menu := "closed"
	if r.Menu.Open {
		menu = fmt.Sprintf("open at %q", r.Menu.Item)
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Item", "Value"},
		[][]string{
			{"Storage", r.Storage.State},
			{"Last transition", since},
			{"Init tries", strconv.Itoa(r.Storage.Tries)},
			{"Detect edges", fmt.Sprintf("%s accepted, %s rejected", humanize.Comma(int64(r.Accepted)), humanize.Comma(int64(r.Rejected)))},
			{"Input decoded", humanize.Comma(int64(r.Decoded))},
			{"Input dropped", humanize.Comma(int64(r.Drops))},
			{"Panel passes", humanize.Comma(int64(r.Passes))},
			{"Menu", menu},
			{"Battery", batt},
		},
		nil,
		colorize,
	))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
