//go:build linux && !rp2040

package platform

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"

	"gadgetcore/errcode"
	"gadgetcore/internal/halcore"
	"gadgetcore/internal/logging"
	"gadgetcore/services/hotplug"
)

// openLinux runs against a real card reader. The detect switch is the
// reader's block device appearing and disappearing; everything else is
// simulated.
func openLinux(opts Options, logger *slog.Logger) (*Board, error) {
	dev := devName(opts.DetectDevice)
	if dev == "" {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "platform.linux", Msg: "detect device not set"}
	}
	b := NewSim(logger).Board
	b.Name = "linux"
	pin := newUdevPin(dev, logger)
	b.Detect = pin
	b.CardInit = blockInit{path: "/dev/" + dev}
	b.closers = append(b.closers, pin)

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

func devName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return filepath.Base(s)
}

// udevPin presents a block device as an active-low detect pin: it reads
// low while the device node exists. Edges come from udev add/remove events.
type udevPin struct {
	dev string
	log *slog.Logger

	mu   sync.Mutex
	conn *netlink.UEventConn
	quit chan struct{}
	stop chan struct{}
}

func newUdevPin(dev string, logger *slog.Logger) *udevPin {
	return &udevPin{dev: dev, log: logging.NewComponentLogger(logger, "udev-detect")}
}

func (p *udevPin) ConfigureInput(halcore.Pull) error { return nil }
func (p *udevPin) ConfigureOutput(bool) error {
	return &errcode.E{C: errcode.Unsupported, Op: "udev.output"}
}
func (p *udevPin) Set(bool)    {}
func (p *udevPin) Number() int { return -1 }

func (p *udevPin) Get() bool {
	var st unix.Stat_t
	return unix.Stat("/dev/"+p.dev, &st) != nil
}

func (p *udevPin) SetIRQ(_ halcore.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return &errcode.E{C: errcode.Busy, Op: "udev.irq", Msg: "already monitoring"}
	}
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return errcode.Wrap(errcode.IOError, "udev.connect", err)
	}

	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "block"},
	})

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	p.conn = conn
	p.quit = conn.Monitor(queue, errs, rules)
	p.stop = make(chan struct{})
	go p.loop(queue, errs, p.stop, handler)

	p.log.Info("watching block device", logging.String("device", p.dev))
	return nil
}

func (p *udevPin) loop(queue <-chan netlink.UEvent, errs <-chan error, stop <-chan struct{}, handler func()) {
	for {
		select {
		case <-stop:
			return
		case ev := <-queue:
			if devName(ev.Env["DEVNAME"]) != p.dev {
				continue
			}
			p.log.Debug("block event", logging.String("action", string(ev.Action)))
			handler()
		case err := <-errs:
			p.log.Warn("udev monitor error", logging.Error(err))
		}
	}
}

func (p *udevPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	close(p.stop)
	close(p.quit)
	err := p.conn.Close()
	p.conn, p.quit, p.stop = nil, nil, nil
	return err
}

func (p *udevPin) Close() error { return p.ClearIRQ() }

// blockInit opens the reader's device node. The open file is the card
// handle and is closed when the socket discards it.
type blockInit struct{ path string }

func (b blockInit) Init(ctx context.Context) (hotplug.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, errcode.Wrap(errcode.IOError, "block.open", err)
	}
	return f, nil
}
