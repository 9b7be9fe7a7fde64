//go:build !rp2040

package platform

import (
	"context"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// openSerialFeed opens a serial line. It carries key presses for driving a
// host run from a second machine, or telemetry frames out.
func openSerialFeed(name string, baud int) (*serial.Port, error) {
	if baud <= 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial feed %s: %w", name, err)
	}
	return port, nil
}

// serialLink dials the telemetry port, or returns nil when none is set.
func serialLink(name string, baud int) func(context.Context) (io.ReadWriteCloser, error) {
	if name == "" {
		return nil
	}
	return func(context.Context) (io.ReadWriteCloser, error) {
		return openSerialFeed(name, baud)
	}
}
