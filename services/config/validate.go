package config

import (
	"fmt"
	"strings"

	"gadgetcore/errcode"
	"gadgetcore/x/mathx"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateHotplug,
		c.validateDisplay,
		c.validateQueues,
		c.validateHeartbeat,
		c.validateTelemetry,
		c.validateLogging,
		c.validatePlatform,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return &errcode.E{C: errcode.InvalidConfig, Op: "config.validate", Msg: fmt.Sprintf(format, args...)}
}

func (c *Config) validateHotplug() error {
	h := c.Hotplug
	if h.DebounceMs < 0 || h.SettleMs < 0 || h.RetryMs < 0 {
		return invalid("hotplug durations must not be negative")
	}
	if !mathx.Between(h.Tries, 1, 100) {
		return invalid("hotplug.tries must be between 1 and 100, got %d", h.Tries)
	}
	return nil
}

func (c *Config) validateDisplay() error {
	if !mathx.Between(c.Display.Border, 0, 3) {
		return invalid("display.border must be 0..3, got %d", c.Display.Border)
	}
	if c.Display.PlaneSize <= 0 {
		return invalid("display.plane_size must be positive")
	}
	if c.Display.BusyTailMs < 0 {
		return invalid("display.busy_tail_ms must not be negative")
	}
	return nil
}

func (c *Config) validateQueues() error {
	if c.Input.ISRQueue < 1 {
		return invalid("input.isr_queue must be at least 1")
	}
	if c.Bus.QueueLen < 1 {
		return invalid("bus.queue_len must be at least 1")
	}
	if c.Input.MenuTimeoutMs < 1000 {
		return invalid("input.menu_timeout_ms must be at least 1000, got %d", c.Input.MenuTimeoutMs)
	}
	return nil
}

func (c *Config) validateHeartbeat() error {
	if c.Heartbeat.IntervalMs < 100 {
		return invalid("heartbeat.interval_ms must be at least 100, got %d", c.Heartbeat.IntervalMs)
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	for _, t := range c.Telemetry.Topics {
		if strings.TrimSpace(t) == "" {
			return invalid("telemetry.topics must not contain empty entries")
		}
		parts := strings.Split(t, "/")
		for i, p := range parts {
			if p == "#" && i != len(parts)-1 {
				return invalid("telemetry topic %q: # must be last", t)
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level %q not recognised", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validatePlatform() error {
	switch c.Platform.Board {
	case "sim", "linux", "pico":
	default:
		return invalid("platform.board must be sim, linux or pico, got %q", c.Platform.Board)
	}
	if c.Platform.SerialPort != "" && c.Platform.SerialBaud <= 0 {
		return invalid("platform.serial_baud must be positive")
	}
	if c.Platform.Board == "linux" && c.Platform.DetectDevice == "" {
		return invalid("platform.detect_device is required for the linux board")
	}
	return nil
}
