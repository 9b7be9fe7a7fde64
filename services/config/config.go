// Package config loads the gadget configuration and publishes it on the
// bus as retained config/<section> messages.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gadgetcore/bus"
	"gadgetcore/errcode"
	"gadgetcore/services/hotplug"
	"gadgetcore/x/timex"
)

//go:embed default.toml
var defaultConfig []byte

const configPrefix = "config"

type Hotplug struct {
	DebounceMs int  `toml:"debounce_ms"`
	SettleMs   int  `toml:"settle_ms"`
	Tries      int  `toml:"tries"`
	RetryMs    int  `toml:"retry_ms"`
	ActiveLow  bool `toml:"active_low"`
}

type Display struct {
	Border     int  `toml:"border"`
	PlaneSize  int  `toml:"plane_size"`
	DeepSleep  bool `toml:"deep_sleep"`
	BusyTailMs int  `toml:"busy_tail_ms"`
}

type Input struct {
	ISRQueue      int `toml:"isr_queue"`
	MenuTimeoutMs int `toml:"menu_timeout_ms"`
}

type Bus struct {
	QueueLen int `toml:"queue_len"`
}

type Heartbeat struct {
	IntervalMs int `toml:"interval_ms"`
}

// Telemetry mirrors bus topics onto the board's serial link.
type Telemetry struct {
	Enabled bool     `toml:"enabled"`
	Topics  []string `toml:"topics"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Platform struct {
	Board        string `toml:"board"`
	SerialPort   string `toml:"serial_port"`
	SerialBaud   int    `toml:"serial_baud"`
	DetectDevice string `toml:"detect_device"`
	LinkPort     string `toml:"link_port"`
}

type Config struct {
	Hotplug   Hotplug   `toml:"hotplug"`
	Display   Display   `toml:"display"`
	Input     Input     `toml:"input"`
	Bus       Bus       `toml:"bus"`
	Heartbeat Heartbeat `toml:"heartbeat"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
	Platform  Platform  `toml:"platform"`
}

// Default returns the embedded configuration.
func Default() Config {
	var cfg Config
	if err := toml.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: embedded default.toml: " + err.Error())
	}
	return cfg
}

// DefaultTOML returns the embedded file, for `config init`.
func DefaultTOML() []byte { return append([]byte(nil), defaultConfig...) }

// Load overlays the file at path on the defaults. A missing file is not an
// error; exists reports whether it was found.
func Load(path string) (cfg Config, exists bool, err error) {
	cfg = Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, false, fmt.Errorf("read config: %w", err)
		default:
			exists = true
			if err := Parse(raw, &cfg); err != nil {
				return cfg, true, err
			}
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, exists, err
	}
	return cfg, exists, nil
}

// Parse decodes TOML into cfg, keeping fields the input does not mention.
func Parse(raw []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return &errcode.E{C: errcode.InvalidConfig, Op: "config.parse", Err: err}
	}
	return nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) { return toml.Marshal(cfg) }

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Platform.Board = strings.ToLower(strings.TrimSpace(c.Platform.Board))
}

// HotplugConfig converts the [hotplug] section.
func (c Config) HotplugConfig() hotplug.Config {
	return hotplug.Config{
		Debounce:   timex.Ms(c.Hotplug.DebounceMs),
		Settle:     timex.Ms(c.Hotplug.SettleMs),
		RetryDelay: timex.Ms(c.Hotplug.RetryMs),
		Tries:      c.Hotplug.Tries,
		ActiveLow:  c.Hotplug.ActiveLow,
	}
}

func (c Config) BusyTail() time.Duration { return timex.Ms(c.Display.BusyTailMs) }

func (c Config) HeartbeatInterval() time.Duration { return timex.Ms(c.Heartbeat.IntervalMs) }

func (c Config) MenuTimeout() time.Duration { return timex.Ms(c.Input.MenuTimeoutMs) }

// TelemetryTopics parses the configured topic filters.
func (c Config) TelemetryTopics() []bus.Topic {
	out := make([]bus.Topic, 0, len(c.Telemetry.Topics))
	for _, t := range c.Telemetry.Topics {
		out = append(out, bus.T(strings.Split(t, "/")...))
	}
	return out
}

// Sections maps each section name to its value.
func (c Config) Sections() map[string]any {
	return map[string]any{
		"hotplug":   c.Hotplug,
		"display":   c.Display,
		"input":     c.Input,
		"bus":       c.Bus,
		"heartbeat": c.Heartbeat,
		"telemetry": c.Telemetry,
		"logging":   c.Logging,
		"platform":  c.Platform,
	}
}

// Publish places one retained message per section under config/<section>.
func Publish(conn *bus.Connection, cfg Config) {
	for name, v := range cfg.Sections() {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, name), v, true))
	}
}

// Service publishes a fixed configuration once started.
type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service { return &Service{cfg: cfg} }

func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	if ctx.Err() != nil {
		return
	}
	Publish(conn, s.cfg)
}
