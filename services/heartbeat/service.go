// Package heartbeat publishes a periodic runtime summary so that a host
// watching the telemetry link can tell the gadget is alive.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"gadgetcore/bus"
	"gadgetcore/internal/logging"
	"gadgetcore/services/config"
	"gadgetcore/types"
	"gadgetcore/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("gadget", "heartbeat")
)

const minInterval = 100 * time.Millisecond

// Probe fills in the live fields of one beat.
type Probe func(hb *types.Heartbeat)

type Service struct {
	interval time.Duration
	probe    Probe
	log      *slog.Logger

	start time.Time
	seq   uint32
}

func New(interval time.Duration, probe Probe, logger *slog.Logger) *Service {
	if interval < minInterval {
		interval = minInterval
	}
	return &Service{
		interval: interval,
		probe:    probe,
		log:      logging.NewComponentLogger(logger, "heartbeat"),
	}
}

// Run beats until ctx is cancelled. A config/heartbeat message with a new
// interval retunes the ticker.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	s.start = time.Now()
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("stopping")
			return
		case <-tick.C:
			conn.Publish(conn.NewMessage(topicHeartbeat, s.beat(), false))
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			hc, ok := msg.Payload.(config.Heartbeat)
			if !ok {
				continue
			}
			iv := timex.Ms(hc.IntervalMs)
			if iv < minInterval || iv == s.interval {
				continue
			}
			s.interval = iv
			tick.Reset(iv)
			s.log.Info("interval changed", logging.Duration("interval", iv))
		}
	}
}

func (s *Service) beat() types.Heartbeat {
	s.seq++
	hb := types.Heartbeat{
		Seq:     s.seq,
		UptimeS: int64(time.Since(s.start) / time.Second),
		TSms:    timex.NowMs(),
	}
	if s.probe != nil {
		s.probe(&hb)
	}
	return hb
}
