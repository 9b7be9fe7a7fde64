// Package shutdown takes every shared peripheral at the highest priority
// and powers the gadget down in a fixed order.
package shutdown

import (
	"context"
	"log/slog"
	"time"

	"gadgetcore/internal/logging"
	"gadgetcore/services/broker"
	"gadgetcore/x/syncx"
)

// Step is one power-down action. A failing step is logged and the
// sequence carries on.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Resources is everything the sequencer claims.
var Resources = []broker.Resource{broker.ResOLED, broker.ResMatrix, broker.ResNeedle, broker.ResInput}

type Sequencer struct {
	broker *broker.Broker
	steps  []Step

	trigger *syncx.Flag
	active  syncx.Event
	done    syncx.Event

	log *slog.Logger
}

func New(b *broker.Broker, steps []Step, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		broker:  b,
		steps:   steps,
		trigger: syncx.NewFlag(),
		log:     logging.NewComponentLogger(logger, "shutdown"),
	}
}

// Trigger requests a shutdown. It never blocks and may be called from
// interrupt-deferred code.
func (s *Sequencer) Trigger() { s.trigger.Set() }

// Done is set once every step has run.
func (s *Sequencer) Done() *syncx.Event { return &s.done }

// Run waits for Trigger, takes the peripherals and runs the steps. It
// returns after the last step; input stays swallowed by the registration.
func (s *Sequencer) Run(ctx context.Context) error {
	if err := s.trigger.Wait(ctx); err != nil {
		return err
	}
	s.log.Info("shutdown requested")

	// No input handler: owning input with none swallows it.
	_, err := s.broker.Register(broker.PriorityShutdown, Resources,
		broker.WithName("shutdown"),
		broker.WithOnActivate(s.active.Set),
	)
	if err != nil {
		s.log.Error("cannot claim peripherals", logging.Error(err))
		return err
	}

	if err := s.active.Wait(ctx); err != nil {
		return err
	}

	for _, st := range s.steps {
		start := time.Now()
		if err := st.Fn(ctx); err != nil {
			s.log.Warn("power-down step failed", logging.String("step", st.Name), logging.Error(err))
			continue
		}
		s.log.Info("power-down step done",
			logging.String("step", st.Name),
			logging.Duration("took", time.Since(start)))
	}
	s.done.Set()
	return nil
}
