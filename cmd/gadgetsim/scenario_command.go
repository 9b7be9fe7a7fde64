package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/config"
	"gadgetcore/services/gadget"
	"gadgetcore/types"
)

// step is one scripted action against the simulated board.
type step struct {
	name string
	wait time.Duration // for "wait" steps
}

var scenarioActions = []string{
	"insert", "remove", "faulty", "healthy",
	"back", "select", "cw", "ccw",
	"battery-low", "charge", "unplug", "battery-empty",
	"poweroff",
}

func parseSteps(args []string) ([]step, error) {
	steps := make([]step, 0, len(args))
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if d, ok := strings.CutPrefix(a, "wait="); ok {
			dur, err := time.ParseDuration(d)
			if err != nil || dur < 0 {
				return nil, fmt.Errorf("step %q: bad duration", a)
			}
			steps = append(steps, step{name: "wait", wait: dur})
			continue
		}
		known := false
		for _, n := range scenarioActions {
			if a == n {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown step %q (want one of %s or wait=<duration>)", a, strings.Join(scenarioActions, ", "))
		}
		steps = append(steps, step{name: a})
	}
	return steps, nil
}

func apply(sim *platform.Sim, g *gadget.Gadget, s step) {
	switch s.name {
	case "insert":
		sim.Insert()
	case "remove":
		sim.Remove()
	case "faulty":
		sim.SetFaulty(true)
	case "healthy":
		sim.SetFaulty(false)
	case "back":
		sim.Press(types.InputBack)
	case "select":
		sim.Press(types.InputSelect)
	case "cw":
		sim.Press(types.InputCW)
	case "ccw":
		sim.Press(types.InputCCW)
	case "battery-low":
		sim.SetBatteryLow(true)
	case "charge":
		sim.SetCharging(true)
	case "unplug":
		sim.SetCharging(false)
	case "battery-empty":
		sim.DrainBattery()
	case "poweroff":
		g.PowerOff()
	}
}

// runScenario plays steps against a fresh simulated gadget and reports its
// final state.
func runScenario(ctx context.Context, cfg config.Config, logger *slog.Logger, steps []step, gap time.Duration, out io.Writer, colorize bool) error {
	sim := platform.NewSim(logger)
	g, err := gadget.New(cfg, sim.Board, logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(runCtx) }()

	// Let the startup plug resolve before the first edge.
	if err := g.Socket.CardStateKnown.Wait(runCtx); err != nil {
		return err
	}

	poweredOff := false
	for _, s := range steps {
		logger.Info("scenario step", logging.String("step", s.name))
		if s.name == "wait" {
			if !sleepCtx(runCtx, s.wait) {
				return runCtx.Err()
			}
			continue
		}
		apply(sim, g, s)
		poweredOff = poweredOff || s.name == "poweroff" || s.name == "battery-empty"
		if !sleepCtx(runCtx, gap) {
			return runCtx.Err()
		}
	}

	if !poweredOff {
		cancel()
	}
	if err := <-done; err != nil {
		return err
	}

	renderReport(out, collectReport("sim", g), time.Now(), colorize)
	if log := sim.PowerLog(); len(log) > 0 {
		fmt.Fprintf(out, "Power-down: %s\n", strings.Join(log, ", "))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newScenarioCommand(ctx *commandContext) *cobra.Command {
	var gap time.Duration

	cmd := &cobra.Command{
		Use:   "scenario STEP...",
		Short: "Play a scripted session against the simulated board",
		Long: "Steps run in order with --gap between them: " + strings.Join(scenarioActions, ", ") +
			", or wait=<duration>. The final state is printed when the script ends.",
		Example: "  gadgetsim scenario insert wait=500ms cw cw select\n" +
			"  gadgetsim scenario faulty insert wait=2s remove",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return runScenario(cmd.Context(), cfg, logger, steps, gap, out, shouldColorize(out))
		},
	}

	cmd.Flags().DurationVar(&gap, "gap", 250*time.Millisecond, "Pause after each action step")
	return cmd
}
