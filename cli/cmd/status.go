package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/cli/tui"
	"github.com/pithecene-io/tether/health"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/types"
)

// StatusCommand returns the health status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Probe bridge health, once or live with --tui",
		Flags: append(ConnFlags(), append(ReadOnlyFlags(),
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Probe interval in live mode",
				Value: health.DefaultProbeInterval,
			})...),
		Action: statusAction,
	}
}

// StatusResponse is the rendered result of a one-shot probe.
type StatusResponse struct {
	Addr                string `json:"addr"`
	Status              string `json:"status"`
	RTTMs               int64  `json:"rtt_ms,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func statusAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.New("controller")
	addr := resolveAddr(c, cfg)
	cl := newClient(c, cfg, logger)

	bus, err := newEventBus(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = bus.Close() }()

	monCfg := health.MonitorConfig{
		ProbeInterval:         cfg.Health.ProbeInterval.Duration,
		WarnRTT:               cfg.Health.WarnRTT.Duration,
		UnresponsiveThreshold: cfg.Health.UnresponsiveThreshold,
	}

	// Entering Unresponsive hands the session to the retry manager;
	// exhaustion is the terminal signal.
	retry := health.NewRetryManager(health.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.BackoffBase.Duration,
		BackoffCap:  cfg.Retry.BackoffCap.Duration,
	}, cl, nil, bus, logger)
	reconnect := health.BindRetryManager(c.Context, &monCfg, retry, func(err error) {
		if err != nil {
			logger.Error("reconnection gave up", map[string]any{"error": err.Error()})
		}
	})

	mon := health.NewMonitor(monCfg, cl, bus, logger)

	// A failed connect is still a probe result: the monitor reports
	// disconnected when the client has no live session.
	_ = cl.Connect(c.Context)
	defer cl.Disconnect()

	if c.Bool("tui") {
		prober := func(ctx context.Context) types.HealthState {
			if !cl.Connected() {
				reconnect()
			}
			return mon.Probe(ctx)
		}
		return tui.RunStatusTUI(addr, prober, c.Duration("interval"))
	}

	state := mon.Probe(c.Context)

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := r.Render(StatusResponse{
		Addr:                addr,
		Status:              string(state.Status),
		RTTMs:               state.LastRTT.Milliseconds(),
		ConsecutiveFailures: state.ConsecutiveFailures,
	}); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if state.Status == types.HealthDisconnected || state.Status == types.HealthUnresponsive {
		return cli.Exit("", 1)
	}
	return nil
}
