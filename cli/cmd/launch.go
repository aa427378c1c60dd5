package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/config"
	"github.com/pithecene-io/tether/health"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/supervise"
)

// LaunchCommand returns the host process launcher command. It starts the
// host binary under supervision, waits for it to accept connections, and
// keeps it alive until the host exits or the launcher is interrupted.
func LaunchCommand() *cli.Command {
	return &cli.Command{
		Name:      "launch",
		Usage:     "Start a bridge host process and supervise it",
		ArgsUsage: "<host-binary> [args...]",
		Flags: append(ConnFlags(),
			&cli.DurationFlag{
				Name:  "ready-timeout",
				Usage: "How long to wait for the host to accept connections",
				Value: 30 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Exit after the host is ready instead of supervising it",
			},
		),
		Action: launchAction,
	}
}

func launchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	path := c.Args().First()
	args := c.Args().Tail()
	if path == "" {
		path = cfg.Supervise.Command
		args = cfg.Supervise.Args
	}
	if path == "" {
		return cli.Exit("host binary required (argument or supervise.command in config)", 1)
	}

	logger := log.New("launcher")
	addr := resolveAddr(c, cfg)

	sup, err := supervise.New(supervise.Config{
		Path: path,
		Args: args,
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := sup.Launch(c.Context); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := waitReady(c, cfg, logger); err != nil {
		_ = sup.Kill()
		return cli.Exit(err.Error(), 1)
	}
	logger.Info("host ready", map[string]any{"addr": addr})

	if c.Bool("no-wait") {
		return nil
	}

	select {
	case <-sup.Done():
		if err := sup.Wait(c.Context); err != nil {
			return cli.Exit(fmt.Sprintf("host exited: %v", err), 1)
		}
		return nil
	case <-c.Context.Done():
		if err := sup.Kill(); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		return nil
	}
}

// waitReady retries connecting to the freshly launched host with backoff
// until it answers or the retry budget runs out.
func waitReady(c *cli.Context, cfg *config.Config, logger *log.Logger) error {
	cl := newClient(c, cfg, logger)
	defer cl.Disconnect()

	mgr := health.NewRetryManager(health.RetryConfig{
		MaxAttempts: readyAttempts(c.Duration("ready-timeout"), cfg),
		BackoffBase: cfg.Retry.BackoffBase.Duration,
		BackoffCap:  cfg.Retry.BackoffCap.Duration,
	}, cl, nil, nil, logger)

	return mgr.Reconnect(c.Context)
}

// readyAttempts sizes the retry budget so the backoff schedule roughly
// spans the requested ready window.
func readyAttempts(window time.Duration, cfg *config.Config) int {
	base := cfg.Retry.BackoffBase.Duration
	if base <= 0 {
		base = health.DefaultBackoffBase
	}
	capD := cfg.Retry.BackoffCap.Duration
	if capD <= 0 {
		capD = health.DefaultBackoffCap
	}

	attempts := 1
	elapsed := time.Duration(0)
	backoff := base
	for elapsed < window && attempts < 20 {
		elapsed += backoff
		backoff *= 2
		if backoff > capD {
			backoff = capD
		}
		attempts++
	}
	return attempts
}
