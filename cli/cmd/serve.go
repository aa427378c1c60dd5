package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/history"
	"github.com/pithecene-io/tether/host"
	"github.com/pithecene-io/tether/log"
	"github.com/pithecene-io/tether/metrics"
	"github.com/pithecene-io/tether/queue"
)

// ServeCommand returns the host-side serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge host: listen for controllers and execute scripts",
		Flags: append(ConnFlags(),
			&cli.StringFlag{
				Name:  "scene",
				Usage: "Scene name",
				Value: "main",
			},
			&cli.IntFlag{
				Name:  "queue-capacity",
				Usage: "Bound on in-flight requests",
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.New("host")
	bus, err := newEventBus(cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = bus.Close() }()

	addr := c.String("addr")
	if addr == "" {
		addr = cfg.Host.Addr
	}
	if addr == "" {
		addr = DefaultAddr
	}

	queueCapacity := c.Int("queue-capacity")
	if queueCapacity <= 0 {
		queueCapacity = cfg.Host.QueueCapacity
	}

	sceneName := c.String("scene")
	if sceneName == "main" && cfg.Host.SceneName != "" {
		sceneName = cfg.Host.SceneName
	}

	scene := host.NewScene(sceneName)
	sandbox := host.NewSandbox(scene)
	defer sandbox.Close()

	q := queue.New(queueCapacity)
	hist := history.NewLog(cfg.History.Capacity)

	var archiver *history.Archiver
	if cfg.History.Archive.Bucket != "" {
		archiver, err = history.NewArchiver(c.Context, history.S3Config{
			Bucket:       cfg.History.Archive.Bucket,
			Prefix:       cfg.History.Archive.Prefix,
			Region:       cfg.History.Archive.Region,
			Endpoint:     cfg.History.Archive.Endpoint,
			UsePathStyle: cfg.History.Archive.S3PathStyle,
		})
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	sessionID := uuid.NewString()
	collector := metrics.NewCollector(sessionID, addr)

	srv := host.NewServer(host.ServerConfig{
		Addr:          addr,
		QueueCapacity: queueCapacity,
		MaxFrameBytes: cfg.Host.MaxFrameBytes,
		SessionID:     sessionID,
		Archiver:      archiver,
	}, q, hist, collector, bus, logger)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec := host.NewExecutor(host.ExecutorConfig{
		TickInterval: cfg.Host.TickInterval.Duration,
		MaxPerTick:   cfg.Host.MaxPerTick,
		SessionID:    sessionID,
		OnShutdown:   stop,
	}, q, sandbox, scene, hist, collector, bus, logger)

	if err := srv.Listen(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	// The executor owns the main goroutine: the scene is only ever
	// touched from here.
	exec.Run(ctx)

	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("stop failed", map[string]any{"error": err.Error()})
	}
	if err := <-serveErr; err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
