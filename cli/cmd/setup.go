package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/adapter"
	"github.com/pithecene-io/tether/adapter/redis"
	"github.com/pithecene-io/tether/adapter/webhook"
	"github.com/pithecene-io/tether/cli/config"
	"github.com/pithecene-io/tether/client"
	"github.com/pithecene-io/tether/log"
)

// DefaultAddr is used when neither flag nor config provides one.
const DefaultAddr = "127.0.0.1:7600"

// loadConfig reads the config file named by --config, or returns an
// empty config when the flag is unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// resolveAddr applies flag-over-config-over-default precedence for the
// controller-side address.
func resolveAddr(c *cli.Context, cfg *config.Config) string {
	if addr := c.String("addr"); addr != "" {
		return addr
	}
	if cfg.Client.Addr != "" {
		return cfg.Client.Addr
	}
	return DefaultAddr
}

// newClient builds a controller client from flags and config.
func newClient(c *cli.Context, cfg *config.Config, logger *log.Logger) *client.Client {
	clientCfg := client.Config{
		Addr:           resolveAddr(c, cfg),
		ConnectTimeout: cfg.Client.ConnectTimeout.Duration,
		RequestTimeout: cfg.Client.RequestTimeout.Duration,
		MaxFrameBytes:  cfg.Client.MaxFrameBytes,
	}
	if t := c.Duration("timeout"); t > 0 {
		clientCfg.RequestTimeout = t
	}
	return client.New(clientCfg, nil, logger)
}

// newEventBus builds the event bus with the configured adapter attached.
// An empty adapter type yields a bus with subscribers only.
func newEventBus(cfg *config.Config, logger *log.Logger) (*adapter.Bus, error) {
	bus := adapter.NewBus(logger)

	switch cfg.Adapter.Type {
	case "":
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook adapter: %w", err)
		}
		bus.Attach(a)
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Adapter.Retries != nil {
			retries = *cfg.Adapter.Retries
		}
		a, err := redis.New(redis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("redis adapter: %w", err)
		}
		bus.Attach(a)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}

	return bus, nil
}
