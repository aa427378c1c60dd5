package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/log"
)

// ShutdownCommand returns the graceful host shutdown command.
func ShutdownCommand() *cli.Command {
	return &cli.Command{
		Name:   "shutdown",
		Usage:  "Ask the bridge host to stop gracefully",
		Flags:  append(ConnFlags(), ReadOnlyFlags()...),
		Action: shutdownAction,
	}
}

// ShutdownResponse is the rendered shutdown acknowledgment.
type ShutdownResponse struct {
	Addr     string `json:"addr"`
	Stopping bool   `json:"stopping"`
}

func shutdownAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for shutdown command", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cl := newClient(c, cfg, log.New("controller"))
	if err := cl.Connect(c.Context); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Disconnect()

	resp, err := cl.Shutdown(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resp.IsError() {
		return cli.Exit(resp.Diagnostic, 1)
	}

	stopping, _ := resp.Result["stopping"].(bool)
	return r.Render(ShutdownResponse{
		Addr:     resolveAddr(c, cfg),
		Stopping: stopping,
	})
}
