package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/log"
)

// PingCommand returns the liveness probe command.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Probe host liveness and report round-trip time",
		Flags:  append(ConnFlags(), ReadOnlyFlags()...),
		Action: pingAction,
	}
}

// PingResponse is the rendered result of a probe.
type PingResponse struct {
	Addr  string `json:"addr"`
	RTTMs int64  `json:"rtt_ms"`
	RTT   string `json:"rtt"`
}

func pingAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for ping command, use status --tui", 1)
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

	rtt, err := cl.Ping(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return r.Render(PingResponse{
		Addr:  resolveAddr(c, cfg),
		RTTMs: rtt.Milliseconds(),
		RTT:   rtt.String(),
	})
}
