package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/host"
	"github.com/pithecene-io/tether/log"
)

// validSelectors are the host-state views query exposes.
var validSelectors = []string{
	host.QueryScene,
	host.QueryObjects,
	host.QueryHistory,
	host.QueryMetrics,
}

// QueryCommand returns the read-only host-state query command.
func QueryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Query host state: " + strings.Join(validSelectors, ", "),
		ArgsUsage: "[selector]",
		Flags:     append(ConnFlags(), ReadOnlyFlags()...),
		Action:    queryAction,
	}
}

func queryAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for query command, use status --tui", 1)
	}

	selector := c.Args().First()
	if selector == "" {
		selector = host.QueryScene
	}
	valid := false
	for _, s := range validSelectors {
		if selector == s {
			valid = true
			break
		}
	}
	if !valid {
		return cli.Exit(fmt.Sprintf("unknown selector %q (must be one of %s)",
			selector, strings.Join(validSelectors, ", ")), 1)
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

	resp, err := cl.Query(c.Context, selector)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resp.IsError() {
		return cli.Exit(resp.Diagnostic, 1)
	}

	// The objects selector renders as rows; the rest as key/value.
	if selector == host.QueryObjects {
		if objs, ok := resp.Result["objects"].([]any); ok {
			return r.Render(objs)
		}
	}
	return r.Render(resp.Result)
}
