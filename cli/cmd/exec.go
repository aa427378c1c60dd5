package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/log"
)

// ExecCommand returns the script execution command.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Execute a script on the bridge host",
		ArgsUsage: "<script-file | ->",
		Flags: append(ConnFlags(), append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "eval",
				Aliases: []string{"e"},
				Usage:   "Inline script source instead of a file",
			})...),
		Action: execAction,
	}
}

// ExecResponse is the rendered result of an execution.
type ExecResponse struct {
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Logs       string `json:"logs,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func execAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for exec command", 1)
	}

	script, err := readScript(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
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

	var deadlineMs int64
	if t := c.Duration("timeout"); t > 0 {
		deadlineMs = t.Milliseconds()
	}

	resp, err := cl.Execute(c.Context, script, deadlineMs)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	out := ExecResponse{
		Status:     string(resp.Status),
		Logs:       resp.Logs,
		Diagnostic: resp.Diagnostic,
	}
	// msgpack decodes small integers as either signed or unsigned.
	switch v := resp.Result["duration_ms"].(type) {
	case int64:
		out.DurationMs = v
	case uint64:
		out.DurationMs = int64(v)
	}
	if err := r.Render(out); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resp.IsError() {
		return cli.Exit("", 1)
	}
	return nil
}

// readScript resolves the script source: --eval, a file argument, or
// stdin when the argument is "-".
func readScript(c *cli.Context) (string, error) {
	if src := c.String("eval"); src != "" {
		return src, nil
	}

	arg := c.Args().First()
	switch arg {
	case "":
		return "", fmt.Errorf("script file required (or use --eval)")
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("read script %s: %w", arg, err)
		}
		return string(data), nil
	}
}
