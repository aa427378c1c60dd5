// Package main provides the tether CLI entrypoint.
//
// tether bridges a controller process to a scripting host over a local
// socket. The same binary runs both sides:
//
//	tether serve              # host side: listen and execute scripts
//	tether exec script.lua    # controller side: run a script remotely
//	tether query objects      # controller side: inspect host state
//	tether status --tui       # live health view
//
// Controller commands exit 0 on success and 1 on any failure, including
// a faulted script.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/cmd"
	"github.com/pithecene-io/tether/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tether",
		Usage:          "Inter-process execution bridge CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.ExecCommand(),
			cmd.QueryCommand(),
			cmd.PingCommand(),
			cmd.StatusCommand(),
			cmd.ShutdownCommand(),
			cmd.LaunchCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled cli.ExitCoder errors. This
		// branch catches unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit() so a faulted
// script surfaces as a nonzero process status.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
