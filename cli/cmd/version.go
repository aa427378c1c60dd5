package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tether/cli/render"
	"github.com/pithecene-io/tether/types"
)

// VersionCommand returns the version command. commit is the build
// commit injected at link time.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			return versionAction(c, commit)
		},
	}
}

// VersionResponse is the rendered version report.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func versionAction(c *cli.Context, commit string) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for version command", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(VersionResponse{
		Version: types.Version,
		Commit:  commit,
	})
}
