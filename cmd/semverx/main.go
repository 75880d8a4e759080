// Command semverx resolves, verifies and installs SemVerX packages.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/git-pkgs/semverx/internal/cli"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		cli.NewRootCommand(),
		fang.WithVersion(cli.VersionString()),
		fang.WithErrorHandler(cli.ErrorHandler),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
