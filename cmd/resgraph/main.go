// Package main is the entry point for the resgraph command.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/resgraph/internal/cli"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
