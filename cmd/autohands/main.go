// Command autohands is the entry point for the autonomous agent
// runtime: it loads configuration, wires the RunLoop and its channel
// fabric, and exposes the run/daemon/skill subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/nexus-run/nexus-core/internal/cli"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := cli.NewRootCmd(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
