// nasdesk - command-line client for Synology FileStation
package main

import (
	"os"

	"github.com/nasdesk/nasdesk/internal/cli"
	"github.com/nasdesk/nasdesk/internal/version"
)

// Version information, overridden with -ldflags at release time
var (
	Version   = "v0.4.0"
	BuildTime = "2026-10-18"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
