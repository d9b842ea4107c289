// Command crew is the control-plane client for a crewd daemon: it
// resolves configuration and project scope, dials the daemon's control
// socket, and renders every response as a stable JSON envelope.
package main

import (
	"os"
	"runtime/debug"

	"github.com/sidelinehq/crewd/internal/cli"
)

var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	os.Exit(cli.Execute(version))
}
