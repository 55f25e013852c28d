// rtcsig CLI entry point.
//
// This tool keeps a resilient signaling session with a channelling server
// (connect) and applies media policies to session descriptions offline
// (rewrite, inspect). Settings come from flags, rtcsig.yaml and RTCSIG_*
// environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"github.com/1ureka/rtcsig/cmd/rtcsig/commands"
)

var version = "dev"

func main() {
	// stdout carries rewrite output.
	banner := pterm.Info.WithWriter(os.Stderr)
	banner.Println(fmt.Sprintf("rtcsig — v%s", version))

	if err := commands.NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
