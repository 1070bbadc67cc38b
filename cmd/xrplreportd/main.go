// Command xrplreportd runs a reporting/indexing node: it extracts validated
// ledgers from one or more upstream peers, transforms and persists them to a
// backend store, and serves the resulting history to readers.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/xrplf/xrplreport/internal/xlog"
)

var gitCommit = "unknown"

func main() {
	app := &cli.App{
		Name:    "xrplreportd",
		Usage:   "run or inspect a reporting node",
		Version: gitCommit,
		Commands: []*cli.Command{
			serveCommand,
			verifyConfigCommand,
			dumpRangeCommand,
			exampleConfigCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		// app.Run already logged usage errors itself; this path is for
		// errors returned from an Action, which we want on stderr even if
		// the logger hasn't been configured yet (the config load that
		// configures it may itself be what failed).
		fmt.Fprintln(os.Stderr, "xrplreportd:", err)
		xlog.For("main").Error("exiting", "err", err)
		os.Exit(1)
	}
}
