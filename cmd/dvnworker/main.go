// dvnworker is the entry point of the packet verification worker.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nori-zk/dvn-worker/cmd/utils"
	"github.com/nori-zk/dvn-worker/dvn"
	"github.com/nori-zk/dvn-worker/internal/debug"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:   "dvnworker",
		Usage:  "verifies cross-chain packets on the destination DVN contract",
		Flags:  append(utils.WorkerFlags, debug.Flags...),
		Action: runWorker,
		Before: func(ctx *cli.Context) error {
			return debug.Setup(ctx)
		},
		After: func(ctx *cli.Context) error {
			debug.Exit()
			return nil
		},
		Commands: []*cli.Command{
			replayCommand,
			statusCommand,
			pruneCommand,
		},
	}
}

func main() {
	if err := utils.LoadEnv(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load env file:", err)
		os.Exit(1)
	}
	if err := newApp().Run(os.Args); err != nil {
		var cerr *dvn.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, "Fatal:", cerr)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
