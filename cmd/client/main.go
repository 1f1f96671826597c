package main

import (
	"os"

	"github.com/pyropy/dbs/lib/logger"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("client")

func main() {
	app := &cli.App{
		Name:  "dbs",
		Usage: "Back up files to the peers of a multicast group",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Value:   "localhost:1099",
				EnvVars: []string{"RPC_ADDR"},
				Usage:   "Address of the local peer",
			},
		},
		Commands: []*cli.Command{
			backupCmd,
			restoreCmd,
			deleteCmd,
			reclaimCmd,
			stateCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("client", "error", err)
	}
}
