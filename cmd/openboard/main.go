// Package main runs the collaborative whiteboard server.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/openboard/openboard/cmd/flags"
	"github.com/openboard/openboard/node"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.HostFlag,
	flags.PortFlag,
	flags.DataDirFlag,
	flags.JWTSecretFlag,
	flags.AllowedOriginsFlag,
	flags.VerbosityFlag,
	flags.DisableMonitoringFlag,
}

func main() {
	app := &cli.App{
		Name:   "openboard",
		Usage:  "Real-time collaborative whiteboard server",
		Flags:  appFlags,
		Action: run,
		Before: func(cliCtx *cli.Context) error {
			level, err := logrus.ParseLevel(cliCtx.String(flags.VerbosityFlag.Name))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Server terminated")
	}
}

func run(cliCtx *cli.Context) error {
	n, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	n.Start()
	return nil
}
