// Package flags defines the command line flags of the whiteboard server.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// HostFlag defines the address the HTTP listener binds to.
	HostFlag = &cli.StringFlag{
		Name:    "host",
		Usage:   "Host address the server listens on",
		Value:   "0.0.0.0",
		EnvVars: []string{"OPENBOARD_HOST"},
	}
	// PortFlag defines the port the HTTP listener binds to.
	PortFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "Port the server listens on",
		Value:   3000,
		EnvVars: []string{"OPENBOARD_PORT"},
	}
	// DataDirFlag defines the directory holding the embedded database.
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the board database",
		Value:   "./data",
		EnvVars: []string{"OPENBOARD_DATADIR"},
	}
	// JWTSecretFlag defines the secret bearer tokens are signed with.
	JWTSecretFlag = &cli.StringFlag{
		Name:     "jwt-secret",
		Usage:    "Secret used to verify bearer tokens",
		EnvVars:  []string{"OPENBOARD_JWT_SECRET"},
		Required: true,
	}
	// AllowedOriginsFlag defines the CORS allowlist.
	AllowedOriginsFlag = &cli.StringSliceFlag{
		Name:    "allowed-origins",
		Usage:   "Origins allowed to call the HTTP API. This flag may be used multiple times.",
		Value:   cli.NewStringSlice("*"),
		EnvVars: []string{"OPENBOARD_ALLOWED_ORIGINS"},
	}
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DisableMonitoringFlag defines a flag to disable the metrics endpoint.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable the Prometheus metrics endpoint.",
	}
)
