package main

import (
	"context"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/martinsuchenak/podd/cmd/network"
	"github.com/martinsuchenak/podd/cmd/run"
	"github.com/martinsuchenak/podd/cmd/server"
	"github.com/martinsuchenak/podd/cmd/target"
	"github.com/martinsuchenak/podd/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "podd",
		Version:     version,
		Usage:       "Device operations over SSH, WinRM, Docker, and Kubernetes",
		Description: "Run commands, configure VLAN networking, and manage services uniformly across Linux hosts, Windows hosts, containers, and pods, with an HTTP API and MCP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"PODD_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"PODD_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logLevel := cmd.GetString("log-level")
			logFormat := cmd.GetString("log-format")
			log.Configure(logLevel, logFormat)
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			run.Command(),
			{
				Name:        "target",
				Usage:       "Target management commands",
				Description: "Manage targets in the inventory",
				Commands:    target.Commands(),
			},
			{
				Name:        "network",
				Usage:       "Network operation commands",
				Description: "Configure interfaces and verify VLANs",
				Commands:    network.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
