package config

import (
	"github.com/paularlott/cli"
)

// Config holds the application configuration.
type Config struct {
	DataDir        string
	ListenAddr     string
	APIAuthToken   string
	MCPAuthToken   string
	MaxWorkers     int
	HealthSchedule string // cron expression, empty disables health sweeps
	TargetPassword string // SSH/WinRM password, never persisted
	SNMPCommunity  string
}

// GetFlags returns the server configuration flags. Every flag can also
// be set through its PODD_* environment variable or a .env file.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory for the SQLite database",
			DefaultValue: "./data",
			EnvVars:      []string{"PODD_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:         "listen-addr",
			Usage:        "HTTP listen address",
			DefaultValue: ":8080",
			EnvVars:      []string{"PODD_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:         "api-token",
			Usage:        "Bearer token for the REST API (empty disables auth)",
			DefaultValue: "",
			EnvVars:      []string{"PODD_API_TOKEN"},
		},
		&cli.StringFlag{
			Name:         "mcp-token",
			Usage:        "Bearer token for the MCP endpoint (empty disables auth)",
			DefaultValue: "",
			EnvVars:      []string{"PODD_MCP_TOKEN"},
		},
		&cli.IntFlag{
			Name:         "max-workers",
			Usage:        "Concurrent target sessions",
			DefaultValue: 8,
			EnvVars:      []string{"PODD_MAX_WORKERS"},
		},
		&cli.StringFlag{
			Name:         "health-schedule",
			Usage:        "Cron expression for target health sweeps (empty disables)",
			DefaultValue: "",
			EnvVars:      []string{"PODD_HEALTH_SCHEDULE"},
		},
		&cli.StringFlag{
			Name:         "target-password",
			Usage:        "Password for SSH and WinRM sessions",
			DefaultValue: "",
			EnvVars:      []string{"PODD_TARGET_PASSWORD"},
		},
		&cli.StringFlag{
			Name:         "snmp-community",
			Usage:        "Default SNMP community for switch verification",
			DefaultValue: "public",
			EnvVars:      []string{"PODD_SNMP_COMMUNITY"},
		},
	}
}

// Load reads the configuration from parsed flags. Precedence is flags
// over environment variables over .env over defaults; the CLI library
// applies it when the flags are parsed.
func Load(cmd *cli.Command) *Config {
	cfg := &Config{
		DataDir:        cmd.GetString("data-dir"),
		ListenAddr:     cmd.GetString("listen-addr"),
		APIAuthToken:   cmd.GetString("api-token"),
		MCPAuthToken:   cmd.GetString("mcp-token"),
		MaxWorkers:     cmd.GetInt("max-workers"),
		HealthSchedule: cmd.GetString("health-schedule"),
		TargetPassword: cmd.GetString("target-password"),
		SNMPCommunity:  cmd.GetString("snmp-community"),
	}

	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	return cfg
}

// IsAPIAuthEnabled reports whether the REST API requires a bearer token.
func (c *Config) IsAPIAuthEnabled() bool {
	return c.APIAuthToken != ""
}

// IsMCPEnabled reports whether the MCP endpoint requires a bearer token.
func (c *Config) IsMCPEnabled() bool {
	return c.MCPAuthToken != ""
}
