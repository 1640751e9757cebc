package network

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/paularlott/cli"

	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/internal/switchprobe"
	"github.com/martinsuchenak/podd/internal/worker"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory for the SQLite database",
			DefaultValue: "./data",
			EnvVars:      []string{"PODD_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:     "target",
			Usage:    "Target ID or name",
			Required: true,
		},
		&cli.StringFlag{
			Name:         "password",
			Usage:        "SSH/WinRM password",
			DefaultValue: "",
			EnvVars:      []string{"PODD_TARGET_PASSWORD"},
		},
	}
}

// Commands returns the network subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		configureCommand(),
		interfacesCommand(),
		verifySwitchCommand(),
	}
}

func configureCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:     "interface",
			Usage:    "Interface name (e.g. eth0, Ethernet0)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "ip",
			Usage: "Static IP address",
		},
		&cli.StringFlag{
			Name:  "netmask",
			Usage: "Netmask in dotted form (e.g. 255.255.255.0)",
		},
		&cli.StringFlag{
			Name:  "gateway",
			Usage: "Default gateway",
		},
		&cli.StringFlag{
			Name:  "dns",
			Usage: "Comma-separated DNS servers",
		},
		&cli.IntFlag{
			Name:  "vlan",
			Usage: "VLAN ID (1-4094)",
		},
		&cli.IntFlag{
			Name:  "mtu",
			Usage: "MTU in bytes",
		},
		&cli.BoolFlag{
			Name:  "dhcp",
			Usage: "Use DHCP instead of static addressing",
		},
	)

	return &cli.Command{
		Name:        "configure",
		Usage:       "Configure an interface on a target",
		Description: "Apply addressing and VLAN configuration to a network interface",
		Flags:       flags,
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := storage.NewSQLiteStorage(cmd.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.GetString("target"))
			if err != nil {
				return err
			}

			runner := worker.NewRunner(store)
			runner.Password = cmd.GetString("password")

			config := oshandler.NetworkConfig{
				Interface: cmd.GetString("interface"),
				IPAddress: cmd.GetString("ip"),
				Netmask:   cmd.GetString("netmask"),
				Gateway:   cmd.GetString("gateway"),
				VLANID:    cmd.GetInt("vlan"),
				MTU:       cmd.GetInt("mtu"),
				DHCP:      cmd.GetBool("dhcp"),
			}
			if dns := cmd.GetString("dns"); dns != "" {
				for _, server := range strings.Split(dns, ",") {
					if server = strings.TrimSpace(server); server != "" {
						config.DNSServers = append(config.DNSServers, server)
					}
				}
			}

			result, err := runner.ConfigureNetwork(ctx, target, config)
			if err != nil {
				return err
			}

			if result.Success {
				fmt.Printf("Network configured on %s (%s)\n", target.Name, config.Interface)
				if result.Stdout != "" {
					fmt.Println(result.Stdout)
				}
				return nil
			}

			fmt.Fprintf(os.Stderr, "Configuration failed (exit %d)\n", result.ExitCode)
			if result.Stderr != "" {
				fmt.Fprintln(os.Stderr, result.Stderr)
			}
			os.Exit(1)
			return nil
		},
	}
}

func interfacesCommand() *cli.Command {
	return &cli.Command{
		Name:        "interfaces",
		Usage:       "List interfaces on a target",
		Description: "Enumerate network interfaces with addresses, VLAN IDs, and state",
		Flags:       commonFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := storage.NewSQLiteStorage(cmd.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.GetString("target"))
			if err != nil {
				return err
			}

			runner := worker.NewRunner(store)
			runner.Password = cmd.GetString("password")

			interfaces, err := runner.Interfaces(ctx, target)
			if err != nil {
				return err
			}
			if len(interfaces) == 0 {
				fmt.Println("No interfaces found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tADDRESSES\tVLAN\tMAC\tMTU")
			for _, iface := range interfaces {
				vlan := ""
				if iface.VLANID > 0 {
					vlan = fmt.Sprintf("%d", iface.VLANID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					iface.Name, iface.State, strings.Join(iface.IPAddresses, ","),
					vlan, iface.MACAddress, iface.MTU)
			}
			return w.Flush()
		},
	}
}

func verifySwitchCommand() *cli.Command {
	return &cli.Command{
		Name:        "verify-switch",
		Usage:       "Verify a VLAN on the upstream switch",
		Description: "Query the switch recorded for a target over SNMP and report whether the VLAN exists",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "data-dir",
				Usage:        "Directory for the SQLite database",
				DefaultValue: "./data",
				EnvVars:      []string{"PODD_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Target ID or name",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "vlan",
				Usage:    "VLAN ID to verify",
				Required: true,
			},
			&cli.IntFlag{
				Name:         "timeout",
				Usage:        "SNMP timeout in seconds",
				DefaultValue: 5,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := storage.NewSQLiteStorage(cmd.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.GetString("target"))
			if err != nil {
				return err
			}
			if target.SwitchAddress == "" {
				return fmt.Errorf("target %s has no switch address configured", target.Name)
			}

			probe := switchprobe.New(target.SwitchAddress, target.SwitchCommunity)
			probe.Timeout = time.Duration(cmd.GetInt("timeout")) * time.Second

			vlanID := cmd.GetInt("vlan")
			present, err := probe.VerifyVLAN(ctx, vlanID)
			if err != nil {
				return err
			}

			if present {
				fmt.Printf("VLAN %d present on switch %s\n", vlanID, target.SwitchAddress)
				return nil
			}
			fmt.Printf("VLAN %d NOT present on switch %s\n", vlanID, target.SwitchAddress)
			os.Exit(1)
			return nil
		},
	}
}
