package target

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/paularlott/cli"

	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/storage"
)

func dataDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:         "data-dir",
		Usage:        "Directory for the SQLite database",
		DefaultValue: "./data",
		EnvVars:      []string{"PODD_DATA_DIR"},
	}
}

func openStorage(cmd *cli.Command) (storage.Storage, error) {
	return storage.NewSQLiteStorage(cmd.GetString("data-dir"))
}

// Commands returns the target management subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		addCommand(),
		listCommand(),
		getCommand(),
		deleteCommand(),
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Add a target",
		Description: "Register a host, container, or pod as a managed target",
		Flags: []cli.Flag{
			dataDirFlag(),
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Target name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "transport",
				Usage:    "Transport protocol (ssh, winrm, docker, kube)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Host address, container ID, or kubeconfig path",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port number (0 uses the transport default)",
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Username for SSH/WinRM access",
			},
			&cli.StringFlag{
				Name:  "key-path",
				Usage: "Path to SSH private key",
			},
			&cli.StringFlag{
				Name:  "os-type",
				Usage: "OS type hint (linux, windows, ubuntu, ...)",
			},
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "Kubernetes namespace",
			},
			&cli.StringFlag{
				Name:  "pod",
				Usage: "Kubernetes pod name",
			},
			&cli.StringFlag{
				Name:  "container",
				Usage: "Kubernetes container name",
			},
			&cli.StringFlag{
				Name:  "switch-address",
				Usage: "Upstream switch address for VLAN verification",
			},
			&cli.StringFlag{
				Name:  "switch-community",
				Usage: "SNMP community for the upstream switch",
			},
			&cli.StringFlag{
				Name:  "tags",
				Usage: "Comma-separated tags",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			transport := cmd.GetString("transport")
			switch transport {
			case "ssh", "winrm", "docker", "kube":
			default:
				return fmt.Errorf("invalid transport %q (want ssh, winrm, docker, or kube)", transport)
			}

			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			target := &model.Target{
				ID:              uuid.New().String(),
				Name:            cmd.GetString("name"),
				Transport:       transport,
				Address:         cmd.GetString("address"),
				Port:            cmd.GetInt("port"),
				Username:        cmd.GetString("username"),
				KeyPath:         cmd.GetString("key-path"),
				OSType:          cmd.GetString("os-type"),
				Namespace:       cmd.GetString("namespace"),
				Pod:             cmd.GetString("pod"),
				Container:       cmd.GetString("container"),
				SwitchAddress:   cmd.GetString("switch-address"),
				SwitchCommunity: cmd.GetString("switch-community"),
			}
			if tags := cmd.GetString("tags"); tags != "" {
				for _, tag := range strings.Split(tags, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						target.Tags = append(target.Tags, tag)
					}
				}
			}

			if err := store.CreateTarget(target); err != nil {
				return err
			}

			fmt.Printf("Target added: %s (ID: %s)\n", target.Name, target.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List targets",
		Description: "List registered targets, optionally filtered by transport or tag",
		Flags: []cli.Flag{
			dataDirFlag(),
			&cli.StringFlag{
				Name:  "transport",
				Usage: "Filter by transport (ssh, winrm, docker, kube)",
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Filter by tag",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := &model.TargetFilter{Transport: cmd.GetString("transport")}
			if tag := cmd.GetString("tag"); tag != "" {
				filter.Tags = []string{tag}
			}

			targets, err := store.ListTargets(filter)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println("No targets found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tADDRESS\tOS\tTAGS")
			for _, t := range targets {
				address := t.Address
				if t.Transport == "kube" && t.Pod != "" {
					address = t.Namespace + "/" + t.Pod
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.Name, t.Transport, address, t.OSType, strings.Join(t.Tags, ","))
			}
			return w.Flush()
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Usage:       "Show a target",
		Description: "Show a target as JSON, looked up by ID or name",
		Flags: []cli.Flag{
			dataDirFlag(),
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Target ID or name",
				Required: true,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := store.GetTarget(cmd.GetString("id"))
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(target, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a target",
		Description: "Remove a target and its operation history",
		Flags: []cli.Flag{
			dataDirFlag(),
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Target ID or name",
				Required: true,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			id := cmd.GetString("id")
			target, err := store.GetTarget(id)
			if err != nil {
				return err
			}
			if err := store.DeleteTarget(target.ID); err != nil {
				return err
			}

			fmt.Printf("Target deleted: %s\n", target.Name)
			return nil
		},
	}
}
