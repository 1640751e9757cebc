package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/paularlott/cli"
	"golang.org/x/term"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/internal/worker"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

// Command returns the run command, which executes a command on one
// target or fans it out to every target matching a tag.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "run",
		Usage:       "Run a command on targets",
		Description: "Execute a shell command on one target, or on all targets matching a tag, recording results in the operation log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "data-dir",
				Usage:        "Directory for the SQLite database",
				DefaultValue: "./data",
				EnvVars:      []string{"PODD_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Target ID or name",
			},
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Run on every target with this tag",
			},
			&cli.StringFlag{
				Name:     "command",
				Usage:    "Command to execute",
				Required: true,
			},
			&cli.IntFlag{
				Name:         "timeout",
				Usage:        "Command timeout in seconds",
				DefaultValue: 30,
			},
			&cli.BoolFlag{
				Name:  "elevate",
				Usage: "Run with elevated privileges",
			},
			&cli.BoolFlag{
				Name:  "prompt-password",
				Usage: "Prompt for the SSH/WinRM password",
			},
			&cli.StringFlag{
				Name:         "password",
				Usage:        "SSH/WinRM password",
				DefaultValue: "",
				EnvVars:      []string{"PODD_TARGET_PASSWORD"},
			},
			&cli.IntFlag{
				Name:         "workers",
				Usage:        "Concurrent sessions when running on multiple targets",
				DefaultValue: 4,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			targetID := cmd.GetString("target")
			tag := cmd.GetString("tag")
			if (targetID == "") == (tag == "") {
				return fmt.Errorf("specify exactly one of --target or --tag")
			}

			store, err := storage.NewSQLiteStorage(cmd.GetString("data-dir"))
			if err != nil {
				return err
			}
			defer store.Close()

			password := cmd.GetString("password")
			if cmd.GetBool("prompt-password") {
				fmt.Fprint(os.Stderr, "Password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				password = string(raw)
			}

			runner := worker.NewRunner(store)
			runner.Password = password

			command := cmd.GetString("command")
			timeout := time.Duration(cmd.GetInt("timeout")) * time.Second
			elevate := cmd.GetBool("elevate")

			if targetID != "" {
				target, err := store.GetTarget(targetID)
				if err != nil {
					return err
				}
				result, err := runner.Run(ctx, target, command, timeout, elevate)
				if err != nil {
					return err
				}
				printResult(target.Name, result)
				if !result.Success {
					os.Exit(result.ExitCode)
				}
				return nil
			}

			targets, err := store.ListTargets(&model.TargetFilter{Tags: []string{tag}})
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return fmt.Errorf("no targets with tag %q", tag)
			}

			pool := worker.NewPool(cmd.GetInt("workers"))
			pool.Start()

			results := make(chan error, len(targets))
			for i := range targets {
				target := targets[i]
				job := worker.Job{
					ID: "run-" + target.ID,
					Handler: func(jobCtx context.Context) error {
						result, err := runner.Run(jobCtx, &target, command, timeout, elevate)
						if err != nil {
							log.Error("Command failed", "target", target.Name, "error", err)
							return err
						}
						printResult(target.Name, result)
						return nil
					},
					Result: results,
				}
				if err := pool.Submit(job); err != nil {
					return err
				}
			}

			failed := 0
			for range targets {
				if err := <-results; err != nil {
					failed++
				}
			}
			pool.Stop()

			if failed > 0 {
				return fmt.Errorf("%d of %d targets failed", failed, len(targets))
			}
			return nil
		},
	}
}

func printResult(name string, result oshandler.Result) {
	fmt.Printf("=== %s (exit %d) ===\n", name, result.ExitCode)
	if result.Stdout != "" {
		fmt.Print(result.Stdout)
		if result.Stdout[len(result.Stdout)-1] != '\n' {
			fmt.Println()
		}
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
}
