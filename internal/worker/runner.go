package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/pkg/connection"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

// Recorder persists operation outcomes to the audit log.
// storage.SQLiteStorage satisfies it.
type Recorder interface {
	RecordOperation(record *model.OperationRecord) error
}

// Runner turns a stored target into a live handler session and records
// every executed operation. The API, MCP, and CLI layers all go through
// it so they share the same dial and audit behaviour.
type Runner struct {
	registry *oshandler.Registry
	recorder Recorder

	// Password authenticates SSH and WinRM sessions. It comes from
	// configuration and is never persisted alongside the target.
	Password string

	// ConnectTimeout bounds transport establishment per target.
	ConnectTimeout time.Duration
}

// NewRunner creates a runner backed by the built-in handler registry.
// recorder may be nil; operations then run without an audit trail.
func NewRunner(recorder Recorder) *Runner {
	return &Runner{
		registry:       oshandler.NewRegistry(),
		recorder:       recorder,
		ConnectTimeout: 30 * time.Second,
	}
}

// Registry exposes the handler registry so callers can add custom
// platform mappings before the first session is opened.
func (r *Runner) Registry() *oshandler.Registry {
	return r.registry
}

// dial builds the transport for a target without connecting it.
func (r *Runner) dial(target *model.Target) (connection.Connection, error) {
	switch target.Transport {
	case "ssh":
		return connection.NewSSHConnection(connection.SSHConfig{
			Host:           target.Address,
			Port:           target.Port,
			Username:       target.Username,
			Password:       r.Password,
			PrivateKeyPath: target.KeyPath,
			ConnectTimeout: r.ConnectTimeout,
		}), nil
	case "winrm":
		return connection.NewWinRMConnection(connection.WinRMConfig{
			Host:           target.Address,
			Port:           target.Port,
			Username:       target.Username,
			Password:       r.Password,
			ConnectTimeout: r.ConnectTimeout,
		}), nil
	case "docker":
		return connection.NewDockerConnection(target.Address)
	case "kube":
		return connection.NewKubeConnection(connection.KubeConfig{
			Kubeconfig: target.Address,
			Namespace:  target.Namespace,
			Pod:        target.Pod,
			Container:  target.Container,
		})
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", oshandler.ErrConfiguration, target.Transport)
	}
}

// Session connects to the target and resolves its operations handler.
// The returned release function closes the transport and must be called
// once the handler is no longer needed.
func (r *Runner) Session(ctx context.Context, target *model.Target) (oshandler.Handler, func(), error) {
	conn, err := r.dial(target)
	if err != nil {
		return nil, nil, err
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", target.Name, err)
	}

	handler, err := r.registry.Create(ctx, conn, oshandler.PlatformDescriptor{
		Type:    target.OSType,
		GuestID: target.GuestID,
	})
	if err != nil {
		_ = conn.Disconnect()
		return nil, nil, err
	}

	release := func() {
		if err := conn.Disconnect(); err != nil {
			log.Debug("Disconnect failed", "target", target.Name, "error", err)
		}
	}
	return handler, release, nil
}

// Run executes a single command on the target and records the outcome.
func (r *Runner) Run(ctx context.Context, target *model.Target, command string, timeout time.Duration, elevate bool) (oshandler.Result, error) {
	handler, release, err := r.Session(ctx, target)
	if err != nil {
		return oshandler.Result{}, err
	}
	defer release()

	started := time.Now()
	result, err := handler.Execute(ctx, command, timeout, elevate)
	if err != nil {
		return result, err
	}

	r.record(target, command, started, result)
	return result, nil
}

// ConfigureNetwork applies a network configuration on the target and
// records the outcome.
func (r *Runner) ConfigureNetwork(ctx context.Context, target *model.Target, config oshandler.NetworkConfig) (oshandler.Result, error) {
	handler, release, err := r.Session(ctx, target)
	if err != nil {
		return oshandler.Result{}, err
	}
	defer release()

	started := time.Now()
	result, err := handler.ConfigureNetwork(ctx, config)
	if err != nil {
		return result, err
	}

	command := result.Command
	if command == "" {
		command = fmt.Sprintf("configure_network %s", config.Interface)
	}
	r.record(target, command, started, result)
	return result, nil
}

// Interfaces enumerates the target's network interfaces.
func (r *Runner) Interfaces(ctx context.Context, target *model.Target) ([]oshandler.NetworkInterface, error) {
	handler, release, err := r.Session(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	return handler.NetworkInterfaces(ctx)
}

func (r *Runner) record(target *model.Target, command string, started time.Time, result oshandler.Result) {
	if r.recorder == nil {
		return
	}

	record := &model.OperationRecord{
		ID:         uuid.New().String(),
		TargetID:   target.ID,
		Command:    command,
		ExitCode:   result.ExitCode,
		Success:    result.Success,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: time.Since(started).Milliseconds(),
		StartedAt:  started,
	}
	if err := r.recorder.RecordOperation(record); err != nil {
		log.Error("Failed to record operation", "target", target.Name, "error", err)
	}
}
