// Package connection provides the transport layer for device operations.
// A Connection executes commands and moves files on one remote target;
// concrete implementations exist for SSH, WinRM, Docker exec and
// Kubernetes pod exec.
package connection

import (
	"context"
	"errors"
	"time"
)

// Kind identifies the transport protocol of a Connection.
type Kind string

const (
	KindSSH    Kind = "ssh"
	KindWinRM  Kind = "winrm"
	KindDocker Kind = "docker"
	KindKube   Kind = "kubernetes"
)

// Exit code reported when a command is killed by its timeout, matching
// the shell convention used by timeout(1).
const ExitTimedOut = 124

var (
	// ErrNotConnected is returned when an operation is attempted before
	// Connect or after the transport has been lost.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrConnectionFailed wraps transport-level failures to reach the target.
	ErrConnectionFailed = errors.New("connection: connect failed")

	// ErrAuthFailed indicates the target rejected the supplied credentials.
	ErrAuthFailed = errors.New("connection: authentication failed")

	// ErrRebootTimeout is returned by WaitForReboot when the target does not
	// come back within the deadline.
	ErrRebootTimeout = errors.New("connection: target did not return from reboot")
)

// Connection is the transport contract consumed by the OS handlers.
// Execute returns the remote command's streams and exit code; a non-zero
// exit code is not an error. The returned error is reserved for transport
// failures (connection lost, exec channel broken).
type Connection interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Execute(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
	UploadFile(ctx context.Context, localPath, remotePath string) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// ElevatedExecutor is implemented by transports that can run a command with
// elevated privileges (sudo over SSH). Handlers fall back to prefixing the
// command when the transport does not implement it.
type ElevatedExecutor interface {
	ExecuteElevated(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

// ScriptExecutor is implemented by transports with a structured script
// channel, e.g. PowerShell over WinRM.
type ScriptExecutor interface {
	ExecuteScript(ctx context.Context, script string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

// rebootSettle is how long to wait for the target to go down before
// polling for it to come back.
const rebootSettle = 30 * time.Second

// rebootPollInterval is the fixed poll interval while waiting for the
// target to come back. No backoff: reconnect attempts are cheap and the
// caller is blocked anyway.
const rebootPollInterval = 5 * time.Second

// WaitForReboot blocks until the target accepts a new connection or the
// timeout elapses. The current connection is dropped first so stale
// channels are not reused after the target comes back.
func WaitForReboot(ctx context.Context, conn Connection, timeout time.Duration) error {
	select {
	case <-time.After(rebootSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = conn.Disconnect()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := conn.Connect(ctx); err == nil && conn.IsConnected() {
			return nil
		}

		select {
		case <-time.After(rebootPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRebootTimeout
}
