// Package oshandler provides a uniform operations contract over
// heterogeneous targets. Each backend implements the same Handler
// interface atop a connection transport, so calling code runs commands,
// configures VLAN networking, and manages services and files without
// caring what kind of system is on the other end.
package oshandler

import (
	"context"
	"errors"
	"time"

	"github.com/martinsuchenak/podd/pkg/connection"
)

// Connection is the transport contract handlers are built on.
type Connection = connection.Connection

var (
	// ErrConfiguration marks a request that cannot be satisfied before
	// any remote call is made, such as an unknown handler type.
	ErrConfiguration = errors.New("configuration error")
)

// DefaultTimeout applies when an operation is given no explicit timeout.
const DefaultTimeout = 30 * time.Second

// Handler is the per-backend operations contract. Operations returning
// Result never report a non-zero remote exit as a Go error; the error
// return is reserved for transport failures. Operations that make no
// sense for a backend return Success=true with an explanatory message
// so callers never special-case backends.
type Handler interface {
	// Kind reports which backend this handler drives.
	Kind() HandlerKind

	// Execute runs a command on the target. With elevate set the
	// command runs with administrative rights where the backend
	// distinguishes them.
	Execute(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error)

	// NetworkInterfaces enumerates interfaces best-effort. Backends
	// without native enumeration synthesize descriptors from what the
	// control plane knows.
	NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error)

	// ConfigureNetwork applies a network configuration, including VLAN
	// sub-interface creation. Multi-step sequences stop at the first
	// failing step and return its Result; earlier steps are not rolled
	// back.
	ConfigureNetwork(ctx context.Context, config NetworkConfig) (Result, error)

	// RestartNetworkService restarts the target's network stack.
	RestartNetworkService(ctx context.Context) (Result, error)

	OSInfo(ctx context.Context) (OSInfo, error)

	InstallPackage(ctx context.Context, name string) (Result, error)
	StartService(ctx context.Context, name string) (Result, error)
	StopService(ctx context.Context, name string) (Result, error)
	ServiceStatus(ctx context.Context, name string) (Result, error)

	CreateUser(ctx context.Context, username, password string, groups []string) (Result, error)
	SetHostname(ctx context.Context, hostname string) (Result, error)

	Processes(ctx context.Context) ([]ProcessInfo, error)
	KillProcess(ctx context.Context, pid, signal int) (Result, error)
	DiskUsage(ctx context.Context) ([]DiskUsage, error)
	MemoryInfo(ctx context.Context) (MemoryInfo, error)
	CPUInfo(ctx context.Context) (CPUInfo, error)

	UploadFile(ctx context.Context, localPath, remotePath string) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
	FileExists(ctx context.Context, path string) (bool, error)
	CreateDirectory(ctx context.Context, path string, recursive bool) (Result, error)
	RemoveFile(ctx context.Context, path string) (Result, error)
	ListDirectory(ctx context.Context, path string) ([]FileInfo, error)

	// Reboot restarts the target. With wait set it blocks until the
	// target accepts connections again or the wait deadline passes.
	Reboot(ctx context.Context, wait bool) (Result, error)
	Shutdown(ctx context.Context) (Result, error)
}

// unsupported builds the standard success outcome for an operation that
// has no meaning on a backend.
func unsupported(operation, explanation string) Result {
	return Result{
		Stdout:   explanation,
		ExitCode: 0,
		Success:  true,
		Command:  operation,
	}
}
