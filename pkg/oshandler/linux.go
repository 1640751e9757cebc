package oshandler

import (
	"context"
	"time"
)

// LinuxHandler drives Linux hosts over SSH (or any shell transport).
type LinuxHandler struct {
	ops *linuxOps

	// RebootWait bounds the reconnect wait after Reboot(wait=true).
	RebootWait time.Duration
}

// NewLinuxHandler creates a handler for a Linux host.
func NewLinuxHandler(conn Connection) *LinuxHandler {
	return &LinuxHandler{
		ops:        newLinuxOps(conn, true),
		RebootWait: 5 * time.Minute,
	}
}

func (h *LinuxHandler) Kind() HandlerKind { return KindLinux }

func (h *LinuxHandler) Execute(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error) {
	return h.ops.run(ctx, command, timeout, elevate)
}

func (h *LinuxHandler) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	return h.ops.networkInterfaces(ctx)
}

func (h *LinuxHandler) ConfigureNetwork(ctx context.Context, config NetworkConfig) (Result, error) {
	return h.ops.configureNetwork(ctx, config)
}

func (h *LinuxHandler) RestartNetworkService(ctx context.Context) (Result, error) {
	return h.ops.restartNetworkService(ctx)
}

func (h *LinuxHandler) OSInfo(ctx context.Context) (OSInfo, error) {
	return h.ops.getOSInfo(ctx)
}

func (h *LinuxHandler) InstallPackage(ctx context.Context, name string) (Result, error) {
	return h.ops.installPackage(ctx, name)
}

func (h *LinuxHandler) StartService(ctx context.Context, name string) (Result, error) {
	return h.ops.startService(ctx, name)
}

func (h *LinuxHandler) StopService(ctx context.Context, name string) (Result, error) {
	return h.ops.stopService(ctx, name)
}

func (h *LinuxHandler) ServiceStatus(ctx context.Context, name string) (Result, error) {
	return h.ops.serviceStatus(ctx, name)
}

func (h *LinuxHandler) CreateUser(ctx context.Context, username, password string, groups []string) (Result, error) {
	return h.ops.createUser(ctx, username, password, groups)
}

func (h *LinuxHandler) SetHostname(ctx context.Context, hostname string) (Result, error) {
	return h.ops.setHostname(ctx, hostname)
}

func (h *LinuxHandler) Processes(ctx context.Context) ([]ProcessInfo, error) {
	return h.ops.processes(ctx)
}

func (h *LinuxHandler) KillProcess(ctx context.Context, pid, signal int) (Result, error) {
	return h.ops.killProcess(ctx, pid, signal)
}

func (h *LinuxHandler) DiskUsage(ctx context.Context) ([]DiskUsage, error) {
	return h.ops.diskUsage(ctx)
}

func (h *LinuxHandler) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	return h.ops.memoryInfo(ctx)
}

func (h *LinuxHandler) CPUInfo(ctx context.Context) (CPUInfo, error) {
	return h.ops.cpuInfo(ctx)
}

func (h *LinuxHandler) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return h.ops.conn.UploadFile(ctx, localPath, remotePath)
}

func (h *LinuxHandler) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return h.ops.conn.DownloadFile(ctx, remotePath, localPath)
}

func (h *LinuxHandler) FileExists(ctx context.Context, path string) (bool, error) {
	return h.ops.fileExists(ctx, path)
}

func (h *LinuxHandler) CreateDirectory(ctx context.Context, path string, recursive bool) (Result, error) {
	return h.ops.createDirectory(ctx, path, recursive)
}

func (h *LinuxHandler) RemoveFile(ctx context.Context, path string) (Result, error) {
	return h.ops.removeFile(ctx, path)
}

func (h *LinuxHandler) ListDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	return h.ops.listDirectory(ctx, path)
}

func (h *LinuxHandler) Reboot(ctx context.Context, wait bool) (Result, error) {
	return h.ops.reboot(ctx, wait, h.RebootWait)
}

func (h *LinuxHandler) Shutdown(ctx context.Context) (Result, error) {
	return h.ops.shutdown(ctx)
}
