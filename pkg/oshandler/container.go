package oshandler

import (
	"context"
	"fmt"
	"time"
)

// ContainerHandler drives Linux containers over an exec transport. It
// shares the Linux operation set, minus sudo (exec already runs as
// root), and adds helpers for wiring several containers onto one VLAN
// through a bridge or virtual-ethernet pair.
type ContainerHandler struct {
	ops *linuxOps

	// HostBridge names an optional bridge on the container host that
	// VLAN sub-interfaces get attached to.
	HostBridge string
}

// NewContainerHandler creates a handler for a container exec transport.
func NewContainerHandler(conn Connection) *ContainerHandler {
	return &ContainerHandler{ops: newLinuxOps(conn, false)}
}

func (h *ContainerHandler) Kind() HandlerKind { return KindContainer }

func (h *ContainerHandler) Execute(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error) {
	return h.ops.run(ctx, command, timeout, elevate)
}

func (h *ContainerHandler) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	return h.ops.networkInterfaces(ctx)
}

// ConfigureNetwork applies VLAN configuration inside the container.
// This needs NET_ADMIN capability or a privileged container.
func (h *ContainerHandler) ConfigureNetwork(ctx context.Context, config NetworkConfig) (Result, error) {
	return h.ops.configureNetwork(ctx, config)
}

// RestartNetworkService has no daemon to restart inside a container;
// the network namespace is managed from outside.
func (h *ContainerHandler) RestartNetworkService(ctx context.Context) (Result, error) {
	return unsupported("restart_network_service", "containers have no network service to restart"), nil
}

func (h *ContainerHandler) OSInfo(ctx context.Context) (OSInfo, error) {
	info, err := h.ops.getOSInfo(ctx)
	if err != nil {
		return OSInfo{}, err
	}
	info.Type = "container"
	return info, nil
}

func (h *ContainerHandler) InstallPackage(ctx context.Context, name string) (Result, error) {
	return h.ops.installPackage(ctx, name)
}

func (h *ContainerHandler) StartService(ctx context.Context, name string) (Result, error) {
	return h.ops.startService(ctx, name)
}

func (h *ContainerHandler) StopService(ctx context.Context, name string) (Result, error) {
	return h.ops.stopService(ctx, name)
}

func (h *ContainerHandler) ServiceStatus(ctx context.Context, name string) (Result, error) {
	return h.ops.serviceStatus(ctx, name)
}

func (h *ContainerHandler) CreateUser(ctx context.Context, username, password string, groups []string) (Result, error) {
	return h.ops.createUser(ctx, username, password, groups)
}

// SetHostname inside a container only affects the UTS namespace and is
// usually overridden by the runtime, but the attempt is harmless.
func (h *ContainerHandler) SetHostname(ctx context.Context, hostname string) (Result, error) {
	return h.ops.run(ctx, "hostname "+hostname, 0, false)
}

func (h *ContainerHandler) Processes(ctx context.Context) ([]ProcessInfo, error) {
	return h.ops.processes(ctx)
}

func (h *ContainerHandler) KillProcess(ctx context.Context, pid, signal int) (Result, error) {
	return h.ops.killProcess(ctx, pid, signal)
}

func (h *ContainerHandler) DiskUsage(ctx context.Context) ([]DiskUsage, error) {
	return h.ops.diskUsage(ctx)
}

func (h *ContainerHandler) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	return h.ops.memoryInfo(ctx)
}

func (h *ContainerHandler) CPUInfo(ctx context.Context) (CPUInfo, error) {
	return h.ops.cpuInfo(ctx)
}

func (h *ContainerHandler) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return h.ops.conn.UploadFile(ctx, localPath, remotePath)
}

func (h *ContainerHandler) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return h.ops.conn.DownloadFile(ctx, remotePath, localPath)
}

func (h *ContainerHandler) FileExists(ctx context.Context, path string) (bool, error) {
	return h.ops.fileExists(ctx, path)
}

func (h *ContainerHandler) CreateDirectory(ctx context.Context, path string, recursive bool) (Result, error) {
	return h.ops.createDirectory(ctx, path, recursive)
}

func (h *ContainerHandler) RemoveFile(ctx context.Context, path string) (Result, error) {
	return h.ops.removeFile(ctx, path)
}

func (h *ContainerHandler) ListDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	return h.ops.listDirectory(ctx, path)
}

// Reboot would kill the exec session along with the container, so the
// runtime owns restarts.
func (h *ContainerHandler) Reboot(ctx context.Context, wait bool) (Result, error) {
	return unsupported("reboot", "container restarts are managed by the container runtime"), nil
}

func (h *ContainerHandler) Shutdown(ctx context.Context) (Result, error) {
	return unsupported("shutdown", "container shutdown is managed by the container runtime"), nil
}

// CreateVLANBridge creates a bridge with a VLAN sub-interface of the
// physical interface attached, so co-located containers can join the
// same tagged segment.
func (h *ContainerHandler) CreateVLANBridge(ctx context.Context, bridgeName string, vlanID int, physicalInterface string) (Result, error) {
	result, err := h.ops.run(ctx, fmt.Sprintf("ip link add name %s type bridge", bridgeName), 0, false)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	vlanIface := fmt.Sprintf("%s.%d", physicalInterface, vlanID)
	result, err = h.ops.run(ctx, fmt.Sprintf("ip link add link %s name %s type vlan id %d",
		physicalInterface, vlanIface, vlanID), 0, false)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	result, err = h.ops.run(ctx, fmt.Sprintf("ip link set %s master %s", vlanIface, bridgeName), 0, false)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	if result, err = h.ops.run(ctx, "ip link set "+bridgeName+" up", 0, false); err != nil || !result.Success {
		return result, err
	}
	return h.ops.run(ctx, "ip link set "+vlanIface+" up", 0, false)
}

// AddVethPair creates a virtual-ethernet pair and brings both ends up.
// One end typically moves into another namespace afterwards.
func (h *ContainerHandler) AddVethPair(ctx context.Context, vethName, peerName string) (Result, error) {
	result, err := h.ops.run(ctx, fmt.Sprintf("ip link add %s type veth peer name %s", vethName, peerName), 0, false)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	if result, err = h.ops.run(ctx, "ip link set "+vethName+" up", 0, false); err != nil || !result.Success {
		return result, err
	}
	return h.ops.run(ctx, "ip link set "+peerName+" up", 0, false)
}

// CreateMacvlanInterface creates a macvlan in bridge mode atop the
// parent interface, optionally through a VLAN sub-interface.
func (h *ContainerHandler) CreateMacvlanInterface(ctx context.Context, name, parent string, vlanID int) (Result, error) {
	if vlanID > 0 {
		vlanParent := fmt.Sprintf("%s.%d", parent, vlanID)
		result, err := h.ops.run(ctx, fmt.Sprintf("ip link add link %s name %s type vlan id %d",
			parent, vlanParent, vlanID), 0, false)
		if err != nil {
			return Result{}, err
		}
		if !result.Success {
			return result, nil
		}
		if result, err = h.ops.run(ctx, "ip link set "+vlanParent+" up", 0, false); err != nil || !result.Success {
			return result, err
		}
		parent = vlanParent
	}

	result, err := h.ops.run(ctx, fmt.Sprintf("ip link add %s link %s type macvlan mode bridge", name, parent), 0, false)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}
	return h.ops.run(ctx, "ip link set "+name+" up", 0, false)
}

// ConfigureVLANs applies several VLAN configurations in one pass and
// returns the per-VLAN outcomes. The kernel module is loaded once up
// front.
func (h *ContainerHandler) ConfigureVLANs(ctx context.Context, configs []NetworkConfig) ([]Result, error) {
	if _, err := h.ops.run(ctx, "modprobe 8021q", 0, false); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(configs))
	for _, config := range configs {
		result, err := h.ops.configureVLAN(ctx, config)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
