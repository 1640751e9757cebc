package oshandler

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/pkg/cni"
	"github.com/martinsuchenak/podd/pkg/connection"
)

// KubernetesHandler drives a cluster through the API server plus pod
// exec. Network plugins are detected once at construction; the plugin
// and capability snapshot stays frozen for the handler's lifetime.
type KubernetesHandler struct {
	conn    *connection.KubeConnection
	ops     *linuxOps
	applier *cni.Applier

	plugins      cni.PluginSet
	capabilities cni.CapabilitySet
}

// NewKubernetesHandler creates a cluster handler and snapshots the
// installed network plugins.
func NewKubernetesHandler(ctx context.Context, conn *connection.KubeConnection) *KubernetesHandler {
	plugins := cni.NewDetector(conn.Clientset()).Detect(ctx)
	return NewKubernetesHandlerWithPlugins(conn, plugins)
}

// NewKubernetesHandlerWithPlugins creates a cluster handler with a
// pre-computed plugin set. Used by tests and by callers sharing one
// detection pass across handlers.
func NewKubernetesHandlerWithPlugins(conn *connection.KubeConnection, plugins cni.PluginSet) *KubernetesHandler {
	return &KubernetesHandler{
		conn:         conn,
		ops:          newLinuxOps(conn, false),
		applier:      cni.NewApplier(conn.Dynamic()),
		plugins:      plugins,
		capabilities: cni.DeriveCapabilities(plugins),
	}
}

func (h *KubernetesHandler) Kind() HandlerKind { return KindKubernetes }

// Plugins returns the plugin snapshot taken at construction.
func (h *KubernetesHandler) Plugins() cni.PluginSet { return h.plugins }

// Capabilities returns the capability set derived from the snapshot.
func (h *KubernetesHandler) Capabilities() cni.CapabilitySet { return h.capabilities }

// Execute runs a command inside the connection's target pod.
func (h *KubernetesHandler) Execute(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error) {
	return h.ops.run(ctx, command, timeout, false)
}

// NetworkInterfaces synthesizes one descriptor per running pod with an
// address; pods have no enumerable adapter list from outside.
func (h *KubernetesHandler) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	pods, err := h.conn.Clientset().CoreV1().Pods(h.conn.Namespace()).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	var interfaces []NetworkInterface
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning || pod.Status.PodIP == "" {
			continue
		}
		interfaces = append(interfaces, NetworkInterface{
			Name:        "pod-" + pod.Name,
			MACAddress:  "unknown",
			IPAddresses: []string{pod.Status.PodIP},
			Netmask:     "255.255.255.0",
			MTU:         1500,
			State:       StateUp,
			Type:        "pod",
		})
	}
	return interfaces, nil
}

// ConfigureNetwork provisions VLAN isolation through the richest
// primitive the detected plugins offer: Multus attachment, then Calico
// pool, then Cilium policy, then a standard network policy.
func (h *KubernetesHandler) ConfigureNetwork(ctx context.Context, config NetworkConfig) (Result, error) {
	if config.VLANID <= 0 {
		return unsupported("configure_network", "standard pod networking is managed by the cluster"), nil
	}

	start := time.Now()

	switch {
	case h.plugins.Multus:
		return h.configureMultusVLAN(ctx, config, start)
	case h.plugins.Calico:
		return h.configureCalicoVLAN(ctx, config, start)
	case h.plugins.Cilium:
		return h.configureCiliumVLAN(ctx, config, start)
	default:
		return h.configureGenericVLAN(ctx, config, start)
	}
}

func (h *KubernetesHandler) configureMultusVLAN(ctx context.Context, config NetworkConfig, start time.Time) (Result, error) {
	prefix := 24
	if config.Netmask != "" {
		p, err := NetmaskToPrefix(config.Netmask)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		prefix = p
	}

	master := config.Interface
	if master == "" {
		master = "eth0"
	}
	dns := config.DNSServers
	if len(dns) == 0 {
		dns = []string{"8.8.8.8"}
	}

	attachment, err := cni.NetworkAttachment(cni.AttachmentConfig{
		Name:       fmt.Sprintf("vlan-%d", config.VLANID),
		Namespace:  h.conn.Namespace(),
		Type:       cni.AttachmentMacvlan,
		Master:     master,
		VLANID:     config.VLANID,
		Subnet:     fmt.Sprintf("%s/%d", config.IPAddress, prefix),
		Gateway:    config.Gateway,
		DNSServers: dns,
		MTU:        config.MTU,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	created, err := h.applier.Apply(ctx, attachment)
	if err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_multus_vlan(%d)", config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	msg := fmt.Sprintf("VLAN %d NetworkAttachmentDefinition created", config.VLANID)
	if !created {
		msg = fmt.Sprintf("VLAN %d NetworkAttachmentDefinition already exists", config.VLANID)
	}
	return Result{
		Stdout:   msg,
		Success:  true,
		Command:  fmt.Sprintf("create_multus_vlan(%d)", config.VLANID),
		Duration: time.Since(start),
	}, nil
}

func (h *KubernetesHandler) configureCalicoVLAN(ctx context.Context, config NetworkConfig, start time.Time) (Result, error) {
	prefix := 24
	if config.Netmask != "" {
		p, err := NetmaskToPrefix(config.Netmask)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		prefix = p
	}

	pool := cni.CalicoIPPool(
		fmt.Sprintf("vlan-%d-pool", config.VLANID),
		fmt.Sprintf("%s/%d", config.IPAddress, prefix),
		config.VLANID)

	created, err := h.applier.Apply(ctx, pool)
	if err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_calico_vlan(%d)", config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	msg := fmt.Sprintf("Calico IP pool for VLAN %d created", config.VLANID)
	if !created {
		msg = fmt.Sprintf("Calico IP pool for VLAN %d already exists", config.VLANID)
	}
	return Result{
		Stdout:   msg,
		Success:  true,
		Command:  fmt.Sprintf("create_calico_vlan(%d)", config.VLANID),
		Duration: time.Since(start),
	}, nil
}

func (h *KubernetesHandler) configureCiliumVLAN(ctx context.Context, config NetworkConfig, start time.Time) (Result, error) {
	policy := cni.CiliumVLANPolicy(h.conn.Namespace(), config.VLANID)

	created, err := h.applier.Apply(ctx, policy)
	if err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_cilium_vlan(%d)", config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	msg := fmt.Sprintf("Cilium network policy for VLAN %d created", config.VLANID)
	if !created {
		msg = fmt.Sprintf("Cilium network policy for VLAN %d already exists", config.VLANID)
	}
	return Result{
		Stdout:   msg,
		Success:  true,
		Command:  fmt.Sprintf("create_cilium_vlan(%d)", config.VLANID),
		Duration: time.Since(start),
	}, nil
}

func (h *KubernetesHandler) configureGenericVLAN(ctx context.Context, config NetworkConfig, start time.Time) (Result, error) {
	policy := cni.GenericVLANPolicy(h.conn.Namespace(), config.VLANID)

	created, err := h.applier.Apply(ctx, policy)
	if err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_generic_vlan(%d)", config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	msg := fmt.Sprintf("NetworkPolicy for VLAN %d created", config.VLANID)
	if !created {
		msg = fmt.Sprintf("NetworkPolicy for VLAN %d already exists", config.VLANID)
	}
	return Result{
		Stdout:   msg,
		Success:  true,
		Command:  fmt.Sprintf("create_generic_vlan(%d)", config.VLANID),
		Duration: time.Since(start),
	}, nil
}

func (h *KubernetesHandler) RestartNetworkService(ctx context.Context) (Result, error) {
	return unsupported("restart_network_service", "cluster networking is managed by the CNI plugin"), nil
}

func (h *KubernetesHandler) OSInfo(ctx context.Context) (OSInfo, error) {
	info := OSInfo{
		Type:         "kubernetes",
		Distribution: "Kubernetes",
		Version:      "unknown",
		Kernel:       "unknown",
		Architecture: "unknown",
		Hostname:     "unknown",
	}

	if version, err := h.conn.Clientset().Discovery().ServerVersion(); err == nil {
		info.Version = version.GitVersion
	}

	nodes, err := h.conn.Clientset().CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err == nil && len(nodes.Items) > 0 {
		node := nodes.Items[0]
		info.Kernel = node.Status.NodeInfo.KernelVersion
		info.Architecture = node.Status.NodeInfo.Architecture
		info.Hostname = node.Name
	}
	return info, nil
}

func (h *KubernetesHandler) InstallPackage(ctx context.Context, name string) (Result, error) {
	return unsupported("install "+name, "package management is not applicable to pods, build it into the image"), nil
}

func (h *KubernetesHandler) StartService(ctx context.Context, name string) (Result, error) {
	return unsupported("start_service "+name, "services in clusters are managed by deployments and replica sets"), nil
}

func (h *KubernetesHandler) StopService(ctx context.Context, name string) (Result, error) {
	return unsupported("stop_service "+name, "services in clusters are managed by deployments and replica sets"), nil
}

func (h *KubernetesHandler) ServiceStatus(ctx context.Context, name string) (Result, error) {
	return unsupported("service_status "+name, "services in clusters are managed by deployments and replica sets"), nil
}

func (h *KubernetesHandler) CreateUser(ctx context.Context, username, password string, groups []string) (Result, error) {
	return unsupported("create_user "+username, "user management is not applicable to pods"), nil
}

func (h *KubernetesHandler) SetHostname(ctx context.Context, hostname string) (Result, error) {
	return unsupported("set_hostname "+hostname, "pod hostnames are assigned by the cluster"), nil
}

func (h *KubernetesHandler) Processes(ctx context.Context) ([]ProcessInfo, error) {
	return h.ops.processes(ctx)
}

func (h *KubernetesHandler) KillProcess(ctx context.Context, pid, signal int) (Result, error) {
	return h.ops.killProcess(ctx, pid, signal)
}

func (h *KubernetesHandler) DiskUsage(ctx context.Context) ([]DiskUsage, error) {
	return h.ops.diskUsage(ctx)
}

func (h *KubernetesHandler) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	return h.ops.memoryInfo(ctx)
}

func (h *KubernetesHandler) CPUInfo(ctx context.Context) (CPUInfo, error) {
	return h.ops.cpuInfo(ctx)
}

func (h *KubernetesHandler) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return h.conn.UploadFile(ctx, localPath, remotePath)
}

func (h *KubernetesHandler) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return h.conn.DownloadFile(ctx, remotePath, localPath)
}

func (h *KubernetesHandler) FileExists(ctx context.Context, path string) (bool, error) {
	return h.ops.fileExists(ctx, path)
}

func (h *KubernetesHandler) CreateDirectory(ctx context.Context, path string, recursive bool) (Result, error) {
	return h.ops.createDirectory(ctx, path, recursive)
}

func (h *KubernetesHandler) RemoveFile(ctx context.Context, path string) (Result, error) {
	return h.ops.removeFile(ctx, path)
}

func (h *KubernetesHandler) ListDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	return h.ops.listDirectory(ctx, path)
}

func (h *KubernetesHandler) Reboot(ctx context.Context, wait bool) (Result, error) {
	return unsupported("reboot", "pod restarts are managed by the cluster, delete the pod instead"), nil
}

func (h *KubernetesHandler) Shutdown(ctx context.Context) (Result, error) {
	return unsupported("shutdown", "pod shutdown is managed by the cluster, delete the pod instead"), nil
}

// CreatePodWithVLAN provisions the VLAN isolation primitive, then
// creates a labeled pod joined to it and waits for readiness.
func (h *KubernetesHandler) CreatePodWithVLAN(ctx context.Context, podName, image string, config NetworkConfig) (Result, error) {
	start := time.Now()

	vlanResult, err := h.ConfigureNetwork(ctx, config)
	if err != nil {
		return Result{}, err
	}
	if !vlanResult.Success {
		return vlanResult, nil
	}

	label := fmt.Sprintf("vlan-%d", config.VLANID)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: h.conn.Namespace(),
			Labels: map[string]string{
				label: "true",
				"app": podName,
			},
			Annotations: map[string]string{},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  "main",
				Image: image,
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceMemory: resource.MustParse("64Mi"),
						corev1.ResourceCPU:    resource.MustParse("50m"),
					},
					Limits: corev1.ResourceList{
						corev1.ResourceMemory: resource.MustParse("128Mi"),
						corev1.ResourceCPU:    resource.MustParse("100m"),
					},
				},
			}},
			RestartPolicy: corev1.RestartPolicyAlways,
		},
	}

	// Multus attaches the secondary interface via annotation.
	if h.plugins.Multus {
		pod.Annotations["k8s.v1.cni.cncf.io/networks"] = label
	}

	_, err = h.conn.Clientset().CoreV1().Pods(h.conn.Namespace()).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return Result{
			Stderr:   fmt.Sprintf("failed to create pod: %v", err),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_pod_with_vlan(%s, %d)", podName, config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	if err := h.WaitForPodReady(ctx, podName, 5*time.Minute); err != nil {
		return Result{
			Stderr:   err.Error(),
			ExitCode: 1,
			Command:  fmt.Sprintf("create_pod_with_vlan(%s, %d)", podName, config.VLANID),
			Duration: time.Since(start),
		}, nil
	}

	log.Info("Created pod with VLAN isolation", "pod", podName, "vlan", config.VLANID)

	return Result{
		Stdout:   fmt.Sprintf("pod %s created with VLAN %d", podName, config.VLANID),
		Success:  true,
		Command:  fmt.Sprintf("create_pod_with_vlan(%s, %d)", podName, config.VLANID),
		Duration: time.Since(start),
	}, nil
}

// WaitForPodReady polls at a fixed interval until every container in
// the pod reports ready or the timeout passes. The call blocks.
func (h *KubernetesHandler) WaitForPodReady(ctx context.Context, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pod, err := h.conn.Clientset().CoreV1().Pods(h.conn.Namespace()).Get(ctx, podName, metav1.GetOptions{})
		if err == nil && pod.Status.Phase == corev1.PodRunning {
			allReady := len(pod.Status.ContainerStatuses) > 0
			for _, cs := range pod.Status.ContainerStatuses {
				if !cs.Ready {
					allReady = false
					break
				}
			}
			if allReady {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("pod %s not ready after %s", podName, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// DeletePod removes a pod from the connection's namespace.
func (h *KubernetesHandler) DeletePod(ctx context.Context, podName string) (Result, error) {
	start := time.Now()

	err := h.conn.Clientset().CoreV1().Pods(h.conn.Namespace()).Delete(ctx, podName, metav1.DeleteOptions{})
	if err != nil {
		return Result{
			Stderr:   fmt.Sprintf("failed to delete pod: %v", err),
			ExitCode: 1,
			Command:  "delete_pod(" + podName + ")",
			Duration: time.Since(start),
		}, nil
	}

	return Result{
		Stdout:   "pod " + podName + " deleted",
		Success:  true,
		Command:  "delete_pod(" + podName + ")",
		Duration: time.Since(start),
	}, nil
}

// TestConnectivity checks reachability of a target address from inside
// the connection's pod, by TCP probe when a port is given and ICMP
// otherwise.
func (h *KubernetesHandler) TestConnectivity(ctx context.Context, targetIP string, port int) (Result, error) {
	command := fmt.Sprintf("ping -c 3 %s", targetIP)
	if port > 0 {
		command = fmt.Sprintf("nc -zv %s %d", targetIP, port)
	}
	return h.ops.run(ctx, command, time.Minute, false)
}
