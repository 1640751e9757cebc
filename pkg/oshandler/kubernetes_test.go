package oshandler

import (
	"context"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/martinsuchenak/podd/pkg/cni"
	"github.com/martinsuchenak/podd/pkg/connection"
)

var (
	attachmentGVR    = schema.GroupVersionResource{Group: "k8s.cni.cncf.io", Version: "v1", Resource: "network-attachment-definitions"}
	ipPoolGVR        = schema.GroupVersionResource{Group: "projectcalico.org", Version: "v3", Resource: "ippools"}
	ciliumPolicyGVR  = schema.GroupVersionResource{Group: "cilium.io", Version: "v2", Resource: "ciliumnetworkpolicies"}
	networkPolicyGVR = schema.GroupVersionResource{Group: "networking.k8s.io", Version: "v1", Resource: "networkpolicies"}
)

func newTestKubeHandler(t *testing.T, plugins cni.PluginSet, objects ...runtime.Object) (*KubernetesHandler, *dynamicfake.FakeDynamicClient) {
	t.Helper()

	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		attachmentGVR:    "NetworkAttachmentDefinitionList",
		ipPoolGVR:        "IPPoolList",
		ciliumPolicyGVR:  "CiliumNetworkPolicyList",
		networkPolicyGVR: "NetworkPolicyList",
	})
	conn := connection.NewKubeConnectionWithClients(connection.KubeConfig{
		Namespace: "lab",
		Pod:       "target",
	}, fake.NewClientset(objects...), dyn)

	return NewKubernetesHandlerWithPlugins(conn, plugins), dyn
}

func listNames(t *testing.T, dyn *dynamicfake.FakeDynamicClient, gvr schema.GroupVersionResource, namespace string) []string {
	t.Helper()

	var names []string
	if namespace != "" {
		list, err := dyn.Resource(gvr).Namespace(namespace).List(context.Background(), metav1.ListOptions{})
		if err != nil {
			t.Fatalf("listing %s: %v", gvr.Resource, err)
		}
		for _, item := range list.Items {
			names = append(names, item.GetName())
		}
		return names
	}

	list, err := dyn.Resource(gvr).List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("listing %s: %v", gvr.Resource, err)
	}
	for _, item := range list.Items {
		names = append(names, item.GetName())
	}
	return names
}

func TestConfigureNetworkPrefersMultusOverCalico(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{Multus: true, Calico: true})

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "10.10.100.5",
		Netmask:   "255.255.255.0",
		Gateway:   "10.10.100.1",
		VLANID:    100,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	attachments := listNames(t, dyn, attachmentGVR, "lab")
	if len(attachments) != 1 || attachments[0] != "vlan-100" {
		t.Errorf("expected attachment vlan-100, got %v", attachments)
	}
	if pools := listNames(t, dyn, ipPoolGVR, ""); len(pools) != 0 {
		t.Errorf("calico pool created despite multus being available: %v", pools)
	}
}

func TestConfigureNetworkFallsBackToCalico(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{Calico: true, Cilium: true})

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "10.10.200.5",
		Netmask:   "255.255.255.0",
		VLANID:    200,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if pools := listNames(t, dyn, ipPoolGVR, ""); len(pools) != 1 || pools[0] != "vlan-200-pool" {
		t.Errorf("expected pool vlan-200-pool, got %v", pools)
	}
	if policies := listNames(t, dyn, ciliumPolicyGVR, "lab"); len(policies) != 0 {
		t.Errorf("cilium policy created despite calico being preferred: %v", policies)
	}
}

func TestConfigureNetworkCiliumPolicy(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{Cilium: true})

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		IPAddress: "10.10.30.5",
		VLANID:    30,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if policies := listNames(t, dyn, ciliumPolicyGVR, "lab"); len(policies) != 1 || policies[0] != "vlan-30-policy" {
		t.Errorf("expected policy vlan-30-policy, got %v", policies)
	}
}

func TestConfigureNetworkGenericPolicyWithoutPlugins(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{})

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		IPAddress: "10.10.50.5",
		VLANID:    50,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if policies := listNames(t, dyn, networkPolicyGVR, "lab"); len(policies) != 1 || policies[0] != "vlan-50-isolation" {
		t.Errorf("expected policy vlan-50-isolation, got %v", policies)
	}
}

func TestConfigureNetworkSecondApplyReportsExisting(t *testing.T) {
	handler, _ := newTestKubeHandler(t, cni.PluginSet{Multus: true})
	config := NetworkConfig{Interface: "eth0", IPAddress: "10.0.7.5", VLANID: 7}

	if _, err := handler.ConfigureNetwork(context.Background(), config); err != nil {
		t.Fatalf("first ConfigureNetwork: %v", err)
	}

	result, err := handler.ConfigureNetwork(context.Background(), config)
	if err != nil {
		t.Fatalf("second ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success on re-apply, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "already exists") {
		t.Errorf("expected already-exists message, got %q", result.Stdout)
	}
}

func TestConfigureNetworkWithoutVLANIsUnsupported(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{Multus: true})

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "10.0.0.5",
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected unsupported to succeed, got %+v", result)
	}
	if attachments := listNames(t, dyn, attachmentGVR, "lab"); len(attachments) != 0 {
		t.Errorf("no manifest should be created without a VLAN id, got %v", attachments)
	}
}

func TestConfigureNetworkRejectsBadNetmask(t *testing.T) {
	handler, _ := newTestKubeHandler(t, cni.PluginSet{Multus: true})

	_, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "10.0.0.5",
		Netmask:   "255.0.255.0",
		VLANID:    10,
	})
	if err == nil {
		t.Fatal("expected an error for a non-contiguous netmask")
	}
}

func TestClusterOnlyOperationsReportUnsupported(t *testing.T) {
	handler, _ := newTestKubeHandler(t, cni.PluginSet{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (Result, error)
	}{
		{"install_package", func() (Result, error) { return handler.InstallPackage(ctx, "curl") }},
		{"start_service", func() (Result, error) { return handler.StartService(ctx, "nginx") }},
		{"stop_service", func() (Result, error) { return handler.StopService(ctx, "nginx") }},
		{"service_status", func() (Result, error) { return handler.ServiceStatus(ctx, "nginx") }},
		{"create_user", func() (Result, error) { return handler.CreateUser(ctx, "ops", "secret", nil) }},
		{"set_hostname", func() (Result, error) { return handler.SetHostname(ctx, "node1") }},
		{"restart_network", func() (Result, error) { return handler.RestartNetworkService(ctx) }},
		{"reboot", func() (Result, error) { return handler.Reboot(ctx, false) }},
		{"shutdown", func() (Result, error) { return handler.Shutdown(ctx) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.call()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Success {
				t.Errorf("unsupported operations must not report failure: %+v", result)
			}
			if result.Stdout == "" {
				t.Error("expected an explanation in stdout")
			}
		})
	}
}

func TestNetworkInterfacesSynthesizedFromRunningPods(t *testing.T) {
	running := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "lab"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.244.1.12"},
	}
	pending := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "db", Namespace: "lab"},
		Status:     corev1.PodStatus{Phase: corev1.PodPending},
	}
	handler, _ := newTestKubeHandler(t, cni.PluginSet{}, running, pending)

	interfaces, err := handler.NetworkInterfaces(context.Background())
	if err != nil {
		t.Fatalf("NetworkInterfaces: %v", err)
	}
	if len(interfaces) != 1 {
		t.Fatalf("expected one descriptor for the running pod, got %d", len(interfaces))
	}

	iface := interfaces[0]
	if iface.Name != "pod-web" {
		t.Errorf("name = %q, want pod-web", iface.Name)
	}
	if len(iface.IPAddresses) != 1 || iface.IPAddresses[0] != "10.244.1.12" {
		t.Errorf("addresses = %v, want the pod IP", iface.IPAddresses)
	}
	if iface.State != StateUp || iface.Type != "pod" {
		t.Errorf("state/type = %s/%s, want up/pod", iface.State, iface.Type)
	}
}

func TestDeletePod(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "lab"},
	}
	handler, _ := newTestKubeHandler(t, cni.PluginSet{}, pod)

	result, err := handler.DeletePod(context.Background(), "web")
	if err != nil {
		t.Fatalf("DeletePod: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	result, err = handler.DeletePod(context.Background(), "web")
	if err != nil {
		t.Fatalf("DeletePod on missing pod: %v", err)
	}
	if result.Success {
		t.Error("deleting a missing pod should report failure in the result")
	}
}

func readyPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "lab"},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{Name: "main", Ready: true}},
		},
	}
}

func TestCreatePodWithVLAN(t *testing.T) {
	handler, dyn := newTestKubeHandler(t, cni.PluginSet{Multus: true})

	// The fake clientset never drives pods to readiness on its own, so
	// readiness polls are answered by a reactor.
	cs := handler.conn.Clientset().(*fake.Clientset)
	cs.PrependReactor("get", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, readyPod("web"), nil
	})

	result, err := handler.CreatePodWithVLAN(context.Background(), "web", "busybox:1.36", NetworkConfig{
		Interface: "eth0",
		IPAddress: "10.0.100.5",
		Netmask:   "255.255.255.0",
		VLANID:    100,
	})
	if err != nil {
		t.Fatalf("CreatePodWithVLAN: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if attachments := listNames(t, dyn, attachmentGVR, "lab"); len(attachments) != 1 || attachments[0] != "vlan-100" {
		t.Errorf("expected attachment vlan-100 before the pod, got %v", attachments)
	}

	obj, err := cs.Tracker().Get(corev1.SchemeGroupVersion.WithResource("pods"), "lab", "web")
	if err != nil {
		t.Fatalf("pod was not created: %v", err)
	}
	pod := obj.(*corev1.Pod)
	if pod.Labels["vlan-100"] != "true" {
		t.Errorf("pod labels = %v, want vlan-100=true", pod.Labels)
	}
	if pod.Annotations["k8s.v1.cni.cncf.io/networks"] != "vlan-100" {
		t.Errorf("pod annotations = %v, want multus attachment reference", pod.Annotations)
	}
}

func TestWaitForPodReady(t *testing.T) {
	notReady := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "db", Namespace: "lab"},
		Status: corev1.PodStatus{
			Phase:             corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{{Name: "main", Ready: false}},
		},
	}
	handler, _ := newTestKubeHandler(t, cni.PluginSet{}, readyPod("web"), notReady)
	ctx := context.Background()

	if err := handler.WaitForPodReady(ctx, "web", time.Second); err != nil {
		t.Errorf("ready pod: %v", err)
	}
	if err := handler.WaitForPodReady(ctx, "db", 0); err == nil {
		t.Error("pod with an unready container should time out")
	}
	if err := handler.WaitForPodReady(ctx, "missing", 0); err == nil {
		t.Error("missing pod should time out")
	}
}

func TestConnectivityProbeCommands(t *testing.T) {
	handler, _ := newTestKubeHandler(t, cni.PluginSet{})
	conn := newFakeConn(connection.KindKube)
	handler.ops = newLinuxOps(conn, false)
	ctx := context.Background()

	result, err := handler.TestConnectivity(ctx, "10.0.0.5", 22)
	if err != nil {
		t.Fatalf("TestConnectivity with port: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if conn.commandIndex("nc -zv 10.0.0.5 22") != 0 {
		t.Errorf("expected a TCP probe, recorded %v", conn.commands)
	}

	if _, err := handler.TestConnectivity(ctx, "10.0.0.5", 0); err != nil {
		t.Fatalf("TestConnectivity without port: %v", err)
	}
	if conn.commandIndex("ping -c 3 10.0.0.5") != 1 {
		t.Errorf("expected an ICMP probe, recorded %v", conn.commands)
	}
}

func TestPluginSnapshotStaysFrozen(t *testing.T) {
	handler, _ := newTestKubeHandler(t, cni.PluginSet{Cilium: true})

	plugins := handler.Plugins()
	if !plugins.Cilium || plugins.Calico {
		t.Fatalf("unexpected plugin snapshot %+v", plugins)
	}

	caps := handler.Capabilities()
	if !caps.EBPF || !caps.NetworkPolicies {
		t.Errorf("cilium should imply ebpf and network policies, got %+v", caps)
	}
	if caps.SRIOV {
		t.Errorf("sr-iov should not be derived from cilium, got %+v", caps)
	}
}
