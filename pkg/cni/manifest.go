package cni

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

// AttachmentType selects which CNI plugin a network attachment uses.
type AttachmentType string

const (
	AttachmentMacvlan AttachmentType = "macvlan"
	AttachmentBridge  AttachmentType = "bridge"
	AttachmentIPVlan  AttachmentType = "ipvlan"
	AttachmentSRIOV   AttachmentType = "sriov"
)

// AttachmentConfig describes a Multus network attachment to build.
type AttachmentConfig struct {
	Name       string
	Namespace  string
	Type       AttachmentType
	Master     string
	Bridge     string
	DeviceID   string
	VLANID     int
	Subnet     string
	Gateway    string
	DNSServers []string
	MTU        int
}

// NetworkAttachment builds a Multus NetworkAttachmentDefinition whose
// embedded CNI config matches the attachment type.
func NetworkAttachment(config AttachmentConfig) (*unstructured.Unstructured, error) {
	var cniConfig map[string]any
	switch config.Type {
	case AttachmentMacvlan:
		cniConfig = macvlanConfig(config)
	case AttachmentBridge:
		cniConfig = bridgeConfig(config)
	case AttachmentIPVlan:
		cniConfig = ipvlanConfig(config)
	case AttachmentSRIOV:
		cniConfig = sriovConfig(config)
	default:
		return nil, fmt.Errorf("unsupported attachment type %q", config.Type)
	}

	raw, err := json.Marshal(cniConfig)
	if err != nil {
		return nil, fmt.Errorf("encoding CNI config: %w", err)
	}

	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "k8s.cni.cncf.io/v1",
		"kind":       "NetworkAttachmentDefinition",
		"metadata": map[string]any{
			"name":      config.Name,
			"namespace": config.Namespace,
			"annotations": map[string]any{
				"podd.dev/attachment-type": string(config.Type),
				"podd.dev/vlan":            vlanAnnotation(config.VLANID),
			},
		},
		"spec": map[string]any{
			"config": string(raw),
		},
	}}, nil
}

func vlanAnnotation(id int) string {
	if id == 0 {
		return "none"
	}
	return fmt.Sprintf("%d", id)
}

func ipam(config AttachmentConfig) map[string]any {
	if config.Subnet == "" {
		return map[string]any{"type": "dhcp"}
	}
	ipam := map[string]any{
		"type": "static",
		"addresses": []any{
			map[string]any{"address": config.Subnet, "gateway": config.Gateway},
		},
	}
	if len(config.DNSServers) > 0 {
		ipam["dns"] = map[string]any{"nameservers": config.DNSServers}
	}
	return ipam
}

func macvlanConfig(config AttachmentConfig) map[string]any {
	master := config.Master
	if master == "" {
		master = "eth0"
	}
	c := map[string]any{
		"cniVersion": "0.3.1",
		"name":       config.Name,
		"type":       "macvlan",
		"master":     master,
		"mode":       "bridge",
		"ipam":       ipam(config),
	}
	if config.VLANID > 0 {
		c["vlan"] = config.VLANID
	}
	if config.MTU > 0 {
		c["mtu"] = config.MTU
	}
	return c
}

func bridgeConfig(config AttachmentConfig) map[string]any {
	bridge := config.Bridge
	if bridge == "" {
		bridge = "br-" + config.Name
	}
	subnet := config.Subnet
	if subnet == "" {
		subnet = "10.244.0.0/16"
	}
	c := map[string]any{
		"cniVersion":       "0.3.1",
		"name":             config.Name,
		"type":             "bridge",
		"bridge":           bridge,
		"isGateway":        true,
		"isDefaultGateway": false,
		"ipMasq":           true,
		"hairpinMode":      true,
		"ipam": map[string]any{
			"type":   "host-local",
			"subnet": subnet,
		},
	}
	if config.VLANID > 0 {
		c["vlan"] = config.VLANID
	}
	if config.MTU > 0 {
		c["mtu"] = config.MTU
	}
	return c
}

func ipvlanConfig(config AttachmentConfig) map[string]any {
	master := config.Master
	if master == "" {
		master = "eth0"
	}
	c := map[string]any{
		"cniVersion": "0.3.1",
		"name":       config.Name,
		"type":       "ipvlan",
		"master":     master,
		"mode":       "l2",
		"ipam":       ipam(config),
	}
	if config.MTU > 0 {
		c["mtu"] = config.MTU
	}
	return c
}

func sriovConfig(config AttachmentConfig) map[string]any {
	deviceID := config.DeviceID
	if deviceID == "" {
		deviceID = "0000:00:00.0"
	}
	c := map[string]any{
		"cniVersion": "0.3.1",
		"name":       config.Name,
		"type":       "sriov",
		"deviceID":   deviceID,
		"ipam":       ipam(config),
	}
	if config.VLANID > 0 {
		c["vlan"] = config.VLANID
	}
	if config.MTU > 0 {
		c["mtu"] = config.MTU
	}
	return c
}

// CalicoIPPool builds an IPPool scoped to nodes labeled for the VLAN.
// Pool names follow the "vlan-<id>-pool" convention.
func CalicoIPPool(name, cidr string, vlanID int) *unstructured.Unstructured {
	spec := map[string]any{
		"cidr":        cidr,
		"vxlanMode":   "Never",
		"ipipMode":    "Never",
		"natOutgoing": true,
		"blockSize":   int64(26),
		"allowedUses": []any{"Workload", "Tunnel"},
	}
	if vlanID > 0 {
		spec["nodeSelector"] = fmt.Sprintf("vlan-%d == 'true'", vlanID)
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "projectcalico.org/v3",
		"kind":       "IPPool",
		"metadata":   map[string]any{"name": name},
		"spec":       spec,
	}}
}

// CalicoBGPConfiguration builds the cluster default BGP configuration.
func CalicoBGPConfiguration(asNumber int, routerID string, serviceClusterCIDRs []string) *unstructured.Unstructured {
	clusterIPs := make([]any, 0, len(serviceClusterCIDRs))
	for _, cidr := range serviceClusterCIDRs {
		clusterIPs = append(clusterIPs, map[string]any{"cidr": cidr})
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "projectcalico.org/v3",
		"kind":       "BGPConfiguration",
		"metadata":   map[string]any{"name": "default"},
		"spec": map[string]any{
			"logSeverityScreen":     "Info",
			"nodeToNodeMeshEnabled": true,
			"asNumber":              int64(asNumber),
			"routerId":              routerID,
			"serviceClusterIPs":     clusterIPs,
		},
	}}
}

// vlanLabel is the selector key pods and nodes carry to join a VLAN.
func vlanLabel(vlanID int) string {
	return fmt.Sprintf("vlan-%d", vlanID)
}

// CiliumVLANPolicy builds a policy permitting traffic between endpoints
// sharing the VLAN label, plus unrestricted FQDN egress for DNS-based
// resolution.
func CiliumVLANPolicy(namespace string, vlanID int) *unstructured.Unstructured {
	label := vlanLabel(vlanID)
	match := map[string]any{"matchLabels": map[string]any{label: "true"}}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cilium.io/v2",
		"kind":       "CiliumNetworkPolicy",
		"metadata": map[string]any{
			"name":      fmt.Sprintf("vlan-%d-policy", vlanID),
			"namespace": namespace,
		},
		"spec": map[string]any{
			"endpointSelector": match,
			"ingress": []any{
				map[string]any{"fromEndpoints": []any{match}},
			},
			"egress": []any{
				map[string]any{"toEndpoints": []any{match}},
				map[string]any{"toFQDNs": []any{map[string]any{"matchPattern": "*"}}},
			},
		},
	}}
}

// CiliumClusterwidePolicy builds a cluster-scoped policy selecting
// nodes by label.
func CiliumClusterwidePolicy(name string, nodeSelector map[string]string) *unstructured.Unstructured {
	match := map[string]any{}
	for k, v := range nodeSelector {
		match[k] = v
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "cilium.io/v2",
		"kind":       "CiliumClusterwideNetworkPolicy",
		"metadata":   map[string]any{"name": name},
		"spec": map[string]any{
			"nodeSelector": map[string]any{"matchLabels": match},
		},
	}}
}

// GenericVLANPolicy builds a standard NetworkPolicy isolating pods that
// carry the VLAN label: intra-label ingress and egress, plus DNS-only
// external egress.
func GenericVLANPolicy(namespace string, vlanID int) *unstructured.Unstructured {
	label := vlanLabel(vlanID)
	podSelector := map[string]any{"matchLabels": map[string]any{label: "true"}}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "networking.k8s.io/v1",
		"kind":       "NetworkPolicy",
		"metadata": map[string]any{
			"name":      fmt.Sprintf("vlan-%d-isolation", vlanID),
			"namespace": namespace,
		},
		"spec": map[string]any{
			"podSelector": podSelector,
			"policyTypes": []any{"Ingress", "Egress"},
			"ingress": []any{
				map[string]any{"from": []any{map[string]any{"podSelector": podSelector}}},
			},
			"egress": []any{
				map[string]any{"to": []any{map[string]any{"podSelector": podSelector}}},
				map[string]any{
					"to":    []any{},
					"ports": []any{map[string]any{"protocol": "UDP", "port": int64(53)}},
				},
			},
		},
	}}
}

// RenderYAML serializes a manifest for display or export.
func RenderYAML(obj *unstructured.Unstructured) (string, error) {
	raw, err := yaml.Marshal(obj.Object)
	if err != nil {
		return "", fmt.Errorf("rendering manifest: %w", err)
	}
	return string(raw), nil
}
