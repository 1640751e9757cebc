package cni

// CapabilitySet describes what the cluster's network stack can do,
// derived from the detected plugins.
type CapabilitySet struct {
	NetworkPolicies     bool `json:"network_policies"`
	Encryption          bool `json:"encryption"`
	LoadBalancing       bool `json:"load_balancing"`
	ServiceMesh         bool `json:"service_mesh"`
	BGPRouting          bool `json:"bgp_routing"`
	EBPF                bool `json:"ebpf"`
	VLANSupport         bool `json:"vlan_support"`
	SRIOV               bool `json:"sr_iov"`
	BandwidthManagement bool `json:"bandwidth_management"`
}

// DeriveCapabilities computes the capability set from the plugin set.
// Each plugin only ever turns flags on, so adding a plugin never
// removes a capability.
func DeriveCapabilities(plugins PluginSet) CapabilitySet {
	var caps CapabilitySet

	if plugins.Calico {
		caps.NetworkPolicies = true
		caps.BGPRouting = true
		caps.VLANSupport = true
		caps.Encryption = true
	}
	if plugins.Cilium {
		caps.NetworkPolicies = true
		caps.EBPF = true
		caps.Encryption = true
		caps.LoadBalancing = true
		caps.ServiceMesh = true
		caps.BandwidthManagement = true
	}
	if plugins.Multus {
		caps.VLANSupport = true
		caps.SRIOV = true
	}
	if plugins.SRIOV {
		caps.SRIOV = true
		caps.BandwidthManagement = true
	}
	if plugins.Antrea {
		caps.NetworkPolicies = true
	}

	return caps
}
