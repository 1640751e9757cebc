package cni

import "testing"

func TestDeriveCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		plugins PluginSet
		want    CapabilitySet
	}{
		{
			name: "none",
		},
		{
			name:    "calicoOnly",
			plugins: PluginSet{Calico: true},
			want: CapabilitySet{
				NetworkPolicies: true,
				BGPRouting:      true,
				VLANSupport:     true,
				Encryption:      true,
			},
		},
		{
			name:    "ciliumOnly",
			plugins: PluginSet{Cilium: true},
			want: CapabilitySet{
				NetworkPolicies:     true,
				EBPF:                true,
				Encryption:          true,
				LoadBalancing:       true,
				ServiceMesh:         true,
				BandwidthManagement: true,
			},
		},
		{
			name:    "multusAndSriov",
			plugins: PluginSet{Multus: true, SRIOV: true},
			want: CapabilitySet{
				VLANSupport:         true,
				SRIOV:               true,
				BandwidthManagement: true,
			},
		},
		{
			name:    "flannelAddsNothing",
			plugins: PluginSet{Flannel: true, Weave: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveCapabilities(tt.plugins)
			if got != tt.want {
				t.Errorf("DeriveCapabilities(%+v) = %+v, want %+v", tt.plugins, got, tt.want)
			}
		})
	}
}

// Adding a plugin may only turn capabilities on, never off.
func TestDeriveCapabilitiesMonotonic(t *testing.T) {
	base := DeriveCapabilities(PluginSet{Calico: true})
	if !base.NetworkPolicies {
		t.Fatal("calico alone should grant network policies")
	}

	extended := DeriveCapabilities(PluginSet{Calico: true, Cilium: true})
	if !extended.NetworkPolicies {
		t.Error("adding cilium dropped network policies")
	}
	if !extended.EBPF {
		t.Error("adding cilium should grant eBPF")
	}
	if !extended.BGPRouting || !extended.VLANSupport {
		t.Error("adding cilium dropped calico capabilities")
	}
}
