package model

import (
	"time"
)

// Target represents a managed endpoint: a host, container, or pod that
// commands are executed against.
type Target struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Transport string `json:"transport"` // "ssh", "winrm", "docker", "kube"
	Address   string `json:"address"`   // host, container ID, or kubeconfig path
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
	KeyPath   string `json:"key_path,omitempty"` // SSH private key

	// Platform hints for handler resolution. Both are optional; the
	// factory probes the target when they are empty.
	OSType  string `json:"os_type,omitempty"`
	GuestID string `json:"guest_id,omitempty"`

	// Kubernetes/container coordinates.
	Namespace string `json:"namespace,omitempty"`
	Pod       string `json:"pod,omitempty"`
	Container string `json:"container,omitempty"`

	// Upstream switch used for VLAN verification over SNMP.
	SwitchAddress   string `json:"switch_address,omitempty"`
	SwitchCommunity string `json:"switch_community,omitempty"`

	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetFilter holds filter criteria for listing targets
type TargetFilter struct {
	Tags      []string // Filter by tags (OR logic)
	Transport string   // Filter by transport kind
}
