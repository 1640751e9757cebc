package oshandler

import (
	"time"
)

// Result captures the outcome of one remote command. Success mirrors the
// exit code and nothing else; callers inspect stdout/stderr themselves.
type Result struct {
	Stdout   string         `json:"stdout"`
	Stderr   string         `json:"stderr"`
	ExitCode int            `json:"exit_code"`
	Success  bool           `json:"success"`
	Command  string         `json:"command"`
	Duration time.Duration  `json:"duration"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewResult builds a Result from raw transport output. Success is derived
// from the exit code alone.
func NewResult(command, stdout, stderr string, exitCode int, duration time.Duration) Result {
	return Result{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Success:  exitCode == 0,
		Command:  command,
		Duration: duration,
	}
}

// InterfaceState is the administrative state of a network interface.
type InterfaceState string

const (
	StateUp   InterfaceState = "up"
	StateDown InterfaceState = "down"
)

// NetworkInterface describes one interface on a target.
type NetworkInterface struct {
	Name        string         `json:"name"`
	MACAddress  string         `json:"mac_address"`
	IPAddresses []string       `json:"ip_addresses"`
	Netmask     string         `json:"netmask,omitempty"`
	Gateway     string         `json:"gateway,omitempty"`
	VLANID      int            `json:"vlan_id,omitempty"`
	MTU         int            `json:"mtu"`
	State       InterfaceState `json:"state"`
	Type        string         `json:"type"`
}

// NetworkConfig is a request to configure one interface. When DHCP is
// set the static fields are ignored rather than rejected.
type NetworkConfig struct {
	Interface  string   `json:"interface"`
	IPAddress  string   `json:"ip_address,omitempty"`
	Netmask    string   `json:"netmask,omitempty"`
	Gateway    string   `json:"gateway,omitempty"`
	DNSServers []string `json:"dns_servers,omitempty"`
	VLANID     int      `json:"vlan_id,omitempty"`
	MTU        int      `json:"mtu,omitempty"`
	DHCP       bool     `json:"dhcp,omitempty"`
}

// OSInfo summarizes the operating system on a target.
type OSInfo struct {
	Type         string `json:"type"`
	Distribution string `json:"distribution"`
	Version      string `json:"version"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	Hostname     string `json:"hostname"`
}

// ProcessInfo is one row from the target's process table.
type ProcessInfo struct {
	User    string  `json:"user"`
	PID     int     `json:"pid"`
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Command string  `json:"command"`
}

// DiskUsage is one mounted filesystem.
type DiskUsage struct {
	Filesystem string `json:"filesystem"`
	Size       string `json:"size"`
	Used       string `json:"used"`
	Available  string `json:"available"`
	UsePercent string `json:"use_percent"`
	MountPoint string `json:"mount_point"`
}

// MemoryInfo holds memory totals in bytes.
type MemoryInfo struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Free      int64 `json:"free"`
	Available int64 `json:"available"`
	SwapTotal int64 `json:"swap_total"`
	SwapUsed  int64 `json:"swap_used"`
	SwapFree  int64 `json:"swap_free"`
}

// CPUInfo summarizes the target's processors.
type CPUInfo struct {
	Count        int     `json:"count"`
	Model        string  `json:"model"`
	SpeedMHz     float64 `json:"speed_mhz"`
	Architecture string  `json:"architecture"`
}

// FileInfo is one directory entry on a target.
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Permissions string `json:"permissions"`
	Owner       string `json:"owner"`
	Group       string `json:"group"`
	Modified    string `json:"modified"`
	IsDir       bool   `json:"is_dir"`
}
