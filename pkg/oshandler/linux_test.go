package oshandler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/martinsuchenak/podd/pkg/connection"
)

func TestExecuteSuccessTracksExitCode(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		stdout   string
		stderr   string
		want     bool
	}{
		{name: "zeroExit", exitCode: 0, want: true},
		{name: "zeroExitWithStderr", exitCode: 0, stderr: "warning: deprecated flag", want: true},
		{name: "nonZeroExit", exitCode: 1, want: false},
		{name: "nonZeroExitWithStdout", exitCode: 2, stdout: "partial output", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(connection.KindSSH, fakeResponse{
				match: "true", stdout: tt.stdout, stderr: tt.stderr, exitCode: tt.exitCode,
			})
			handler := NewLinuxHandler(conn)

			result, err := handler.Execute(context.Background(), "true", time.Second, false)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if result.Success != tt.want {
				t.Errorf("Success = %v with exit code %d, want %v", result.Success, tt.exitCode, tt.want)
			}
			if result.ExitCode != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.exitCode)
			}
		})
	}
}

func TestConfigureVLANSequence(t *testing.T) {
	conn := newFakeConn(connection.KindSSH)
	handler := NewLinuxHandler(conn)

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "192.168.100.10",
		Netmask:   "255.255.255.0",
		Gateway:   "192.168.100.1",
		VLANID:    100,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("ConfigureNetwork failed: stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}

	// The steps must run in order: kernel module, stale delete, create,
	// up, address, route.
	steps := []string{
		"modprobe 8021q",
		"ip link delete eth0.100",
		"ip link add link eth0 name eth0.100 type vlan id 100",
		"ip link set eth0.100 up",
		"ip addr add 192.168.100.10/24 dev eth0.100",
		"ip route replace default via 192.168.100.1 dev eth0.100",
	}
	prev := -1
	for _, step := range steps {
		idx := conn.commandIndex(step)
		if idx < 0 {
			t.Fatalf("expected command containing %q, got %v", step, conn.commands)
		}
		if idx <= prev {
			t.Errorf("command %q ran out of order (index %d, previous %d)", step, idx, prev)
		}
		prev = idx
	}
}

func TestConfigureVLANStopsAtFirstFailure(t *testing.T) {
	conn := newFakeConn(connection.KindSSH, fakeResponse{
		match: "ip link add", stderr: "RTNETLINK answers: operation not permitted", exitCode: 2,
	})
	handler := NewLinuxHandler(conn)

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface: "eth0",
		IPAddress: "192.168.100.10",
		Netmask:   "255.255.255.0",
		VLANID:    100,
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result when sub-interface creation fails")
	}
	if result.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", result.ExitCode)
	}

	// Later steps must not run; no rollback of earlier ones either.
	if idx := conn.commandIndex("ip addr add"); idx >= 0 {
		t.Errorf("address assignment ran after failed creation: %v", conn.commands)
	}
	if idx := conn.commandIndex("modprobe 8021q"); idx < 0 {
		t.Error("kernel module step should have run before the failure")
	}
}

func TestConfigureVLANWritesResolvConf(t *testing.T) {
	conn := newFakeConn(connection.KindSSH)
	handler := NewLinuxHandler(conn)

	result, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{
		Interface:  "eth0",
		IPAddress:  "10.0.50.2",
		Netmask:    "255.255.255.0",
		VLANID:     50,
		DNSServers: []string{"10.0.50.1", "8.8.8.8"},
	})
	if err != nil {
		t.Fatalf("ConfigureNetwork returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("ConfigureNetwork failed: %q", result.Stderr)
	}

	idx := conn.commandIndex("/etc/resolv.conf")
	if idx < 0 {
		t.Fatalf("expected resolver overwrite, got %v", conn.commands)
	}
	if !strings.Contains(conn.commands[idx], "nameserver 10.0.50.1") {
		t.Errorf("resolver command missing first nameserver: %q", conn.commands[idx])
	}
}

func TestConfigureNetworkRejectsMissingInterface(t *testing.T) {
	handler := NewLinuxHandler(newFakeConn(connection.KindSSH))

	_, err := handler.ConfigureNetwork(context.Background(), NetworkConfig{VLANID: 100})
	if err == nil {
		t.Fatal("expected configuration error for missing interface name")
	}
}

func TestNetworkInterfacesParsesJSON(t *testing.T) {
	output := `[
  {"ifname": "lo", "address": "00:00:00:00:00:00", "mtu": 65536, "flags": ["LOOPBACK", "UP"],
   "addr_info": [{"family": "inet", "local": "127.0.0.1", "prefixlen": 8}]},
  {"ifname": "eth0", "address": "52:54:00:12:34:56", "mtu": 1500, "flags": ["BROADCAST", "UP"],
   "addr_info": [{"family": "inet", "local": "192.168.1.10", "prefixlen": 24},
                 {"family": "inet6", "local": "fe80::1", "prefixlen": 64}]},
  {"ifname": "eth0.100@eth0", "address": "52:54:00:12:34:56", "mtu": 1500, "flags": ["UP"],
   "linkinfo": {"info_kind": "vlan", "info_data": {"id": 100}},
   "addr_info": [{"family": "inet", "local": "192.168.100.10", "prefixlen": 24}]}
]`

	conn := newFakeConn(connection.KindSSH,
		fakeResponse{match: "ip -j addr show", stdout: output},
		fakeResponse{match: "ip route show default", stdout: "default via 192.168.1.1 dev eth0"})
	handler := NewLinuxHandler(conn)

	interfaces, err := handler.NetworkInterfaces(context.Background())
	if err != nil {
		t.Fatalf("NetworkInterfaces returned error: %v", err)
	}
	if len(interfaces) != 3 {
		t.Fatalf("got %d interfaces, want 3", len(interfaces))
	}

	eth0 := interfaces[1]
	if eth0.Name != "eth0" {
		t.Errorf("Name = %q, want eth0", eth0.Name)
	}
	if len(eth0.IPAddresses) != 1 || eth0.IPAddresses[0] != "192.168.1.10" {
		t.Errorf("IPAddresses = %v, want [192.168.1.10]", eth0.IPAddresses)
	}
	if eth0.Netmask != "255.255.255.0" {
		t.Errorf("Netmask = %q, want 255.255.255.0", eth0.Netmask)
	}
	if eth0.State != StateUp {
		t.Errorf("State = %q, want up", eth0.State)
	}

	vlan := interfaces[2]
	if vlan.Name != "eth0.100" {
		t.Errorf("VLAN Name = %q, want eth0.100", vlan.Name)
	}
	if vlan.VLANID != 100 {
		t.Errorf("VLANID = %d, want 100", vlan.VLANID)
	}
}

func TestNetworkInterfacesTextFallback(t *testing.T) {
	textOutput := `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 state UNKNOWN
    inet 127.0.0.1/8 scope host lo
2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 state UP
    link/ether 52:54:00:ab:cd:ef brd ff:ff:ff:ff:ff:ff
    inet 10.1.2.3/16 brd 10.1.255.255 scope global eth0`

	conn := newFakeConn(connection.KindSSH,
		fakeResponse{match: "ip -j addr show", stderr: "invalid option", exitCode: 255},
		fakeResponse{match: "ip addr show", stdout: textOutput})
	handler := NewLinuxHandler(conn)

	interfaces, err := handler.NetworkInterfaces(context.Background())
	if err != nil {
		t.Fatalf("NetworkInterfaces returned error: %v", err)
	}
	if len(interfaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(interfaces))
	}

	eth0 := interfaces[1]
	if eth0.MACAddress != "52:54:00:ab:cd:ef" {
		t.Errorf("MACAddress = %q", eth0.MACAddress)
	}
	if eth0.Netmask != "255.255.0.0" {
		t.Errorf("Netmask = %q, want 255.255.0.0", eth0.Netmask)
	}
	if eth0.MTU != 1500 {
		t.Errorf("MTU = %d, want 1500", eth0.MTU)
	}
}

func TestInstallPackagePicksFirstManager(t *testing.T) {
	conn := newFakeConn(connection.KindSSH,
		fakeResponse{match: "command -v dnf", stderr: "not found", exitCode: 1},
		fakeResponse{match: "command -v yum", stderr: "not found", exitCode: 1},
		fakeResponse{match: "command -v apt-get", stdout: "/usr/bin/apt-get"})
	handler := NewLinuxHandler(conn)

	result, err := handler.InstallPackage(context.Background(), "tcpdump")
	if err != nil {
		t.Fatalf("InstallPackage returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("InstallPackage failed: %q", result.Stderr)
	}
	if idx := conn.commandIndex("apt-get install -y tcpdump"); idx < 0 {
		t.Errorf("expected apt-get install, got %v", conn.commands)
	}
}

func TestOSInfoCachedAfterFirstQuery(t *testing.T) {
	conn := newFakeConn(connection.KindSSH,
		fakeResponse{match: "os-release", stdout: "NAME=\"Rocky Linux\"\nVERSION=\"9.3\"\n"},
		fakeResponse{match: "uname -r", stdout: "5.14.0-362.el9\n"},
		fakeResponse{match: "uname -m", stdout: "x86_64\n"},
		fakeResponse{match: "hostname", stdout: "node1\n"})
	handler := NewLinuxHandler(conn)

	info, err := handler.OSInfo(context.Background())
	if err != nil {
		t.Fatalf("OSInfo returned error: %v", err)
	}
	if info.Distribution != "Rocky Linux" || info.Kernel != "5.14.0-362.el9" {
		t.Errorf("unexpected info: %+v", info)
	}

	first := len(conn.commands)
	if _, err := handler.OSInfo(context.Background()); err != nil {
		t.Fatalf("second OSInfo returned error: %v", err)
	}
	if len(conn.commands) != first {
		t.Error("second OSInfo query hit the transport instead of the cache")
	}
}
