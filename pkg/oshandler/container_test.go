package oshandler

import (
	"context"
	"strings"
	"testing"

	"github.com/martinsuchenak/podd/pkg/connection"
)

func TestContainerCommandsSkipSudo(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	if _, err := handler.Execute(context.Background(), "whoami", 0, true); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(conn.commands) != 1 {
		t.Fatalf("expected one command, got %v", conn.commands)
	}
	if strings.HasPrefix(conn.commands[0], "sudo ") {
		t.Errorf("exec transports run as root, got %q", conn.commands[0])
	}
}

func TestContainerLifecycleOperationsUnsupported(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (Result, error)
	}{
		{"reboot", func() (Result, error) { return handler.Reboot(ctx, true) }},
		{"shutdown", func() (Result, error) { return handler.Shutdown(ctx) }},
		{"restart_network", func() (Result, error) { return handler.RestartNetworkService(ctx) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.call()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Success {
				t.Errorf("runtime-managed operations must not fail: %+v", result)
			}
		})
	}
	if len(conn.commands) != 0 {
		t.Errorf("no commands should reach the container, got %v", conn.commands)
	}
}

func TestCreateVLANBridgeSequence(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	result, err := handler.CreateVLANBridge(context.Background(), "br-vlan100", 100, "eth0")
	if err != nil {
		t.Fatalf("CreateVLANBridge: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	steps := []string{
		"ip link add name br-vlan100 type bridge",
		"ip link add link eth0 name eth0.100 type vlan id 100",
		"ip link set eth0.100 master br-vlan100",
		"ip link set br-vlan100 up",
		"ip link set eth0.100 up",
	}
	last := -1
	for _, step := range steps {
		idx := conn.commandIndex(step)
		if idx < 0 {
			t.Fatalf("missing step %q, commands: %v", step, conn.commands)
		}
		if idx < last {
			t.Errorf("step %q ran out of order", step)
		}
		last = idx
	}
}

func TestCreateVLANBridgeStopsOnFailure(t *testing.T) {
	conn := newFakeConn(connection.KindDocker,
		fakeResponse{match: "type vlan id", stderr: "RTNETLINK answers: File exists", exitCode: 2})
	handler := NewContainerHandler(conn)

	result, err := handler.CreateVLANBridge(context.Background(), "br-vlan100", 100, "eth0")
	if err != nil {
		t.Fatalf("CreateVLANBridge: %v", err)
	}
	if result.Success {
		t.Fatal("expected the failed step's result")
	}
	if conn.commandIndex("master") >= 0 {
		t.Errorf("bridge attachment should not run after a failed step: %v", conn.commands)
	}
}

func TestAddVethPair(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	result, err := handler.AddVethPair(context.Background(), "veth0", "veth1")
	if err != nil {
		t.Fatalf("AddVethPair: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if conn.commandIndex("ip link add veth0 type veth peer name veth1") < 0 {
		t.Errorf("missing veth creation, commands: %v", conn.commands)
	}
	if conn.commandIndex("ip link set veth0 up") < 0 || conn.commandIndex("ip link set veth1 up") < 0 {
		t.Errorf("both ends should come up, commands: %v", conn.commands)
	}
}

func TestCreateMacvlanInterfaceWithVLANParent(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	result, err := handler.CreateMacvlanInterface(context.Background(), "mv0", "eth0", 200)
	if err != nil {
		t.Fatalf("CreateMacvlanInterface: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	vlanStep := conn.commandIndex("ip link add link eth0 name eth0.200 type vlan id 200")
	macvlanStep := conn.commandIndex("ip link add mv0 link eth0.200 type macvlan mode bridge")
	if vlanStep < 0 || macvlanStep < 0 {
		t.Fatalf("missing steps, commands: %v", conn.commands)
	}
	if macvlanStep < vlanStep {
		t.Error("macvlan must be created on top of the VLAN sub-interface")
	}
}

func TestCreateMacvlanInterfaceWithoutVLAN(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	if _, err := handler.CreateMacvlanInterface(context.Background(), "mv0", "eth0", 0); err != nil {
		t.Fatalf("CreateMacvlanInterface: %v", err)
	}
	if conn.commandIndex("type vlan") >= 0 {
		t.Errorf("no VLAN sub-interface expected, commands: %v", conn.commands)
	}
	if conn.commandIndex("ip link add mv0 link eth0 type macvlan mode bridge") < 0 {
		t.Errorf("missing macvlan creation, commands: %v", conn.commands)
	}
}

func TestConfigureVLANsAppliesEachConfig(t *testing.T) {
	conn := newFakeConn(connection.KindDocker)
	handler := NewContainerHandler(conn)

	configs := []NetworkConfig{
		{Interface: "eth0", IPAddress: "10.0.100.2", Netmask: "255.255.255.0", VLANID: 100},
		{Interface: "eth0", IPAddress: "10.0.200.2", Netmask: "255.255.255.0", VLANID: 200},
	}

	results, err := handler.ConfigureVLANs(context.Background(), configs)
	if err != nil {
		t.Fatalf("ConfigureVLANs: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, result := range results {
		if !result.Success {
			t.Errorf("vlan %d failed: %+v", configs[i].VLANID, result)
		}
	}

	if conn.commandIndex("ip link add link eth0 name eth0.100 type vlan id 100") < 0 ||
		conn.commandIndex("ip link add link eth0 name eth0.200 type vlan id 200") < 0 {
		t.Errorf("both VLAN interfaces should be created, commands: %v", conn.commands)
	}
}
