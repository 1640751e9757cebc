package oshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/pkg/connection"
)

// linuxOps implements the Linux operation set over a connection. Both
// the Linux and container handlers delegate to it; the container
// handler swaps out elevation and package management where container
// semantics differ.
type linuxOps struct {
	conn connection.Connection

	// sudoPrefix controls whether elevated commands get a sudo prefix.
	// Container exec already runs as root, so the container handler
	// disables it.
	sudoPrefix bool

	osInfo *OSInfo
}

func newLinuxOps(conn connection.Connection, sudoPrefix bool) *linuxOps {
	return &linuxOps{conn: conn, sudoPrefix: sudoPrefix}
}

// run executes one command and wraps the transport output as a Result.
// Non-zero exits become Success=false, never an error.
func (l *linuxOps) run(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()

	if elevate && l.sudoPrefix {
		if ee, ok := l.conn.(connection.ElevatedExecutor); ok {
			stdout, stderr, exitCode, err := ee.ExecuteElevated(ctx, command, timeout)
			if err != nil {
				return Result{}, err
			}
			return NewResult(command, stdout, stderr, exitCode, time.Since(start)), nil
		}
		if !strings.HasPrefix(command, "sudo") {
			command = "sudo " + command
		}
	}

	stdout, stderr, exitCode, err := l.conn.Execute(ctx, command, timeout)
	if err != nil {
		return Result{}, err
	}
	return NewResult(command, stdout, stderr, exitCode, time.Since(start)), nil
}

// ipAddrEntry mirrors the JSON emitted by "ip -j addr show".
type ipAddrEntry struct {
	IfName   string   `json:"ifname"`
	Address  string   `json:"address"`
	MTU      int      `json:"mtu"`
	Flags    []string `json:"flags"`
	AddrInfo []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
	LinkInfo *struct {
		InfoKind string `json:"info_kind"`
		InfoData struct {
			ID int `json:"id"`
		} `json:"info_data"`
	} `json:"linkinfo"`
}

func (l *linuxOps) networkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	result, err := l.run(ctx, "ip -j addr show", 0, false)
	if err != nil {
		return nil, err
	}

	if !result.Success {
		// Older iproute2 without JSON support.
		result, err = l.run(ctx, "ip addr show", 0, false)
		if err != nil {
			return nil, err
		}
		return parseIPAddrText(result.Stdout), nil
	}

	var entries []ipAddrEntry
	if err := json.Unmarshal([]byte(result.Stdout), &entries); err != nil {
		return parseIPAddrText(result.Stdout), nil
	}

	interfaces := make([]NetworkInterface, 0, len(entries))
	for _, entry := range entries {
		iface := NetworkInterface{
			Name:       strings.SplitN(entry.IfName, "@", 2)[0],
			MACAddress: entry.Address,
			MTU:        entry.MTU,
			State:      StateDown,
			Type:       interfaceType(entry.IfName),
		}
		if iface.MTU == 0 {
			iface.MTU = 1500
		}
		for _, flag := range entry.Flags {
			if flag == "UP" {
				iface.State = StateUp
			}
		}
		for _, addr := range entry.AddrInfo {
			if addr.Family != "inet" {
				continue
			}
			iface.IPAddresses = append(iface.IPAddresses, addr.Local)
			if iface.Netmask == "" {
				if mask, err := PrefixToNetmask(addr.PrefixLen); err == nil {
					iface.Netmask = mask
				}
			}
		}
		if entry.LinkInfo != nil && entry.LinkInfo.InfoKind == "vlan" {
			iface.VLANID = entry.LinkInfo.InfoData.ID
		} else if id, ok := vlanIDFromName(entry.IfName); ok {
			iface.VLANID = id
		}
		iface.Gateway = l.defaultGateway(ctx, iface.Name)
		interfaces = append(interfaces, iface)
	}
	return interfaces, nil
}

var (
	ifaceHeaderRe = regexp.MustCompile(`^\d+: (\S+):`)
	macRe         = regexp.MustCompile(`link/ether (\S+)`)
	inetRe        = regexp.MustCompile(`inet (\S+)/(\d+)`)
	mtuRe         = regexp.MustCompile(`mtu (\d+)`)
	vlanNameRe    = regexp.MustCompile(`\.(\d+)(?:@|$)`)
	gatewayRe     = regexp.MustCompile(`default via (\S+)`)
)

// parseIPAddrText handles the plain-text form of "ip addr show".
func parseIPAddrText(output string) []NetworkInterface {
	var interfaces []NetworkInterface
	var current *NetworkInterface

	flush := func() {
		if current != nil {
			interfaces = append(interfaces, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if m := ifaceHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			name := strings.SplitN(m[1], "@", 2)[0]
			current = &NetworkInterface{
				Name:  name,
				MTU:   1500,
				State: StateDown,
				Type:  interfaceType(name),
			}
			if strings.Contains(line, "state UP") || (!strings.Contains(line, "state DOWN") && strings.Contains(line, "UP")) {
				current.State = StateUp
			}
			if m := mtuRe.FindStringSubmatch(line); m != nil {
				current.MTU, _ = strconv.Atoi(m[1])
			}
			if id, ok := vlanIDFromName(m[1]); ok {
				current.VLANID = id
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := macRe.FindStringSubmatch(line); m != nil {
			current.MACAddress = m[1]
		}
		if m := inetRe.FindStringSubmatch(line); m != nil {
			current.IPAddresses = append(current.IPAddresses, m[1])
			if current.Netmask == "" {
				prefix, _ := strconv.Atoi(m[2])
				if mask, err := PrefixToNetmask(prefix); err == nil {
					current.Netmask = mask
				}
			}
		}
	}
	flush()
	return interfaces
}

func vlanIDFromName(name string) (int, bool) {
	m := vlanNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	return id, err == nil
}

func interfaceType(name string) string {
	name = strings.SplitN(name, "@", 2)[0]
	switch {
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return "ethernet"
	case strings.HasPrefix(name, "wl"):
		return "wifi"
	case strings.HasPrefix(name, "lo"):
		return "loopback"
	case strings.HasPrefix(name, "docker"), strings.HasPrefix(name, "br"), strings.HasPrefix(name, "veth"):
		return "virtual"
	default:
		return "unknown"
	}
}

func (l *linuxOps) defaultGateway(ctx context.Context, iface string) string {
	result, err := l.run(ctx, "ip route show default dev "+iface, 0, false)
	if err != nil || !result.Success {
		return ""
	}
	if m := gatewayRe.FindStringSubmatch(result.Stdout); m != nil {
		return m[1]
	}
	return ""
}

// configureNetwork routes VLAN requests to the sub-interface sequence
// and plain requests to whichever network manager runs on the target.
func (l *linuxOps) configureNetwork(ctx context.Context, config NetworkConfig) (Result, error) {
	if config.Interface == "" {
		return Result{}, fmt.Errorf("%w: interface name is required", ErrConfiguration)
	}

	if config.VLANID > 0 {
		return l.configureVLAN(ctx, config)
	}

	switch l.detectNetworkManager(ctx) {
	case "networkmanager":
		return l.configureNetworkNM(ctx, config)
	case "systemd-networkd":
		return l.configureNetworkSystemd(ctx, config)
	default:
		return l.configureNetworkIP(ctx, config)
	}
}

// configureVLAN provisions a tagged sub-interface. The sequence stops
// at the first failing step and returns that step's outcome; earlier
// steps stay applied.
func (l *linuxOps) configureVLAN(ctx context.Context, config NetworkConfig) (Result, error) {
	start := time.Now()
	vlanIface := fmt.Sprintf("%s.%d", config.Interface, config.VLANID)

	result, err := l.run(ctx, "modprobe 8021q", 0, true)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	// A stale sub-interface from an earlier run blocks creation.
	// Deletion failure just means it was not there.
	if _, err := l.run(ctx, "ip link delete "+vlanIface, 0, true); err != nil {
		return Result{}, err
	}

	result, err = l.run(ctx, fmt.Sprintf("ip link add link %s name %s type vlan id %d",
		config.Interface, vlanIface, config.VLANID), 0, true)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	result, err = l.run(ctx, "ip link set "+vlanIface+" up", 0, true)
	if err != nil {
		return Result{}, err
	}
	if !result.Success {
		return result, nil
	}

	if !config.DHCP && config.IPAddress != "" {
		prefix := 24
		if config.Netmask != "" {
			p, err := NetmaskToPrefix(config.Netmask)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			prefix = p
		}

		result, err = l.run(ctx, fmt.Sprintf("ip addr add %s/%d dev %s",
			config.IPAddress, prefix, vlanIface), 0, true)
		if err != nil {
			return Result{}, err
		}
		if !result.Success {
			return result, nil
		}

		if config.Gateway != "" {
			result, err = l.run(ctx, fmt.Sprintf("ip route replace default via %s dev %s",
				config.Gateway, vlanIface), 0, true)
			if err != nil {
				return Result{}, err
			}
			if !result.Success {
				return result, nil
			}
		}
	}

	if config.MTU > 0 {
		if _, err := l.run(ctx, fmt.Sprintf("ip link set %s mtu %d", vlanIface, config.MTU), 0, true); err != nil {
			return Result{}, err
		}
	}

	if len(config.DNSServers) > 0 {
		var b strings.Builder
		for _, dns := range config.DNSServers {
			fmt.Fprintf(&b, "nameserver %s\n", dns)
		}
		result, err = l.run(ctx, fmt.Sprintf("printf '%s' > /etc/resolv.conf", b.String()), 0, true)
		if err != nil {
			return Result{}, err
		}
		if !result.Success {
			return result, nil
		}
	}

	log.Info("Configured VLAN sub-interface", "interface", vlanIface, "vlan", config.VLANID)

	return Result{
		Stdout:   fmt.Sprintf("VLAN %d configured on %s", config.VLANID, config.Interface),
		ExitCode: 0,
		Success:  true,
		Command:  "configure_vlan",
		Duration: time.Since(start),
	}, nil
}

func (l *linuxOps) detectNetworkManager(ctx context.Context) string {
	result, err := l.run(ctx, "systemctl is-active NetworkManager", 0, false)
	if err == nil && result.Success && strings.TrimSpace(result.Stdout) == "active" {
		return "networkmanager"
	}

	result, err = l.run(ctx, "systemctl is-active systemd-networkd", 0, false)
	if err == nil && result.Success && strings.TrimSpace(result.Stdout) == "active" {
		return "systemd-networkd"
	}

	return "legacy"
}

func (l *linuxOps) configureNetworkNM(ctx context.Context, config NetworkConfig) (Result, error) {
	conName := "podd-" + config.Interface

	// Remove any connection profile from an earlier run.
	if _, err := l.run(ctx, fmt.Sprintf("nmcli con delete '%s'", conName), 0, true); err != nil {
		return Result{}, err
	}

	cmd := fmt.Sprintf("nmcli con add con-name '%s' ifname %s type ethernet", conName, config.Interface)
	if config.DHCP {
		cmd += " ipv4.method auto"
	} else {
		prefix := 24
		if config.Netmask != "" {
			p, err := NetmaskToPrefix(config.Netmask)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			prefix = p
		}
		cmd += fmt.Sprintf(" ipv4.method manual ipv4.addresses %s/%d", config.IPAddress, prefix)
		if config.Gateway != "" {
			cmd += " ipv4.gateway " + config.Gateway
		}
		if len(config.DNSServers) > 0 {
			cmd += fmt.Sprintf(" ipv4.dns '%s'", strings.Join(config.DNSServers, ","))
		}
	}

	result, err := l.run(ctx, cmd, 0, true)
	if err != nil || !result.Success {
		return result, err
	}
	return l.run(ctx, fmt.Sprintf("nmcli con up '%s'", conName), 0, true)
}

func (l *linuxOps) configureNetworkSystemd(ctx context.Context, config NetworkConfig) (Result, error) {
	networkFile := fmt.Sprintf("/etc/systemd/network/10-%s.network", config.Interface)

	var b strings.Builder
	fmt.Fprintf(&b, "[Match]\nName=%s\n\n[Network]\n", config.Interface)
	if config.DHCP {
		b.WriteString("DHCP=yes\n")
	} else {
		prefix := 24
		if config.Netmask != "" {
			p, err := NetmaskToPrefix(config.Netmask)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			prefix = p
		}
		fmt.Fprintf(&b, "Address=%s/%d\n", config.IPAddress, prefix)
		if config.Gateway != "" {
			fmt.Fprintf(&b, "Gateway=%s\n", config.Gateway)
		}
		for _, dns := range config.DNSServers {
			fmt.Fprintf(&b, "DNS=%s\n", dns)
		}
	}

	result, err := l.run(ctx, fmt.Sprintf("printf '%s' > %s", b.String(), networkFile), 0, true)
	if err != nil || !result.Success {
		return result, err
	}
	return l.run(ctx, "systemctl restart systemd-networkd", 0, true)
}

func (l *linuxOps) configureNetworkIP(ctx context.Context, config NetworkConfig) (Result, error) {
	if _, err := l.run(ctx, "ip link set "+config.Interface+" down", 0, true); err != nil {
		return Result{}, err
	}
	if _, err := l.run(ctx, "ip addr flush dev "+config.Interface, 0, true); err != nil {
		return Result{}, err
	}

	if !config.DHCP {
		prefix := 24
		if config.Netmask != "" {
			p, err := NetmaskToPrefix(config.Netmask)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			prefix = p
		}

		result, err := l.run(ctx, fmt.Sprintf("ip addr add %s/%d dev %s",
			config.IPAddress, prefix, config.Interface), 0, true)
		if err != nil || !result.Success {
			return result, err
		}

		if config.Gateway != "" {
			if _, err := l.run(ctx, "ip route add default via "+config.Gateway, 0, true); err != nil {
				return Result{}, err
			}
		}
	}

	if config.MTU > 0 {
		if _, err := l.run(ctx, fmt.Sprintf("ip link set %s mtu %d", config.Interface, config.MTU), 0, true); err != nil {
			return Result{}, err
		}
	}

	return l.run(ctx, "ip link set "+config.Interface+" up", 0, true)
}

func (l *linuxOps) restartNetworkService(ctx context.Context) (Result, error) {
	for _, service := range []string{"NetworkManager", "systemd-networkd", "network", "networking"} {
		result, err := l.run(ctx, "systemctl restart "+service, 0, true)
		if err != nil {
			return Result{}, err
		}
		if result.Success {
			return result, nil
		}
	}
	return l.run(ctx, "ifdown -a && ifup -a", 0, true)
}

func (l *linuxOps) getOSInfo(ctx context.Context) (OSInfo, error) {
	if l.osInfo != nil {
		return *l.osInfo, nil
	}

	info := OSInfo{
		Type:         "linux",
		Distribution: "unknown",
		Version:      "unknown",
		Kernel:       "unknown",
		Architecture: "unknown",
		Hostname:     "unknown",
	}

	result, err := l.run(ctx, "cat /etc/os-release", 0, false)
	if err != nil {
		return OSInfo{}, err
	}
	if result.Success {
		for _, line := range strings.Split(result.Stdout, "\n") {
			switch {
			case strings.HasPrefix(line, "NAME="):
				info.Distribution = strings.Trim(strings.TrimPrefix(line, "NAME="), `"`)
			case strings.HasPrefix(line, "VERSION="):
				info.Version = strings.Trim(strings.TrimPrefix(line, "VERSION="), `"`)
			}
		}
	}

	if result, err = l.run(ctx, "uname -r", 0, false); err == nil && result.Success {
		info.Kernel = strings.TrimSpace(result.Stdout)
	}
	if result, err = l.run(ctx, "uname -m", 0, false); err == nil && result.Success {
		info.Architecture = strings.TrimSpace(result.Stdout)
	}
	if result, err = l.run(ctx, "hostname", 0, false); err == nil && result.Success {
		info.Hostname = strings.TrimSpace(result.Stdout)
	}

	l.osInfo = &info
	return info, nil
}

// packageManagers in probe order. First one found on PATH wins.
var packageManagers = []struct {
	binary  string
	install string
}{
	{"dnf", "dnf install -y"},
	{"yum", "yum install -y"},
	{"apt-get", "apt-get install -y"},
	{"zypper", "zypper install -y"},
	{"pacman", "pacman -S --noconfirm"},
	{"apk", "apk add"},
}

func (l *linuxOps) installPackage(ctx context.Context, name string) (Result, error) {
	for _, pm := range packageManagers {
		result, err := l.run(ctx, "command -v "+pm.binary, 0, false)
		if err != nil {
			return Result{}, err
		}
		if result.Success {
			return l.run(ctx, pm.install+" "+name, 5*time.Minute, true)
		}
	}

	return Result{
		Stderr:   "no supported package manager found",
		ExitCode: 1,
		Command:  "install " + name,
	}, nil
}

func (l *linuxOps) startService(ctx context.Context, name string) (Result, error) {
	return l.run(ctx, "systemctl start "+name, 0, true)
}

func (l *linuxOps) stopService(ctx context.Context, name string) (Result, error) {
	return l.run(ctx, "systemctl stop "+name, 0, true)
}

func (l *linuxOps) serviceStatus(ctx context.Context, name string) (Result, error) {
	return l.run(ctx, "systemctl status "+name, 0, false)
}

func (l *linuxOps) createUser(ctx context.Context, username, password string, groups []string) (Result, error) {
	cmd := "useradd " + username
	if len(groups) > 0 {
		cmd += " -G " + strings.Join(groups, ",")
	}

	result, err := l.run(ctx, cmd, 0, true)
	if err != nil || !result.Success {
		return result, err
	}

	if password != "" {
		return l.run(ctx, fmt.Sprintf("echo '%s:%s' | chpasswd", username, password), 0, true)
	}
	return result, nil
}

func (l *linuxOps) setHostname(ctx context.Context, hostname string) (Result, error) {
	return l.run(ctx, "hostnamectl set-hostname "+hostname, 0, true)
}

func (l *linuxOps) processes(ctx context.Context) ([]ProcessInfo, error) {
	result, err := l.run(ctx, "ps aux", 0, false)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("listing processes: %s", strings.TrimSpace(result.Stderr))
	}

	var processes []ProcessInfo
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpu, _ := strconv.ParseFloat(fields[2], 64)
		mem, _ := strconv.ParseFloat(fields[3], 64)
		processes = append(processes, ProcessInfo{
			User:    fields[0],
			PID:     pid,
			CPU:     cpu,
			Memory:  mem,
			Command: strings.Join(fields[10:], " "),
		})
	}
	return processes, nil
}

func (l *linuxOps) killProcess(ctx context.Context, pid, signal int) (Result, error) {
	return l.run(ctx, fmt.Sprintf("kill -%d %d", signal, pid), 0, true)
}

func (l *linuxOps) diskUsage(ctx context.Context) ([]DiskUsage, error) {
	result, err := l.run(ctx, "df -h", 0, false)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("reading disk usage: %s", strings.TrimSpace(result.Stderr))
	}

	var disks []DiskUsage
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		disks = append(disks, DiskUsage{
			Filesystem: fields[0],
			Size:       fields[1],
			Used:       fields[2],
			Available:  fields[3],
			UsePercent: strings.TrimSuffix(fields[4], "%"),
			MountPoint: fields[5],
		})
	}
	return disks, nil
}

func (l *linuxOps) memoryInfo(ctx context.Context) (MemoryInfo, error) {
	result, err := l.run(ctx, "free -b", 0, false)
	if err != nil {
		return MemoryInfo{}, err
	}
	if !result.Success {
		return MemoryInfo{}, fmt.Errorf("reading memory info: %s", strings.TrimSpace(result.Stderr))
	}

	var info MemoryInfo
	for _, line := range strings.Split(result.Stdout, "\n") {
		fields := strings.Fields(line)
		switch {
		case strings.HasPrefix(line, "Mem:") && len(fields) >= 4:
			info.Total, _ = strconv.ParseInt(fields[1], 10, 64)
			info.Used, _ = strconv.ParseInt(fields[2], 10, 64)
			info.Free, _ = strconv.ParseInt(fields[3], 10, 64)
			info.Available = info.Free
			if len(fields) >= 7 {
				info.Available, _ = strconv.ParseInt(fields[6], 10, 64)
			}
		case strings.HasPrefix(line, "Swap:") && len(fields) >= 4:
			info.SwapTotal, _ = strconv.ParseInt(fields[1], 10, 64)
			info.SwapUsed, _ = strconv.ParseInt(fields[2], 10, 64)
			info.SwapFree, _ = strconv.ParseInt(fields[3], 10, 64)
		}
	}
	return info, nil
}

func (l *linuxOps) cpuInfo(ctx context.Context) (CPUInfo, error) {
	result, err := l.run(ctx, "lscpu", 0, false)
	if err != nil {
		return CPUInfo{}, err
	}
	if !result.Success {
		return CPUInfo{}, fmt.Errorf("reading cpu info: %s", strings.TrimSpace(result.Stderr))
	}

	info := CPUInfo{Model: "unknown", Architecture: "unknown"}
	for _, line := range strings.Split(result.Stdout, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "CPU(s)":
			info.Count, _ = strconv.Atoi(value)
		case "Model name":
			info.Model = value
		case "CPU MHz":
			info.SpeedMHz, _ = strconv.ParseFloat(value, 64)
		case "Architecture":
			info.Architecture = value
		}
	}
	return info, nil
}

func (l *linuxOps) fileExists(ctx context.Context, path string) (bool, error) {
	result, err := l.run(ctx, fmt.Sprintf("test -e '%s'", path), 0, false)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (l *linuxOps) createDirectory(ctx context.Context, path string, recursive bool) (Result, error) {
	flag := ""
	if recursive {
		flag = "-p "
	}
	return l.run(ctx, fmt.Sprintf("mkdir %s'%s'", flag, path), 0, false)
}

func (l *linuxOps) removeFile(ctx context.Context, path string) (Result, error) {
	return l.run(ctx, fmt.Sprintf("rm -f '%s'", path), 0, false)
}

func (l *linuxOps) listDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	result, err := l.run(ctx, fmt.Sprintf("ls -la '%s'", path), 0, false)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("listing %s: %s", path, strings.TrimSpace(result.Stderr))
	}

	var files []FileInfo
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "total") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		files = append(files, FileInfo{
			Name:        strings.Join(fields[8:], " "),
			Size:        size,
			Permissions: fields[0],
			Owner:       fields[2],
			Group:       fields[3],
			Modified:    strings.Join(fields[5:8], " "),
			IsDir:       strings.HasPrefix(fields[0], "d"),
		})
	}
	return files, nil
}

func (l *linuxOps) reboot(ctx context.Context, wait bool, waitTimeout time.Duration) (Result, error) {
	result, err := l.run(ctx, "reboot", 10*time.Second, true)
	if err != nil {
		// The transport often drops before the command acknowledges.
		result = Result{Stdout: "reboot initiated", Success: true, Command: "reboot"}
	}

	if wait {
		if err := connection.WaitForReboot(ctx, l.conn, waitTimeout); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (l *linuxOps) shutdown(ctx context.Context) (Result, error) {
	result, err := l.run(ctx, "shutdown -h now", 10*time.Second, true)
	if err != nil {
		return Result{Stdout: "shutdown initiated", Success: true, Command: "shutdown"}, nil
	}
	return result, nil
}
