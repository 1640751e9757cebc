package oshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/podd/pkg/connection"
)

// WindowsHandler drives Windows hosts, normally over WinRM. Most
// operations are PowerShell scripts whose output comes back as JSON.
type WindowsHandler struct {
	conn Connection

	RebootWait time.Duration

	osInfo *OSInfo
}

// NewWindowsHandler creates a handler for a Windows host.
func NewWindowsHandler(conn Connection) *WindowsHandler {
	return &WindowsHandler{conn: conn, RebootWait: 10 * time.Minute}
}

func (h *WindowsHandler) Kind() HandlerKind { return KindWindows }

func (h *WindowsHandler) Execute(ctx context.Context, command string, timeout time.Duration, elevate bool) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	stdout, stderr, exitCode, err := h.conn.Execute(ctx, command, timeout)
	if err != nil {
		return Result{}, err
	}
	return NewResult(command, stdout, stderr, exitCode, time.Since(start)), nil
}

// ExecutePowerShell runs a script through the transport's script
// channel when it has one, otherwise by shelling out to powershell.
func (h *WindowsHandler) ExecutePowerShell(ctx context.Context, script string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	label := script
	if len(label) > 50 {
		label = label[:50] + "..."
	}
	label = "powershell: " + label

	if se, ok := h.conn.(connection.ScriptExecutor); ok {
		stdout, stderr, exitCode, err := se.ExecuteScript(ctx, script, timeout)
		if err != nil {
			return Result{}, err
		}
		return NewResult(label, stdout, stderr, exitCode, time.Since(start)), nil
	}

	stdout, stderr, exitCode, err := h.conn.Execute(ctx,
		fmt.Sprintf("powershell -NoProfile -NonInteractive -Command \"%s\"", strings.ReplaceAll(script, `"`, "`\"")),
		timeout)
	if err != nil {
		return Result{}, err
	}
	return NewResult(label, stdout, stderr, exitCode, time.Since(start)), nil
}

type winAdapter struct {
	Name         string   `json:"Name"`
	MacAddress   string   `json:"MacAddress"`
	Status       string   `json:"Status"`
	IPAddresses  []string `json:"IPAddresses"`
	PrefixLength int      `json:"PrefixLength"`
	Gateway      string   `json:"Gateway"`
	VlanID       string   `json:"VlanID"`
}

const adapterQuery = `Get-NetAdapter | ForEach-Object {
  $adapter = $_
  $config = Get-NetIPConfiguration -InterfaceIndex $adapter.ifIndex
  $addresses = Get-NetIPAddress -InterfaceIndex $adapter.ifIndex -AddressFamily IPv4 -ErrorAction SilentlyContinue
  @{
    Name = $adapter.Name
    MacAddress = $adapter.MacAddress
    Status = $adapter.Status
    IPAddresses = @($addresses | ForEach-Object { $_.IPAddress })
    PrefixLength = @($addresses | ForEach-Object { $_.PrefixLength })[0]
    Gateway = $config.IPv4DefaultGateway.NextHop
    VlanID = (Get-NetAdapterAdvancedProperty -Name $adapter.Name -DisplayName "VLAN ID" -ErrorAction SilentlyContinue).DisplayValue
  }
} | ConvertTo-Json -Depth 5`

func (h *WindowsHandler) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	result, err := h.ExecutePowerShell(ctx, adapterQuery, 0)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("querying adapters: %s", strings.TrimSpace(result.Stderr))
	}

	adapters, err := decodeJSONList[winAdapter](result.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing adapter output: %w", err)
	}

	interfaces := make([]NetworkInterface, 0, len(adapters))
	for _, adapter := range adapters {
		iface := NetworkInterface{
			Name:        adapter.Name,
			MACAddress:  strings.ToLower(strings.ReplaceAll(adapter.MacAddress, "-", ":")),
			IPAddresses: adapter.IPAddresses,
			Gateway:     adapter.Gateway,
			MTU:         1500,
			State:       StateDown,
			Type:        "ethernet",
		}
		if adapter.Status == "Up" {
			iface.State = StateUp
		}
		if adapter.PrefixLength > 0 {
			if mask, err := PrefixToNetmask(adapter.PrefixLength); err == nil {
				iface.Netmask = mask
			}
		}
		if id, err := strconv.Atoi(adapter.VlanID); err == nil {
			iface.VLANID = id
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces, nil
}

// decodeJSONList tolerates PowerShell's habit of emitting a bare object
// when a pipeline yields a single element.
func decodeJSONList[T any](data string) ([]T, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}

	var list []T
	if err := json.Unmarshal([]byte(data), &list); err == nil {
		return list, nil
	}

	var single T
	if err := json.Unmarshal([]byte(data), &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}

// ConfigureNetwork builds one PowerShell script covering address, route,
// DNS, and the adapter's VLAN ID property. The script stops at the
// first failing cmdlet; applied steps are not undone.
func (h *WindowsHandler) ConfigureNetwork(ctx context.Context, config NetworkConfig) (Result, error) {
	if config.Interface == "" {
		return Result{}, fmt.Errorf("%w: interface name is required", ErrConfiguration)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf(`$adapter = Get-NetAdapter -Name "%s" -ErrorAction Stop`, config.Interface))

	if config.DHCP {
		parts = append(parts,
			`Remove-NetIPAddress -InterfaceAlias $adapter.InterfaceAlias -Confirm:$false -ErrorAction SilentlyContinue`,
			`Set-NetIPInterface -InterfaceAlias $adapter.InterfaceAlias -Dhcp Enabled`)
	} else {
		prefix := 24
		if config.Netmask != "" {
			p, err := NetmaskToPrefix(config.Netmask)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			prefix = p
		}

		parts = append(parts,
			`Remove-NetIPAddress -InterfaceAlias $adapter.InterfaceAlias -Confirm:$false -ErrorAction SilentlyContinue`,
			`Remove-NetRoute -InterfaceAlias $adapter.InterfaceAlias -Confirm:$false -ErrorAction SilentlyContinue`,
			fmt.Sprintf(`New-NetIPAddress -InterfaceAlias $adapter.InterfaceAlias -IPAddress "%s" -PrefixLength %d -Confirm:$false`,
				config.IPAddress, prefix))

		if config.Gateway != "" {
			parts = append(parts, fmt.Sprintf(
				`New-NetRoute -InterfaceAlias $adapter.InterfaceAlias -DestinationPrefix "0.0.0.0/0" -NextHop "%s" -Confirm:$false`,
				config.Gateway))
		}
		if len(config.DNSServers) > 0 {
			quoted := make([]string, len(config.DNSServers))
			for i, dns := range config.DNSServers {
				quoted[i] = `"` + dns + `"`
			}
			parts = append(parts, fmt.Sprintf(
				`Set-DnsClientServerAddress -InterfaceAlias $adapter.InterfaceAlias -ServerAddresses %s`,
				strings.Join(quoted, ",")))
		}
	}

	if config.VLANID > 0 {
		parts = append(parts, fmt.Sprintf(
			`Set-NetAdapterAdvancedProperty -Name $adapter.Name -DisplayName "VLAN ID" -DisplayValue %d`, config.VLANID))
	}
	if config.MTU > 0 {
		parts = append(parts, fmt.Sprintf(
			`Set-NetAdapterAdvancedProperty -Name $adapter.Name -DisplayName "Jumbo Packet" -DisplayValue %d`, config.MTU))
	}

	return h.ExecutePowerShell(ctx, strings.Join(parts, "\n"), time.Minute)
}

func (h *WindowsHandler) RestartNetworkService(ctx context.Context) (Result, error) {
	script := `Get-NetAdapter | Where-Object {$_.Status -eq 'Up'} | ForEach-Object {
  Disable-NetAdapter -Name $_.Name -Confirm:$false
  Start-Sleep -Seconds 2
  Enable-NetAdapter -Name $_.Name -Confirm:$false
}`
	return h.ExecutePowerShell(ctx, script, 2*time.Minute)
}

func (h *WindowsHandler) OSInfo(ctx context.Context) (OSInfo, error) {
	if h.osInfo != nil {
		return *h.osInfo, nil
	}

	script := `$os = Get-WmiObject -Class Win32_OperatingSystem
$cs = Get-WmiObject -Class Win32_ComputerSystem
@{
  Caption = $os.Caption
  Version = $os.Version
  BuildNumber = $os.BuildNumber
  Architecture = $os.OSArchitecture
  Hostname = $cs.Name
} | ConvertTo-Json`

	info := OSInfo{
		Type:         "windows",
		Distribution: "Windows",
		Version:      "unknown",
		Kernel:       "unknown",
		Architecture: "unknown",
		Hostname:     "unknown",
	}

	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return OSInfo{}, err
	}
	if result.Success {
		var data struct {
			Caption      string `json:"Caption"`
			Version      string `json:"Version"`
			BuildNumber  string `json:"BuildNumber"`
			Architecture string `json:"Architecture"`
			Hostname     string `json:"Hostname"`
		}
		if err := json.Unmarshal([]byte(result.Stdout), &data); err == nil {
			if data.Caption != "" {
				info.Distribution = data.Caption
			}
			if data.Version != "" {
				info.Version = data.Version
			}
			if data.BuildNumber != "" {
				info.Kernel = data.BuildNumber
			}
			if data.Architecture != "" {
				info.Architecture = data.Architecture
			}
			if data.Hostname != "" {
				info.Hostname = data.Hostname
			}
		}
	}

	h.osInfo = &info
	return info, nil
}

func (h *WindowsHandler) InstallPackage(ctx context.Context, name string) (Result, error) {
	result, err := h.Execute(ctx, "winget --version", 0, false)
	if err != nil {
		return Result{}, err
	}
	if result.Success {
		return h.Execute(ctx,
			fmt.Sprintf("winget install -e --id %s --accept-source-agreements --accept-package-agreements", name),
			10*time.Minute, false)
	}

	result, err = h.Execute(ctx, "choco --version", 0, false)
	if err != nil {
		return Result{}, err
	}
	if result.Success {
		return h.Execute(ctx, fmt.Sprintf("choco install %s -y", name), 10*time.Minute, false)
	}

	return Result{
		Stderr:   "no package manager available, install winget or Chocolatey",
		ExitCode: 1,
		Command:  "install " + name,
	}, nil
}

func (h *WindowsHandler) StartService(ctx context.Context, name string) (Result, error) {
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`Start-Service -Name '%s'`, name), 0)
}

func (h *WindowsHandler) StopService(ctx context.Context, name string) (Result, error) {
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`Stop-Service -Name '%s' -Force`, name), 0)
}

func (h *WindowsHandler) ServiceStatus(ctx context.Context, name string) (Result, error) {
	script := fmt.Sprintf(`$service = Get-Service -Name '%s' -ErrorAction SilentlyContinue
if ($service) {
  @{
    Name = $service.Name
    DisplayName = $service.DisplayName
    Status = $service.Status.ToString()
    StartType = $service.StartType.ToString()
  } | ConvertTo-Json
} else {
  Write-Error "Service '%s' not found"
}`, name, name)
	return h.ExecutePowerShell(ctx, script, 0)
}

func (h *WindowsHandler) CreateUser(ctx context.Context, username, password string, groups []string) (Result, error) {
	var parts []string
	if password != "" {
		parts = append(parts,
			fmt.Sprintf(`$password = ConvertTo-SecureString "%s" -AsPlainText -Force`, password),
			fmt.Sprintf(`New-LocalUser -Name "%s" -Password $password -PasswordNeverExpires`, username))
	} else {
		parts = append(parts, fmt.Sprintf(`New-LocalUser -Name "%s" -NoPassword`, username))
	}
	for _, group := range groups {
		parts = append(parts, fmt.Sprintf(
			`Add-LocalGroupMember -Group "%s" -Member "%s" -ErrorAction SilentlyContinue`, group, username))
	}
	return h.ExecutePowerShell(ctx, strings.Join(parts, "\n"), 0)
}

func (h *WindowsHandler) SetHostname(ctx context.Context, hostname string) (Result, error) {
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`Rename-Computer -NewName '%s' -Force`, hostname), 0)
}

func (h *WindowsHandler) Processes(ctx context.Context) ([]ProcessInfo, error) {
	script := `Get-Process | Select-Object Id, ProcessName, CPU, WorkingSet | ConvertTo-Json -Depth 2`
	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("listing processes: %s", strings.TrimSpace(result.Stderr))
	}

	type winProcess struct {
		ID          int     `json:"Id"`
		ProcessName string  `json:"ProcessName"`
		CPU         float64 `json:"CPU"`
		WorkingSet  int64   `json:"WorkingSet"`
	}

	procs, err := decodeJSONList[winProcess](result.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing process output: %w", err)
	}

	processes := make([]ProcessInfo, 0, len(procs))
	for _, proc := range procs {
		processes = append(processes, ProcessInfo{
			PID:     proc.ID,
			CPU:     proc.CPU,
			Memory:  float64(proc.WorkingSet),
			Command: proc.ProcessName,
		})
	}
	return processes, nil
}

// KillProcess force-stops the process. Windows has no signal numbers,
// so the signal argument is ignored.
func (h *WindowsHandler) KillProcess(ctx context.Context, pid, _ int) (Result, error) {
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`Stop-Process -Id %d -Force`, pid), 0)
}

func (h *WindowsHandler) DiskUsage(ctx context.Context) ([]DiskUsage, error) {
	script := `Get-PSDrive -PSProvider FileSystem | Where-Object {$_.Used -ne $null} | ForEach-Object {
  @{
    Name = $_.Name
    Root = $_.Root
    Used = $_.Used
    Free = $_.Free
    Total = $_.Used + $_.Free
    UsedPercent = [math]::Round(($_.Used / ($_.Used + $_.Free)) * 100, 2)
  }
} | ConvertTo-Json -Depth 2`

	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("reading disk usage: %s", strings.TrimSpace(result.Stderr))
	}

	type winDrive struct {
		Name        string  `json:"Name"`
		Root        string  `json:"Root"`
		Used        int64   `json:"Used"`
		Free        int64   `json:"Free"`
		Total       int64   `json:"Total"`
		UsedPercent float64 `json:"UsedPercent"`
	}

	drives, err := decodeJSONList[winDrive](result.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing drive output: %w", err)
	}

	disks := make([]DiskUsage, 0, len(drives))
	for _, drive := range drives {
		disks = append(disks, DiskUsage{
			Filesystem: drive.Name + ":",
			Size:       formatBytes(drive.Total),
			Used:       formatBytes(drive.Used),
			Available:  formatBytes(drive.Free),
			UsePercent: strconv.FormatFloat(drive.UsedPercent, 'f', -1, 64),
			MountPoint: drive.Root,
		})
	}
	return disks, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(n)/float64(div), "KMGTPE"[exp])
}

func (h *WindowsHandler) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	script := `$os = Get-WmiObject -Class Win32_OperatingSystem
$cs = Get-WmiObject -Class Win32_ComputerSystem
@{
  TotalPhysicalMemory = $cs.TotalPhysicalMemory
  FreePhysicalMemory = $os.FreePhysicalMemory * 1024
  TotalVirtualMemory = $os.TotalVirtualMemorySize * 1024
  FreeVirtualMemory = $os.FreeVirtualMemory * 1024
} | ConvertTo-Json`

	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return MemoryInfo{}, err
	}
	if !result.Success {
		return MemoryInfo{}, fmt.Errorf("reading memory info: %s", strings.TrimSpace(result.Stderr))
	}

	var data struct {
		TotalPhysicalMemory int64 `json:"TotalPhysicalMemory"`
		FreePhysicalMemory  int64 `json:"FreePhysicalMemory"`
		TotalVirtualMemory  int64 `json:"TotalVirtualMemory"`
		FreeVirtualMemory   int64 `json:"FreeVirtualMemory"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &data); err != nil {
		return MemoryInfo{}, fmt.Errorf("parsing memory output: %w", err)
	}

	return MemoryInfo{
		Total:     data.TotalPhysicalMemory,
		Used:      data.TotalPhysicalMemory - data.FreePhysicalMemory,
		Free:      data.FreePhysicalMemory,
		Available: data.FreePhysicalMemory,
		SwapTotal: data.TotalVirtualMemory,
		SwapUsed:  data.TotalVirtualMemory - data.FreeVirtualMemory,
		SwapFree:  data.FreeVirtualMemory,
	}, nil
}

func (h *WindowsHandler) CPUInfo(ctx context.Context) (CPUInfo, error) {
	script := `$cpu = Get-WmiObject -Class Win32_Processor
@{
  NumberOfLogicalProcessors = $cpu.NumberOfLogicalProcessors
  Name = $cpu.Name
  MaxClockSpeed = $cpu.MaxClockSpeed
  Architecture = switch($cpu.Architecture) {
    0 {'x86'}
    5 {'ARM'}
    9 {'x64'}
    default {'Unknown'}
  }
} | ConvertTo-Json`

	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return CPUInfo{}, err
	}
	if !result.Success {
		return CPUInfo{}, fmt.Errorf("reading cpu info: %s", strings.TrimSpace(result.Stderr))
	}

	var data struct {
		NumberOfLogicalProcessors int     `json:"NumberOfLogicalProcessors"`
		Name                      string  `json:"Name"`
		MaxClockSpeed             float64 `json:"MaxClockSpeed"`
		Architecture              string  `json:"Architecture"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &data); err != nil {
		return CPUInfo{}, fmt.Errorf("parsing cpu output: %w", err)
	}

	return CPUInfo{
		Count:        data.NumberOfLogicalProcessors,
		Model:        data.Name,
		SpeedMHz:     data.MaxClockSpeed,
		Architecture: data.Architecture,
	}, nil
}

func (h *WindowsHandler) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return h.conn.UploadFile(ctx, localPath, remotePath)
}

func (h *WindowsHandler) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return h.conn.DownloadFile(ctx, remotePath, localPath)
}

func (h *WindowsHandler) FileExists(ctx context.Context, path string) (bool, error) {
	result, err := h.ExecutePowerShell(ctx, fmt.Sprintf(`Test-Path -Path '%s'`, path), 0)
	if err != nil {
		return false, err
	}
	return result.Success && strings.EqualFold(strings.TrimSpace(result.Stdout), "true"), nil
}

func (h *WindowsHandler) CreateDirectory(ctx context.Context, path string, recursive bool) (Result, error) {
	force := ""
	if recursive {
		force = " -Force"
	}
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`New-Item -ItemType Directory -Path '%s'%s`, path, force), 0)
}

func (h *WindowsHandler) RemoveFile(ctx context.Context, path string) (Result, error) {
	return h.ExecutePowerShell(ctx, fmt.Sprintf(`Remove-Item -Path '%s' -Force`, path), 0)
}

func (h *WindowsHandler) ListDirectory(ctx context.Context, path string) ([]FileInfo, error) {
	script := fmt.Sprintf(`Get-ChildItem -Path '%s' | ForEach-Object {
  @{
    Name = $_.Name
    Length = if ($_.PSIsContainer) { 0 } else { $_.Length }
    LastWriteTime = $_.LastWriteTime.ToString('yyyy-MM-dd HH:mm:ss')
    IsDirectory = $_.PSIsContainer
    Attributes = $_.Attributes.ToString()
  }
} | ConvertTo-Json -Depth 2`, path)

	result, err := h.ExecutePowerShell(ctx, script, 0)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("listing %s: %s", path, strings.TrimSpace(result.Stderr))
	}

	type winFile struct {
		Name          string `json:"Name"`
		Length        int64  `json:"Length"`
		LastWriteTime string `json:"LastWriteTime"`
		IsDirectory   bool   `json:"IsDirectory"`
		Attributes    string `json:"Attributes"`
	}

	entries, err := decodeJSONList[winFile](result.Stdout)
	if err != nil {
		return nil, fmt.Errorf("parsing directory output: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, FileInfo{
			Name:        entry.Name,
			Size:        entry.Length,
			Permissions: entry.Attributes,
			Modified:    entry.LastWriteTime,
			IsDir:       entry.IsDirectory,
		})
	}
	return files, nil
}

func (h *WindowsHandler) Reboot(ctx context.Context, wait bool) (Result, error) {
	result, err := h.Execute(ctx, "shutdown /r /t 0", 10*time.Second, false)
	if err != nil {
		result = Result{Stdout: "reboot initiated", Success: true, Command: "shutdown /r /t 0"}
	}

	if wait {
		if err := connection.WaitForReboot(ctx, h.conn, h.RebootWait); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (h *WindowsHandler) Shutdown(ctx context.Context) (Result, error) {
	result, err := h.Execute(ctx, "shutdown /s /t 0", 10*time.Second, false)
	if err != nil {
		return Result{Stdout: "shutdown initiated", Success: true, Command: "shutdown /s /t 0"}, nil
	}
	return result, nil
}
