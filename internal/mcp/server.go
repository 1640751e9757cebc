package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paularlott/mcp"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/internal/switchprobe"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

// Runner executes operations against targets. *worker.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, target *model.Target, command string, timeout time.Duration, elevate bool) (oshandler.Result, error)
	ConfigureNetwork(ctx context.Context, target *model.Target, config oshandler.NetworkConfig) (oshandler.Result, error)
	Interfaces(ctx context.Context, target *model.Target) ([]oshandler.NetworkInterface, error)
}

// Server wraps the MCP server with target storage and execution
type Server struct {
	mcpServer   *mcp.Server
	storage     storage.Storage
	runner      Runner
	bearerToken string

	// proberFor builds a switch prober per target. Overridable in tests.
	proberFor func(address, community string) *switchprobe.Probe
}

// NewServer creates a new MCP server for target operations
func NewServer(storage storage.Storage, runner Runner, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("podd", "1.0.0"),
		storage:     storage,
		runner:      runner,
		bearerToken: bearerToken,
		proberFor:   switchprobe.New,
	}
	s.registerTools()
	return s
}

// registerTools registers all target management and operation tools
func (s *Server) registerTools() {
	// Target tools

	// target_save - Save a target (create or update)
	s.mcpServer.RegisterTool(
		mcp.NewTool("target_save", "Create a new target or update an existing one. If id is provided and exists, it updates; otherwise creates new.",
			mcp.String("id", "Target ID (if updating existing target)"),
			mcp.String("name", "Target name", mcp.Required()),
			mcp.String("transport", "Transport protocol (ssh, winrm, docker, kube)", mcp.Required()),
			mcp.String("address", "Host address, container ID, or kubeconfig path"),
			mcp.String("port", "Port number"),
			mcp.String("username", "Username for SSH/WinRM access"),
			mcp.String("key_path", "Path to SSH private key"),
			mcp.String("os_type", "OS type hint (linux, windows, ubuntu, rhel, ...)"),
			mcp.String("namespace", "Kubernetes namespace"),
			mcp.String("pod", "Kubernetes pod name"),
			mcp.String("container", "Kubernetes container name"),
			mcp.String("switch_address", "Upstream switch address for VLAN verification"),
			mcp.String("switch_community", "SNMP community for the upstream switch"),
			mcp.StringArray("tags", "Tags for categorization"),
		),
		s.handleTargetSave,
	)

	// target_get - Get a target by ID or name
	s.mcpServer.RegisterTool(
		mcp.NewTool("target_get", "Get a target by ID or name",
			mcp.String("id", "Target ID or name", mcp.Required()),
		),
		s.handleTargetGet,
	)

	// target_list - List/search targets with optional filtering
	s.mcpServer.RegisterTool(
		mcp.NewTool("target_list", "List all targets, optionally filtered by search query or tags",
			mcp.String("query", "Search query (searches name, address, transport, tags)"),
			mcp.StringArray("tags", "Filter by tags (returns targets matching any tag)"),
		),
		s.handleTargetList,
	)

	// target_delete - Delete a target
	s.mcpServer.RegisterTool(
		mcp.NewTool("target_delete", "Delete a target from the inventory",
			mcp.String("id", "Target ID or name", mcp.Required()),
		),
		s.handleTargetDelete,
	)

	// Operation tools

	// run_command - Execute a command on a target
	s.mcpServer.RegisterTool(
		mcp.NewTool("run_command", "Execute a shell command on a target and return stdout, stderr, and exit code",
			mcp.String("target", "Target ID or name", mcp.Required()),
			mcp.String("command", "Command to execute", mcp.Required()),
			mcp.String("timeout_seconds", "Command timeout in seconds (default 30)"),
			mcp.String("elevate", "Run with elevated privileges (true or false)"),
		),
		s.handleRunCommand,
	)

	// list_interfaces - Enumerate network interfaces on a target
	s.mcpServer.RegisterTool(
		mcp.NewTool("list_interfaces", "List the network interfaces of a target with addresses, VLAN IDs, and state",
			mcp.String("target", "Target ID or name", mcp.Required()),
		),
		s.handleListInterfaces,
	)

	// configure_network - Apply network configuration on a target
	s.mcpServer.RegisterTool(
		mcp.NewTool("configure_network", "Configure a network interface on a target, including VLAN sub-interfaces. Use dhcp=true for dynamic addressing.",
			mcp.String("target", "Target ID or name", mcp.Required()),
			mcp.String("interface", "Interface name (e.g. eth0, Ethernet0)", mcp.Required()),
			mcp.String("ip_address", "Static IP address"),
			mcp.String("netmask", "Netmask in dotted form (e.g. 255.255.255.0)"),
			mcp.String("gateway", "Default gateway"),
			mcp.StringArray("dns_servers", "DNS server addresses"),
			mcp.String("vlan_id", "VLAN ID (1-4094)"),
			mcp.String("mtu", "MTU in bytes"),
			mcp.String("dhcp", "Use DHCP (true or false)"),
		),
		s.handleConfigureNetwork,
	)

	// verify_vlan - Check a VLAN on the target's upstream switch
	s.mcpServer.RegisterTool(
		mcp.NewTool("verify_vlan", "Check whether a VLAN exists on the upstream switch recorded for a target",
			mcp.String("target", "Target ID or name", mcp.Required()),
			mcp.String("vlan_id", "VLAN ID to verify", mcp.Required()),
		),
		s.handleVerifyVLAN,
	)

	// operation_log - Read the operation audit log
	s.mcpServer.RegisterTool(
		mcp.NewTool("operation_log", "Read recent operations from the audit log, optionally for one target",
			mcp.String("target", "Target ID or name (omit for all targets)"),
			mcp.String("limit", "Maximum number of entries (default 20)"),
		),
		s.handleOperationLog,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	// Check bearer token if configured
	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// Target tool handlers

func (s *Server) handleTargetSave(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name, err := req.String("name")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("name is required: " + err.Error())
	}

	transport, err := req.String("transport")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("transport is required: " + err.Error())
	}
	switch transport {
	case "ssh", "winrm", "docker", "kube":
	default:
		return nil, mcp.NewToolErrorInvalidParams("transport must be one of ssh, winrm, docker, kube")
	}

	log.Debug("MCP target save request", "name", name, "transport", transport)

	// Check if this is an update (id provided) or create
	id, _ := req.String("id")
	var target *model.Target
	isUpdate := false

	if id != "" {
		existing, err := s.storage.GetTarget(id)
		if err == nil {
			target = existing
			isUpdate = true
			log.Debug("Found existing target for update", "id", id, "name", existing.Name)
		}
	}

	if !isUpdate {
		target = &model.Target{ID: id}
		if target.ID == "" {
			target.ID = generateID()
		}
		target.CreatedAt = time.Now()
	}

	target.Name = name
	target.Transport = transport
	applyOptionalString(req, "address", &target.Address)
	applyOptionalString(req, "username", &target.Username)
	applyOptionalString(req, "key_path", &target.KeyPath)
	applyOptionalString(req, "os_type", &target.OSType)
	applyOptionalString(req, "namespace", &target.Namespace)
	applyOptionalString(req, "pod", &target.Pod)
	applyOptionalString(req, "container", &target.Container)
	applyOptionalString(req, "switch_address", &target.SwitchAddress)
	applyOptionalString(req, "switch_community", &target.SwitchCommunity)

	if raw := req.StringOr("port", ""); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return nil, mcp.NewToolErrorInvalidParams("port must be a number between 1 and 65535")
		}
		target.Port = port
	}
	if tags, _ := req.StringSlice("tags"); tags != nil {
		target.Tags = tags
	}
	target.UpdatedAt = time.Now()

	if isUpdate {
		if err := s.storage.UpdateTarget(target); err != nil {
			log.Error("MCP target update failed", "error", err, "id", target.ID, "name", target.Name)
			return nil, mcp.NewToolErrorInternal("failed to update target: " + err.Error())
		}
		log.Info("MCP target updated", "id", target.ID, "name", target.Name)
		return mcp.NewToolResponseText(fmt.Sprintf("Target updated: %s (ID: %s)", target.Name, target.ID)), nil
	}

	if err := s.storage.CreateTarget(target); err != nil {
		log.Error("MCP target creation failed", "error", err, "name", target.Name)
		return nil, mcp.NewToolErrorInternal("failed to create target: " + err.Error())
	}
	log.Info("MCP target created", "id", target.ID, "name", target.Name)
	return mcp.NewToolResponseText(fmt.Sprintf("Target created: %s (ID: %s)", target.Name, target.ID)), nil
}

func (s *Server) handleTargetGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	target, err := s.storage.GetTarget(id)
	if err != nil {
		log.Error("MCP target get failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("target not found: " + err.Error())
	}

	return mcp.NewToolResponseText(formatTargetSummary(target)), nil
}

func (s *Server) handleTargetList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	var targets []model.Target
	var err error

	query, _ := req.String("query")
	tags, _ := req.StringSlice("tags")

	log.Debug("MCP target list request", "query", query, "tags", tags)

	// Prioritize search query over tag filter
	if query != "" {
		targets, err = s.storage.SearchTargets(query)
		if err != nil {
			return nil, mcp.NewToolErrorInternal("failed to search targets: " + err.Error())
		}
	} else {
		targets, err = s.storage.ListTargets(&model.TargetFilter{Tags: tags})
		if err != nil {
			return nil, mcp.NewToolErrorInternal("failed to list targets: " + err.Error())
		}
	}

	if len(targets) == 0 {
		if query != "" {
			return mcp.NewToolResponseText(fmt.Sprintf("No targets found matching: %s", query)), nil
		}
		return mcp.NewToolResponseText("No targets found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d targets:\n\n", len(targets)))
	for _, target := range targets {
		result.WriteString(formatTargetSummary(&target))
		result.WriteString("\n")
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleTargetDelete(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	if err := s.storage.DeleteTarget(id); err != nil {
		log.Error("MCP target deletion failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("failed to delete target: " + err.Error())
	}

	log.Info("MCP target deleted", "id", id)
	return mcp.NewToolResponseText("Target deleted successfully"), nil
}

// Operation tool handlers

func (s *Server) handleRunCommand(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	target, errResp := s.resolveTarget(req)
	if errResp != nil {
		return nil, errResp
	}

	command, err := req.String("command")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("command is required: " + err.Error())
	}

	timeout := oshandler.DefaultTimeout
	if raw := req.StringOr("timeout_seconds", ""); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return nil, mcp.NewToolErrorInvalidParams("timeout_seconds must be a positive number")
		}
		timeout = time.Duration(seconds) * time.Second
	}
	elevate := req.StringOr("elevate", "") == "true"

	log.Debug("MCP run command", "target", target.Name, "command", command, "elevate", elevate)

	result, err := s.runner.Run(ctx, target, command, timeout, elevate)
	if err != nil {
		log.Error("MCP run command failed", "error", err, "target", target.Name)
		return nil, mcp.NewToolErrorInternal("failed to run command: " + err.Error())
	}

	return mcp.NewToolResponseText(formatResult(result)), nil
}

func (s *Server) handleListInterfaces(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	target, errResp := s.resolveTarget(req)
	if errResp != nil {
		return nil, errResp
	}

	interfaces, err := s.runner.Interfaces(ctx, target)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list interfaces: " + err.Error())
	}

	if len(interfaces) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No interfaces found on %s", target.Name)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Interfaces on %s:\n\n", target.Name))
	for _, iface := range interfaces {
		result.WriteString(fmt.Sprintf("- %s (%s)", iface.Name, iface.State))
		if len(iface.IPAddresses) > 0 {
			result.WriteString(" " + strings.Join(iface.IPAddresses, ", "))
		}
		if iface.VLANID > 0 {
			result.WriteString(fmt.Sprintf(" VLAN %d", iface.VLANID))
		}
		if iface.MACAddress != "" {
			result.WriteString(" " + iface.MACAddress)
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleConfigureNetwork(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	target, errResp := s.resolveTarget(req)
	if errResp != nil {
		return nil, errResp
	}

	iface, err := req.String("interface")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("interface is required: " + err.Error())
	}

	config := oshandler.NetworkConfig{
		Interface: iface,
		IPAddress: req.StringOr("ip_address", ""),
		Netmask:   req.StringOr("netmask", ""),
		Gateway:   req.StringOr("gateway", ""),
		DHCP:      req.StringOr("dhcp", "") == "true",
	}
	config.DNSServers, _ = req.StringSlice("dns_servers")

	if raw := req.StringOr("vlan_id", ""); raw != "" {
		vlanID, err := strconv.Atoi(raw)
		if err != nil || vlanID < 1 || vlanID > 4094 {
			return nil, mcp.NewToolErrorInvalidParams("vlan_id must be a number between 1 and 4094")
		}
		config.VLANID = vlanID
	}
	if raw := req.StringOr("mtu", ""); raw != "" {
		mtu, err := strconv.Atoi(raw)
		if err != nil || mtu <= 0 {
			return nil, mcp.NewToolErrorInvalidParams("mtu must be a positive number")
		}
		config.MTU = mtu
	}

	log.Debug("MCP configure network", "target", target.Name, "interface", config.Interface, "vlan_id", config.VLANID)

	result, err := s.runner.ConfigureNetwork(ctx, target, config)
	if err != nil {
		log.Error("MCP configure network failed", "error", err, "target", target.Name)
		return nil, mcp.NewToolErrorInternal("failed to configure network: " + err.Error())
	}

	return mcp.NewToolResponseText(formatResult(result)), nil
}

func (s *Server) handleVerifyVLAN(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	target, errResp := s.resolveTarget(req)
	if errResp != nil {
		return nil, errResp
	}
	if target.SwitchAddress == "" {
		return nil, mcp.NewToolErrorInvalidParams("target has no switch address configured")
	}

	raw, err := req.String("vlan_id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("vlan_id is required: " + err.Error())
	}
	vlanID, err := strconv.Atoi(raw)
	if err != nil || vlanID < 1 || vlanID > 4094 {
		return nil, mcp.NewToolErrorInvalidParams("vlan_id must be a number between 1 and 4094")
	}

	prober := s.proberFor(target.SwitchAddress, target.SwitchCommunity)
	present, err := prober.VerifyVLAN(ctx, vlanID)
	if err != nil {
		log.Error("MCP verify vlan failed", "error", err, "switch", target.SwitchAddress)
		return nil, mcp.NewToolErrorInternal("switch unreachable: " + err.Error())
	}

	if present {
		return mcp.NewToolResponseText(fmt.Sprintf("VLAN %d is present on switch %s", vlanID, target.SwitchAddress)), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf("VLAN %d is NOT present on switch %s", vlanID, target.SwitchAddress)), nil
}

func (s *Server) handleOperationLog(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	filter := &model.OperationFilter{Limit: 20}

	if id := req.StringOr("target", ""); id != "" {
		target, err := s.storage.GetTarget(id)
		if err != nil {
			return nil, mcp.NewToolErrorInternal("target not found: " + err.Error())
		}
		filter.TargetID = target.ID
	}
	if raw := req.StringOr("limit", ""); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, mcp.NewToolErrorInvalidParams("limit must be a positive number")
		}
		filter.Limit = limit
	}

	ops, err := s.storage.ListOperations(filter)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to read operation log: " + err.Error())
	}

	if len(ops) == 0 {
		return mcp.NewToolResponseText("No operations recorded"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Last %d operations:\n\n", len(ops)))
	for _, op := range ops {
		status := "ok"
		if !op.Success {
			status = fmt.Sprintf("failed (exit %d)", op.ExitCode)
		}
		result.WriteString(fmt.Sprintf("%s  target=%s  %s  %s\n",
			op.StartedAt.Format(time.RFC3339), op.TargetID, status, op.Command))
	}

	return mcp.NewToolResponseText(result.String()), nil
}

// Utility functions

// resolveTarget reads the "target" parameter and looks it up by ID or name.
func (s *Server) resolveTarget(req *mcp.ToolRequest) (*model.Target, error) {
	id, err := req.String("target")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("target is required: " + err.Error())
	}

	target, err := s.storage.GetTarget(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("target not found: " + id)
	}
	return target, nil
}

func applyOptionalString(req *mcp.ToolRequest, key string, dst *string) {
	if value := req.StringOr(key, ""); value != "" {
		*dst = value
	}
}

func formatTargetSummary(target *model.Target) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Name: %s\n", target.Name))
	result.WriteString(fmt.Sprintf("ID: %s\n", target.ID))
	result.WriteString(fmt.Sprintf("Transport: %s\n", target.Transport))
	if target.Address != "" {
		address := target.Address
		if target.Port > 0 {
			address = fmt.Sprintf("%s:%d", address, target.Port)
		}
		result.WriteString(fmt.Sprintf("Address: %s\n", address))
	}
	if target.Username != "" {
		result.WriteString(fmt.Sprintf("Username: %s\n", target.Username))
	}
	if target.OSType != "" {
		result.WriteString(fmt.Sprintf("OS Type: %s\n", target.OSType))
	}
	if target.Pod != "" {
		location := target.Pod
		if target.Namespace != "" {
			location = target.Namespace + "/" + target.Pod
		}
		if target.Container != "" {
			location += " (" + target.Container + ")"
		}
		result.WriteString(fmt.Sprintf("Pod: %s\n", location))
	}
	if target.SwitchAddress != "" {
		result.WriteString(fmt.Sprintf("Switch: %s\n", target.SwitchAddress))
	}
	if len(target.Tags) > 0 {
		result.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(target.Tags, ", ")))
	}
	return result.String()
}

func formatResult(result oshandler.Result) string {
	var out strings.Builder
	if result.Success {
		out.WriteString(fmt.Sprintf("Command succeeded (exit %d)\n", result.ExitCode))
	} else {
		out.WriteString(fmt.Sprintf("Command failed (exit %d)\n", result.ExitCode))
	}
	if result.Stdout != "" {
		out.WriteString("\nstdout:\n" + result.Stdout + "\n")
	}
	if result.Stderr != "" {
		out.WriteString("\nstderr:\n" + result.Stderr + "\n")
	}
	return out.String()
}

func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// GetHTTPHandler returns the HTTP handler for the MCP server
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", "1.0.0")
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
