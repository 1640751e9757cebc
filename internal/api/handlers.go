package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/internal/model"
	"github.com/martinsuchenak/podd/internal/storage"
	"github.com/martinsuchenak/podd/internal/switchprobe"
	"github.com/martinsuchenak/podd/pkg/oshandler"
)

// Runner executes operations against targets. *worker.Runner satisfies it;
// tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, target *model.Target, command string, timeout time.Duration, elevate bool) (oshandler.Result, error)
	ConfigureNetwork(ctx context.Context, target *model.Target, config oshandler.NetworkConfig) (oshandler.Result, error)
	Interfaces(ctx context.Context, target *model.Target) ([]oshandler.NetworkInterface, error)
}

// VLANProber checks VLAN presence on an upstream switch.
type VLANProber interface {
	VerifyVLAN(ctx context.Context, vlanID int) (bool, error)
}

// Handler handles HTTP requests.
type Handler struct {
	storage storage.Storage
	runner  Runner

	// proberFor builds a switch prober per target. Overridable in tests.
	proberFor func(address, community string) VLANProber
}

// NewHandler creates a new API handler.
func NewHandler(s storage.Storage, runner Runner) *Handler {
	return &Handler{
		storage: s,
		runner:  runner,
		proberFor: func(address, community string) VLANProber {
			return switchprobe.New(address, community)
		},
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Target CRUD
	mux.HandleFunc("GET /api/targets", h.listTargets)
	mux.HandleFunc("POST /api/targets", h.createTarget)
	mux.HandleFunc("GET /api/targets/{id}", h.getTarget)
	mux.HandleFunc("PUT /api/targets/{id}", h.updateTarget)
	mux.HandleFunc("DELETE /api/targets/{id}", h.deleteTarget)

	// Search
	mux.HandleFunc("GET /api/search", h.searchTargets)

	// Operations
	mux.HandleFunc("POST /api/targets/{id}/run", h.runCommand)
	mux.HandleFunc("GET /api/targets/{id}/interfaces", h.listInterfaces)
	mux.HandleFunc("POST /api/targets/{id}/network", h.configureNetwork)
	mux.HandleFunc("POST /api/targets/{id}/verify-vlan", h.verifyVLAN)

	// Audit log
	mux.HandleFunc("GET /api/targets/{id}/operations", h.listTargetOperations)
	mux.HandleFunc("GET /api/operations", h.listOperations)
}

// listTargets handles GET /api/targets
func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	filter := &model.TargetFilter{
		Tags:      r.URL.Query()["tag"],
		Transport: r.URL.Query().Get("transport"),
	}

	targets, err := h.storage.ListTargets(filter)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, targets)
}

// getTarget handles GET /api/targets/{id}
func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, target)
}

// createTarget handles POST /api/targets
func (h *Handler) createTarget(w http.ResponseWriter, r *http.Request) {
	var target model.Target
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if target.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validTransport(target.Transport) {
		h.writeError(w, http.StatusBadRequest, "transport must be one of ssh, winrm, docker, kube")
		return
	}

	if target.ID == "" {
		target.ID = generateID()
	}

	now := time.Now()
	target.CreatedAt = now
	target.UpdatedAt = now

	if err := h.storage.CreateTarget(&target); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "target name already in use")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, target)
}

// updateTarget handles PUT /api/targets/{id}
func (h *Handler) updateTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var target model.Target
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validTransport(target.Transport) {
		h.writeError(w, http.StatusBadRequest, "transport must be one of ssh, winrm, docker, kube")
		return
	}

	// Ensure ID matches URL
	target.ID = id
	target.UpdatedAt = time.Now()

	if err := h.storage.UpdateTarget(&target); err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			h.writeError(w, http.StatusNotFound, "target not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, target)
}

// deleteTarget handles DELETE /api/targets/{id}
func (h *Handler) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.storage.DeleteTarget(id); err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			h.writeError(w, http.StatusNotFound, "target not found")
			return
		}
		h.internalError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// searchTargets handles GET /api/search?q=
func (h *Handler) searchTargets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "search query required")
		return
	}

	targets, err := h.storage.SearchTargets(query)
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, targets)
}

type runRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Elevate        bool   `json:"elevate,omitempty"`
}

// runCommand handles POST /api/targets/{id}/run
func (h *Handler) runCommand(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		h.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	timeout := oshandler.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	result, err := h.runner.Run(r.Context(), target, req.Command, timeout, req.Elevate)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "target unreachable: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// listInterfaces handles GET /api/targets/{id}/interfaces
func (h *Handler) listInterfaces(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}

	interfaces, err := h.runner.Interfaces(r.Context(), target)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "target unreachable: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, interfaces)
}

// configureNetwork handles POST /api/targets/{id}/network
func (h *Handler) configureNetwork(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}

	var config oshandler.NetworkConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if config.Interface == "" {
		h.writeError(w, http.StatusBadRequest, "interface is required")
		return
	}

	result, err := h.runner.ConfigureNetwork(r.Context(), target, config)
	if err != nil {
		if errors.Is(err, oshandler.ErrConfiguration) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusBadGateway, "target unreachable: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type verifyVLANRequest struct {
	VLANID int `json:"vlan_id"`
}

type verifyVLANResponse struct {
	VLANID  int    `json:"vlan_id"`
	Present bool   `json:"present"`
	Switch  string `json:"switch"`
}

// verifyVLAN handles POST /api/targets/{id}/verify-vlan. It asks the
// switch recorded for the target whether the VLAN exists on the wire.
func (h *Handler) verifyVLAN(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}
	if target.SwitchAddress == "" {
		h.writeError(w, http.StatusBadRequest, "target has no switch address configured")
		return
	}

	var req verifyVLANRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VLANID <= 0 {
		h.writeError(w, http.StatusBadRequest, "vlan_id must be positive")
		return
	}

	prober := h.proberFor(target.SwitchAddress, target.SwitchCommunity)
	present, err := prober.VerifyVLAN(r.Context(), req.VLANID)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "switch unreachable: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, verifyVLANResponse{
		VLANID:  req.VLANID,
		Present: present,
		Switch:  target.SwitchAddress,
	})
}

// listTargetOperations handles GET /api/targets/{id}/operations
func (h *Handler) listTargetOperations(w http.ResponseWriter, r *http.Request) {
	target, ok := h.lookupTarget(w, r)
	if !ok {
		return
	}

	ops, err := h.storage.ListOperations(&model.OperationFilter{
		TargetID: target.ID,
		Limit:    queryLimit(r),
	})
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ops)
}

// listOperations handles GET /api/operations
func (h *Handler) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.storage.ListOperations(&model.OperationFilter{Limit: queryLimit(r)})
	if err != nil {
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ops)
}

// lookupTarget resolves the {id} path value, writing the error response
// itself when the target cannot be found.
func (h *Handler) lookupTarget(w http.ResponseWriter, r *http.Request) (*model.Target, bool) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "target ID required")
		return nil, false
	}

	target, err := h.storage.GetTarget(id)
	if err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			h.writeError(w, http.StatusNotFound, "target not found")
			return nil, false
		}
		h.internalError(w, err)
		return nil, false
	}
	return target, true
}

func validTransport(transport string) bool {
	switch transport {
	case "ssh", "winrm", "docker", "kube":
		return true
	}
	return false
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// generateID generates a UUIDv7 for a target
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
