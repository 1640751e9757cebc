package oshandler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/martinsuchenak/podd/internal/log"
	"github.com/martinsuchenak/podd/pkg/connection"
)

// HandlerKind identifies one backend implementation. The set of kinds
// is closed; new behavior plugs in through registry constructors, not
// new kinds.
type HandlerKind string

const (
	KindLinux      HandlerKind = "linux"
	KindWindows    HandlerKind = "windows"
	KindContainer  HandlerKind = "container"
	KindKubernetes HandlerKind = "kubernetes"
)

// PlatformDescriptor carries optional hints for handler resolution. It
// is consumed during Create and never retained.
type PlatformDescriptor struct {
	// Type names an OS type directly ("linux", "windows_server", ...).
	// An unknown explicit type is a configuration error.
	Type string
	// GuestID is a virtualization-vendor guest identifier such as
	// "rhel8_64Guest".
	GuestID string
	// GuestFamily is a vendor family string such as "windowsGuest".
	GuestFamily string
}

// Constructor builds a handler over a connection.
type Constructor func(ctx context.Context, conn Connection) (Handler, error)

// Registry resolves platform descriptors to handler constructors. Each
// caller owns its registry; registrations are last-write-wins.
type Registry struct {
	mu           sync.RWMutex
	constructors map[HandlerKind]Constructor
	osTypes      map[string]HandlerKind
	guestIDs     map[string]string
}

// NewRegistry creates a registry seeded with the built-in handlers,
// OS type aliases, and guest-id mappings.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[HandlerKind]Constructor),
		osTypes:      make(map[string]HandlerKind),
		guestIDs:     make(map[string]string),
	}

	r.constructors[KindLinux] = func(_ context.Context, conn Connection) (Handler, error) {
		return NewLinuxHandler(conn), nil
	}
	r.constructors[KindWindows] = func(_ context.Context, conn Connection) (Handler, error) {
		return NewWindowsHandler(conn), nil
	}
	r.constructors[KindContainer] = func(_ context.Context, conn Connection) (Handler, error) {
		return NewContainerHandler(conn), nil
	}
	r.constructors[KindKubernetes] = func(ctx context.Context, conn Connection) (Handler, error) {
		kc, ok := conn.(*connection.KubeConnection)
		if !ok {
			return nil, fmt.Errorf("%w: kubernetes handler requires a cluster connection", ErrConfiguration)
		}
		return NewKubernetesHandler(ctx, kc), nil
	}

	for _, name := range []string{"linux", "debian", "ubuntu", "rhel", "centos", "rocky", "fedora", "opensuse"} {
		r.osTypes[name] = KindLinux
	}
	for _, name := range []string{"windows", "windows_server", "windows_10", "windows_11"} {
		r.osTypes[name] = KindWindows
	}
	r.osTypes["container"] = KindContainer
	r.osTypes["kubernetes"] = KindKubernetes

	for guestID, osType := range map[string]string{
		"rhel8_64Guest":          "rhel",
		"rhel7_64Guest":          "rhel",
		"rhel6_64Guest":          "rhel",
		"centos8_64Guest":        "centos",
		"centos7_64Guest":        "centos",
		"centos6_64Guest":        "centos",
		"ubuntu64Guest":          "ubuntu",
		"debian10_64Guest":       "debian",
		"debian9_64Guest":        "debian",
		"debian8_64Guest":        "debian",
		"sles15_64Guest":         "opensuse",
		"sles12_64Guest":         "opensuse",
		"other3xLinux64Guest":    "linux",
		"otherLinux64Guest":      "linux",
		"windows9_64Guest":       "windows",
		"windows9Server64Guest":  "windows_server",
		"windows2019srv_64Guest": "windows_server",
		"windows2016srv_64Guest": "windows_server",
		"windows2012srv_64Guest": "windows_server",
		"windows8Server64Guest":  "windows_server",
		"windows7Server64Guest":  "windows_server",
		"windows7_64Guest":       "windows",
		"windows8_64Guest":       "windows",
		"windows10_64Guest":      "windows_10",
		"windows11_64Guest":      "windows_11",
	} {
		r.guestIDs[guestID] = osType
	}

	return r
}

// RegisterKind replaces the constructor for a handler kind.
func (r *Registry) RegisterKind(kind HandlerKind, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = ctor
}

// RegisterOSType maps an OS type name to a handler kind.
func (r *Registry) RegisterOSType(name string, kind HandlerKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.osTypes[strings.ToLower(name)] = kind
}

// RegisterGuestID maps a vendor guest identifier to an OS type name.
func (r *Registry) RegisterGuestID(guestID, osType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guestIDs[guestID] = strings.ToLower(osType)
}

// SupportedOSTypes lists the registered OS type names.
func (r *Registry) SupportedOSTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.osTypes))
	for name := range r.osTypes {
		names = append(names, name)
	}
	return names
}

// Create resolves the descriptor to a handler kind and builds the
// handler. An unresolvable explicit type fails before any remote call.
func (r *Registry) Create(ctx context.Context, conn Connection, descriptor PlatformDescriptor) (Handler, error) {
	kind, err := r.Resolve(ctx, conn, descriptor)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	ctor, ok := r.constructors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no constructor for handler kind %q", ErrConfiguration, kind)
	}

	log.Debug("Creating handler", "kind", string(kind))
	return ctor(ctx, conn)
}

// Resolve determines the handler kind for a descriptor. Resolution
// order: explicit type, then guest-id table, then connection transport
// (with a live distro probe for shell transports), then guest family,
// then Linux.
func (r *Registry) Resolve(ctx context.Context, conn Connection, descriptor PlatformDescriptor) (HandlerKind, error) {
	if descriptor.Type != "" {
		kind, ok := r.lookupOSType(descriptor.Type)
		if !ok {
			return "", fmt.Errorf("%w: unsupported OS type %q", ErrConfiguration, descriptor.Type)
		}
		return kind, nil
	}

	if descriptor.GuestID != "" {
		r.mu.RLock()
		osType, ok := r.guestIDs[descriptor.GuestID]
		r.mu.RUnlock()
		if ok {
			if kind, found := r.lookupOSType(osType); found {
				return kind, nil
			}
		}
	}

	if conn != nil {
		switch conn.Kind() {
		case connection.KindWinRM:
			return KindWindows, nil
		case connection.KindDocker:
			return KindContainer, nil
		case connection.KindKube:
			return KindKubernetes, nil
		case connection.KindSSH:
			osType := detectLinuxOSType(ctx, conn)
			if kind, ok := r.lookupOSType(osType); ok {
				return kind, nil
			}
			return KindLinux, nil
		}
	}

	if descriptor.GuestFamily != "" {
		family := strings.ToLower(descriptor.GuestFamily)
		if strings.Contains(family, "windows") {
			return KindWindows, nil
		}
		if strings.Contains(family, "linux") {
			return KindLinux, nil
		}
	}

	return KindLinux, nil
}

func (r *Registry) lookupOSType(name string) (HandlerKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.osTypes[strings.ToLower(name)]
	return kind, ok
}

// distroMarkers maps os-release content fragments to OS type names,
// checked in order.
var distroMarkers = []struct {
	marker string
	osType string
}{
	{"ubuntu", "ubuntu"},
	{"debian", "debian"},
	{"rhel", "rhel"},
	{"red hat", "rhel"},
	{"centos", "centos"},
	{"rocky", "rocky"},
	{"fedora", "fedora"},
	{"opensuse", "opensuse"},
	{"suse", "opensuse"},
}

// detectLinuxOSType probes a shell transport for the distribution.
// Probe failure falls through to generic Linux.
func detectLinuxOSType(ctx context.Context, conn Connection) string {
	stdout, _, exitCode, err := conn.Execute(ctx, "cat /etc/os-release", DefaultTimeout)
	if err == nil && exitCode == 0 {
		release := strings.ToLower(stdout)
		for _, dm := range distroMarkers {
			if strings.Contains(release, dm.marker) {
				return dm.osType
			}
		}
	}

	stdout, _, exitCode, err = conn.Execute(ctx, "uname -a", DefaultTimeout)
	if err == nil && exitCode == 0 {
		uname := strings.ToLower(stdout)
		for _, dm := range distroMarkers {
			if strings.Contains(uname, dm.marker) {
				return dm.osType
			}
		}
	}

	return "linux"
}
