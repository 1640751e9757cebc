// Package switchprobe reads VLAN state from upstream switches over SNMP.
// After a VLAN is configured on a target, the probe checks the bridge
// MIB of the switch in front of it to confirm the VLAN actually exists
// on the wire.
package switchprobe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// dot1qVlanStaticName from the Q-BRIDGE-MIB. The table is indexed by
// VLAN ID; the value is the administratively assigned name.
const vlanStaticNameOID = ".1.3.6.1.2.1.17.7.1.4.3.1.1"

const defaultTimeout = 5 * time.Second

// Probe queries one switch. Community defaults to "public" and Port to
// 161 when left zero-valued.
type Probe struct {
	Address   string
	Community string
	Port      uint16
	Timeout   time.Duration

	// walk overrides the SNMP walk for tests.
	walk func(ctx context.Context, oid string) ([]gosnmp.SnmpPDU, error)
}

// New creates a probe for the given switch address.
func New(address, community string) *Probe {
	return &Probe{Address: address, Community: community}
}

func (p *Probe) walkTable(ctx context.Context, oid string) ([]gosnmp.SnmpPDU, error) {
	if p.walk != nil {
		return p.walk(ctx, oid)
	}

	community := p.Community
	if community == "" {
		community = "public"
	}
	port := p.Port
	if port == 0 {
		port = 161
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	client := &gosnmp.GoSNMP{
		Target:    p.Address,
		Port:      port,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", p.Address, err)
	}
	defer client.Conn.Close()

	pdus, err := client.WalkAll(oid)
	if err != nil {
		return nil, fmt.Errorf("snmp walk %s: %w", p.Address, err)
	}
	return pdus, nil
}

// VLANs returns the static VLAN table keyed by VLAN ID.
func (p *Probe) VLANs(ctx context.Context) (map[int]string, error) {
	pdus, err := p.walkTable(ctx, vlanStaticNameOID)
	if err != nil {
		return nil, err
	}

	vlans := make(map[int]string, len(pdus))
	for _, pdu := range pdus {
		id, ok := vlanIndex(pdu.Name)
		if !ok {
			continue
		}
		vlans[id] = pduString(pdu)
	}
	return vlans, nil
}

// VerifyVLAN reports whether the switch carries the given VLAN. Walk
// failures surface as errors rather than a bare false so callers can
// tell "absent" apart from "switch unreachable".
func (p *Probe) VerifyVLAN(ctx context.Context, vlanID int) (bool, error) {
	if vlanID <= 0 {
		return false, fmt.Errorf("invalid vlan id %d", vlanID)
	}

	vlans, err := p.VLANs(ctx)
	if err != nil {
		return false, err
	}
	_, found := vlans[vlanID]
	return found, nil
}

// vlanIndex extracts the VLAN ID suffix from a table OID.
func vlanIndex(name string) (int, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(name[idx+1:])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
