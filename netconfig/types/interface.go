// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package types

import (
	"fmt"
	"net"
	"strings"
)

// ReconcileState classifies a correlated interface for the reconciler.
type ReconcileState string

const (
	// StateAdd means the interface is declared but not configured on the system.
	StateAdd ReconcileState = "ADD"

	// StateUnchanged means the system configuration matches the declared one.
	StateUnchanged ReconcileState = "UNCHANGED"

	// StateDelete means the system has an interface that is no longer declared.
	StateDelete ReconcileState = "DELETE"

	// StateExcluded means the operator removed the interface from automatic
	// management.
	StateExcluded ReconcileState = "EXCLUDED"
)

// NormalizeMAC returns the canonical upper-case colon-hex form of a hardware
// address. Correlation compares MACs in this form only.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// DeclaredInterface is the immutable view of one VNIC attachment as reported
// by the instance metadata. It is rebuilt on every reconciliation pass.
type DeclaredInterface struct {
	MAC            string
	Addr           string
	SubnetPrefix   string
	SubnetBits     int
	VirtRouter     string
	VlanTag        int
	VnicID         string
	NicIndex       int
	HasNicIndex    bool
	IsPrimary      bool
	SecondaryAddrs []string

	IPv6SubnetPrefix string
	IPv6SubnetBits   int
	IPv6VirtRouter   string
}

// SystemInterface is one kernel link object observed in one network
// namespace. An empty Namespace means the default namespace.
type SystemInterface struct {
	MAC       string
	Device    string
	Index     int
	Link      string
	LinkType  string
	OperState string
	Namespace string
	VlanID    int
	IsVirtFn  bool

	// Addr is the first non-link-local address on the link, if any.
	Addr           string
	SubnetBits     int
	SecondaryAddrs []string
}

// HasAddr reports whether a non-link-local address is assigned to the link.
func (s SystemInterface) HasAddr() bool {
	return s.Addr != ""
}

// CorrelatedInterface merges zero-or-one DeclaredInterface with the kernel
// objects sharing its MAC. Exactly one CorrelatedInterface exists per
// distinct MAC seen in either view.
type CorrelatedInterface struct {
	State ReconcileState

	MAC         string
	Iface       string
	Index       int
	OperState   string
	Namespace   string
	VlanTag     int
	Vlan        string // VLAN device name on bare-metal chains
	VnicID      string
	NicIndex    int
	HasNicIndex bool
	IsPrimary   bool
	IsVirtFn    bool

	Addr         string
	SubnetPrefix string
	SubnetBits   int
	VirtRouter   string

	IPv6SubnetPrefix string
	IPv6SubnetBits   int
	IPv6VirtRouter   string

	SecondaryAddrs        []string
	MissingSecondaryAddrs []string
}

// HasNamespace reports whether the interface lives in a named namespace.
func (c CorrelatedInterface) HasNamespace() bool {
	return c.Namespace != ""
}

// HasVlan reports whether a VLAN device realizes this interface.
func (c CorrelatedInterface) HasVlan() bool {
	return c.Vlan != ""
}

// AddrDevice returns the device carrying the interface's addresses, the VLAN
// device when the bare-metal chain is in place.
func (c CorrelatedInterface) AddrDevice() string {
	if c.HasVlan() {
		return c.Vlan
	}
	return c.Iface
}

// CIDR returns the primary address in CIDR notation.
func (c CorrelatedInterface) CIDR() string {
	return fmt.Sprintf("%s/%d", c.Addr, c.SubnetBits)
}

// HostCIDR returns a single-host CIDR for addr, /32 or /128 depending on the
// address family.
func HostCIDR(addr string) string {
	ip := net.ParseIP(addr)
	if ip != nil && ip.To4() == nil {
		return addr + "/128"
	}
	return addr + "/32"
}
