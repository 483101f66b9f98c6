// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// Correlate merges the declared and observed views by hardware address and
// classifies every interface. The output holds exactly one record per
// distinct MAC, declared order first, then the observed leftovers.
func Correlate(declared []types.DeclaredInterface, observed map[string][]types.SystemInterface, overrides *Overrides) []types.CorrelatedInterface {
	remaining := flattenObserved(observed)

	var correlated []types.CorrelatedInterface
	for _, decl := range declared {
		var candidates []types.SystemInterface
		var rest []types.SystemInterface
		for _, sys := range remaining {
			if sys.MAC == decl.MAC {
				candidates = append(candidates, sys)
			} else {
				rest = append(rest, sys)
			}
		}
		remaining = rest

		correlated = append(correlated, mergeCandidates(decl, candidates))
	}

	// Interfaces the system has but metadata no longer declares. An unused
	// virtual function is not an error condition.
	for _, sys := range remaining {
		c := correlatedFromSystem(sys)
		if sys.IsVirtFn {
			c.State = types.StateUnchanged
		} else {
			c.State = types.StateDelete
		}
		correlated = append(correlated, c)
	}

	// Operator exclusions override every computed state.
	if overrides != nil {
		for i := range correlated {
			if overrides.IsExcluded(correlated[i].Iface, correlated[i].VnicID, correlated[i].Addr) {
				correlated[i].State = types.StateExcluded
			}
		}
	}

	return correlated
}

// flattenObserved orders the observed set deterministically: default
// namespace first, named namespaces sorted.
func flattenObserved(observed map[string][]types.SystemInterface) []types.SystemInterface {
	namespaces := make([]string, 0, len(observed))
	for namespace := range observed {
		namespaces = append(namespaces, namespace)
	}
	sort.Strings(namespaces)

	var flat []types.SystemInterface
	for _, namespace := range namespaces {
		flat = append(flat, observed[namespace]...)
	}
	return flat
}

func mergeCandidates(decl types.DeclaredInterface, candidates []types.SystemInterface) types.CorrelatedInterface {
	c := correlatedFromDeclared(decl)

	switch {
	case len(candidates) == 0:
		c.State = types.StateAdd
		c.MissingSecondaryAddrs = append([]string(nil), decl.SecondaryAddrs...)
		return c

	case len(candidates) == 1:
		return mergeSingle(c, decl, candidates[0])

	default:
		// Bare-metal chain: the macvlan record carries device identity, the
		// vlan record the VLAN device name and the authoritative addresses.
		var macvlans, vlans []types.SystemInterface
		for _, sys := range candidates {
			switch sys.LinkType {
			case "macvlan", "macvtap":
				macvlans = append(macvlans, sys)
			case "vlan":
				vlans = append(vlans, sys)
			}
		}

		if len(macvlans) == 0 || len(vlans) == 0 {
			netLog().WithFields(logrus.Fields{
				"mac":        decl.MAC,
				"candidates": len(candidates),
			}).Warn("Ambiguous correlation, no macvlan/vlan pair; using first match")
			return mergeSingle(c, decl, candidates[0])
		}

		macvlan := macvlans[0]
		vlan := vlans[0]

		c.Iface = macvlan.Link
		c.Index = macvlan.Index
		c.OperState = macvlan.OperState
		c.Namespace = macvlan.Namespace
		c.IsVirtFn = macvlan.IsVirtFn
		c.Vlan = vlan.Device

		c.State = types.StateAdd
		if vlan.HasAddr() {
			c.State = types.StateUnchanged
			c.Addr = vlan.Addr
			c.SubnetBits = vlan.SubnetBits
		}
		c.SecondaryAddrs = append([]string(nil), vlan.SecondaryAddrs...)
		c.MissingSecondaryAddrs = missingAddrs(decl.SecondaryAddrs, vlan.SecondaryAddrs)
		return c
	}
}

func mergeSingle(c types.CorrelatedInterface, decl types.DeclaredInterface, sys types.SystemInterface) types.CorrelatedInterface {
	c.Iface = sys.Device
	c.Index = sys.Index
	c.OperState = sys.OperState
	c.Namespace = sys.Namespace
	c.IsVirtFn = sys.IsVirtFn
	if sys.VlanID != 0 {
		c.Vlan = sys.Device
	}

	c.State = types.StateAdd
	if sys.HasAddr() {
		c.State = types.StateUnchanged
		c.Addr = sys.Addr
		c.SubnetBits = sys.SubnetBits
	}
	c.SecondaryAddrs = append([]string(nil), sys.SecondaryAddrs...)
	c.MissingSecondaryAddrs = missingAddrs(decl.SecondaryAddrs, sys.SecondaryAddrs)
	return c
}

func correlatedFromDeclared(decl types.DeclaredInterface) types.CorrelatedInterface {
	return types.CorrelatedInterface{
		MAC:              decl.MAC,
		Addr:             decl.Addr,
		SubnetPrefix:     decl.SubnetPrefix,
		SubnetBits:       decl.SubnetBits,
		VirtRouter:       decl.VirtRouter,
		VlanTag:          decl.VlanTag,
		VnicID:           decl.VnicID,
		NicIndex:         decl.NicIndex,
		HasNicIndex:      decl.HasNicIndex,
		IsPrimary:        decl.IsPrimary,
		IPv6SubnetPrefix: decl.IPv6SubnetPrefix,
		IPv6SubnetBits:   decl.IPv6SubnetBits,
		IPv6VirtRouter:   decl.IPv6VirtRouter,
	}
}

func correlatedFromSystem(sys types.SystemInterface) types.CorrelatedInterface {
	c := types.CorrelatedInterface{
		MAC:            sys.MAC,
		Iface:          sys.Device,
		Index:          sys.Index,
		OperState:      sys.OperState,
		Namespace:      sys.Namespace,
		IsVirtFn:       sys.IsVirtFn,
		Addr:           sys.Addr,
		SubnetBits:     sys.SubnetBits,
		SecondaryAddrs: append([]string(nil), sys.SecondaryAddrs...),
	}
	if sys.VlanID != 0 {
		c.Vlan = sys.Device
		c.VlanTag = sys.VlanID
	}
	return c
}

func missingAddrs(declared, observed []string) []string {
	var missing []string
	for _, addr := range declared {
		found := false
		for _, present := range observed {
			if present == addr {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, addr)
		}
	}
	return missing
}
