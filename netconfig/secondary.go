// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"github.com/sirupsen/logrus"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// secondaryAddrManager adds and removes secondary addresses on configured
// interfaces, keeping the address, its source rule and the Override Store
// assignment list in step. Both directions are idempotent.
type secondaryAddrManager struct {
	builder *interfaceBuilder
	router  *policyRouter
	store   *OverrideStore
}

// add assigns addr to the interface (or its VLAN device) and routes it
// through the interface's table. Namespaced interfaces carry no table, the
// namespace default route covers every address.
func (m *secondaryAddrManager) add(intf types.CorrelatedInterface, addr string) error {
	for _, present := range intf.SecondaryAddrs {
		if present == addr {
			netLog().WithFields(logrus.Fields{
				"address": addr,
				"device":  intf.AddrDevice(),
			}).Debug("Secondary address already plumbed")
			return nil
		}
	}

	netLog().WithFields(logrus.Fields{
		"address": addr,
		"device":  intf.AddrDevice(),
	}).Debug("Adding secondary address")

	if err := m.builder.addSecondaryAddr(intf, addr); err != nil {
		return err
	}

	if !intf.HasNamespace() {
		table, err := m.router.ensureTable(intf)
		if err != nil {
			return err
		}
		if err := m.router.addSourceRule(addr, table); err != nil {
			return err
		}
	}

	m.store.Overrides.AddSecondaryIP(addr, intf.VnicID)
	return nil
}

// remove deletes the source rules for addr, then the address itself.
func (m *secondaryAddrManager) remove(intf types.CorrelatedInterface, addr string) error {
	netLog().WithFields(logrus.Fields{
		"address": addr,
		"device":  intf.AddrDevice(),
	}).Debug("Removing secondary address")

	if err := removeRulesForAddress(addr); err != nil {
		return err
	}

	if err := m.builder.removeSecondaryAddr(intf, addr); err != nil {
		return err
	}

	m.store.Overrides.RemoveSecondaryIP(addr, intf.VnicID)
	return nil
}
