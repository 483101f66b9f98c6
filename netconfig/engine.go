// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package netconfig reconciles the kernel network configuration of an
// instance with the topology declared by its attached VNICs: interface
// construction, namespace placement and symmetric per-interface policy
// routing.
package netconfig

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/oracle/oci-network-config/netconfig/metadata"
	"github.com/oracle/oci-network-config/netconfig/types"
)

// Manager drives one reconciliation session. It is created at process start
// with a fresh metadata snapshot and the persisted overrides, and discarded
// at process exit; only the on-disk stores survive across invocations.
type Manager struct {
	config      Config
	meta        *metadata.InstanceMetadata
	store       *OverrideStore
	builder     *interfaceBuilder
	router      *policyRouter
	secondaries *secondaryAddrManager
}

// NewManager builds a Manager. An unreachable metadata service is a warning
// here; show and unconfigure still work from the observed view, AutoConfig
// refuses to run.
func NewManager(ctx context.Context, config Config) *Manager {
	client := metadata.NewClient()
	if config.MetadataEndpoint != "" {
		client.Endpoint = config.MetadataEndpoint
	}

	meta, err := client.Fetch(ctx)
	if err != nil {
		netLog().WithError(err).Warn("Cannot get instance metadata")
		meta = nil
	}

	return NewManagerWithMetadata(config, meta)
}

// NewManagerWithMetadata builds a Manager around an existing metadata
// snapshot.
func NewManagerWithMetadata(config Config, meta *metadata.InstanceMetadata) *Manager {
	bareMetal := meta != nil && meta.IsBareMetal()

	m := &Manager{
		config:  config,
		meta:    meta,
		store:   LoadOverrideStore(config),
		builder: newInterfaceBuilder(config, bareMetal),
		router:  newPolicyRouter(config, bareMetal),
	}
	m.secondaries = &secondaryAddrManager{builder: m.builder, router: m.router, store: m.store}
	return m
}

// Overrides exposes the loaded override set, mainly for the CLI's show
// output.
func (m *Manager) Overrides() *Overrides {
	return m.store.Overrides
}

// Metadata returns the instance metadata snapshot, nil when the metadata
// service was unreachable.
func (m *Manager) Metadata() *metadata.InstanceMetadata {
	return m.meta
}

// GetNetworkConfig builds the current correlated view of declared and
// observed interfaces.
func (m *Manager) GetNetworkConfig(secondaries map[string][]string) []types.CorrelatedInterface {
	declared := BuildDeclaredInterfaces(m.meta, secondaries)
	observed := GetSystemInterfaces(m.config.NetNSRunDir)
	return Correlate(declared, observed, m.store.Overrides)
}

// secondaryMap turns assignment pairs into the per-VNIC address map the
// declared reader consumes.
func secondaryMap(assignments []SecondaryAssignment) map[string][]string {
	out := make(map[string][]string)
	for _, a := range assignments {
		out[a.VnicID] = append(out[a.VnicID], a.Address)
	}
	return out
}

// AutoConfig converges every managed interface toward the declared
// topology. secIPs lists the secondary addresses to ensure, as (address,
// VNIC id) pairs. When honorDeconfig is set, interfaces the operator
// explicitly deconfigured are left alone. Failures on one interface do not
// stop the pass; the aggregate error reports them all.
func (m *Manager) AutoConfig(secIPs []SecondaryAssignment, honorDeconfig bool) error {
	// Without metadata every observed interface would classify as DELETE;
	// refusing to act is the only safe answer.
	if m.meta == nil {
		return fmt.Errorf("instance metadata is not available, cannot configure")
	}

	correlated := m.GetNetworkConfig(secondaryMap(secIPs))

	// On bare metal a declared interface may have no kernel object at all
	// yet; the physical NIC is then located through the NIC index.
	ifaceByNicIndex := make(map[int]string)
	for _, intf := range correlated {
		if intf.Iface != "" && intf.HasNicIndex {
			ifaceByNicIndex[intf.NicIndex] = intf.Iface
		}
	}

	var errs *multierror.Error
	storeDirty := false

	for _, intf := range correlated {
		if intf.IsPrimary {
			continue
		}

		switch intf.State {
		case types.StateExcluded:
			continue

		case types.StateAdd:
			if honorDeconfig && m.store.Overrides.IsDeconfigured(intf.Iface, intf.VnicID, intf.Addr) {
				netLog().WithField("vnic", intf.VnicID).Debug("Interface deconfigured by operator, skipping")
				continue
			}

			if intf.Iface == "" {
				iface, ok := ifaceByNicIndex[intf.NicIndex]
				if !ok {
					err := fmt.Errorf("no physical device found for NIC index %d (VNIC %s)", intf.NicIndex, intf.VnicID)
					netLog().WithError(err).Warn("Cannot configure interface")
					errs = multierror.Append(errs, err)
					continue
				}
				intf.Iface = iface
				intf.OperState = "up"
			}

			if err := m.configureInterface(&intf); err != nil {
				netLog().WithError(err).WithField("vnic", intf.VnicID).Warn("Cannot configure interface")
				errs = multierror.Append(errs, err)
				continue
			}

			// A freshly configured interface implies the deconfiguration no
			// longer applies.
			if m.store.Overrides.RemoveDeconfig(intf.Iface, intf.VnicID, intf.Addr) {
				storeDirty = true
			}

			if err := m.applyMissingSecondaries(intf); err != nil {
				errs = multierror.Append(errs, err)
			}
			storeDirty = true

		case types.StateDelete:
			if err := m.deconfigureInterface(intf); err != nil {
				netLog().WithError(err).WithField("device", intf.Iface).Warn("Cannot deconfigure interface")
				errs = multierror.Append(errs, err)
			}

		case types.StateUnchanged:
			if len(intf.MissingSecondaryAddrs) == 0 {
				continue
			}
			if err := m.applyMissingSecondaries(intf); err != nil {
				errs = multierror.Append(errs, err)
			}
			storeDirty = true
		}
	}

	if storeDirty {
		if err := m.store.Save(); err != nil {
			netLog().WithError(err).Warn("Could not persist vnic info")
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// AutoDeconfig is the mirror operation. With secIPs given only those
// secondary addresses are removed; otherwise every non-primary,
// non-excluded, configured interface is torn down and marked deconfigured so
// the background refresh does not silently re-add it.
func (m *Manager) AutoDeconfig(secIPs []SecondaryAssignment) error {
	correlated := m.GetNetworkConfig(nil)
	var errs *multierror.Error

	if len(secIPs) > 0 {
		errs = multierror.Append(errs, m.deconfigSecondaries(correlated, secIPs))
		if err := m.store.Save(); err != nil {
			errs = multierror.Append(errs, err)
		}
		return errs.ErrorOrNil()
	}

	storeDirty := false
	for _, intf := range correlated {
		if intf.IsPrimary || intf.State != types.StateUnchanged {
			continue
		}

		for _, addr := range intf.SecondaryAddrs {
			if err := m.secondaries.remove(intf, addr); err != nil {
				netLog().WithError(err).WithField("address", addr).Warn("Cannot remove secondary address")
				errs = multierror.Append(errs, err)
			}
		}

		if err := m.deconfigureInterface(intf); err != nil {
			netLog().WithError(err).WithField("device", intf.Iface).Warn("Cannot deconfigure interface")
			errs = multierror.Append(errs, err)
			continue
		}

		token := intf.VnicID
		if token == "" {
			token = intf.Iface
		}
		if m.store.Overrides.AddDeconfig(token) {
			storeDirty = true
		}
	}

	if storeDirty {
		if err := m.store.Save(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

func (m *Manager) deconfigSecondaries(correlated []types.CorrelatedInterface, secIPs []SecondaryAssignment) error {
	if m.meta == nil {
		return fmt.Errorf("no metadata available")
	}

	var errs *multierror.Error
	for _, assignment := range secIPs {
		vnic, ok := m.meta.FindVNIC(assignment.VnicID)
		if !ok {
			netLog().WithField("vnic", assignment.VnicID).Warn("VNIC not found")
			continue
		}
		mac := types.NormalizeMAC(vnic.MACAddr)

		found := false
		for _, intf := range correlated {
			if intf.MAC != mac {
				continue
			}
			for _, addr := range intf.SecondaryAddrs {
				if addr == assignment.Address {
					found = true
					if err := m.secondaries.remove(intf, addr); err != nil {
						errs = multierror.Append(errs, err)
					}
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			netLog().WithField("address", assignment.Address).Warn("IP not found")
		}
	}

	return errs.ErrorOrNil()
}

// namespaceRequest computes the target namespace for an interface, empty
// when namespace placement is not requested.
func (m *Manager) namespaceRequest(intf types.CorrelatedInterface) (string, bool) {
	overrides := m.store.Overrides
	if overrides.Namespace == nil {
		return "", false
	}
	if *overrides.Namespace != "" {
		return *overrides.Namespace, overrides.StartSSHD
	}
	return "ons" + intf.Iface, overrides.StartSSHD
}

// configureInterface runs the configure sequence: link chain, network
// manager hand-off, policy routing.
func (m *Manager) configureInterface(intf *types.CorrelatedInterface) error {
	targetNamespace, startSSHD := m.namespaceRequest(*intf)

	if err := m.builder.setup(intf, targetNamespace); err != nil {
		return err
	}

	if err := disableNetworkManager(m.config.NMConfDir, intf.MAC); err != nil {
		netLog().WithError(err).WithField("mac", intf.MAC).Warn("Could not disable NetworkManager for device")
	}

	return m.router.configure(*intf, intf.Namespace, startSSHD)
}

// deconfigureInterface runs the teardown sequence: routing first so no rule
// outlives its device, then the link chain, then the namespace.
func (m *Manager) deconfigureInterface(intf types.CorrelatedInterface) error {
	if err := m.router.teardown(intf); err != nil {
		return err
	}

	if intf.HasNamespace() {
		killNamespaceProcesses(m.config.NetNSRunDir, intf.Namespace)
	}

	if err := m.builder.teardown(intf); err != nil {
		return err
	}

	if intf.HasNamespace() {
		netLog().WithField("namespace", intf.Namespace).Debug("Deleting namespace")
		if err := deleteNamedNetNS(m.config.NetNSRunDir, intf.Namespace); err != nil {
			return err
		}
	}

	return enableNetworkManager(m.config.NMConfDir, intf.MAC)
}

func (m *Manager) applyMissingSecondaries(intf types.CorrelatedInterface) error {
	var errs *multierror.Error
	for _, addr := range intf.MissingSecondaryAddrs {
		if err := m.secondaries.add(intf, addr); err != nil {
			netLog().WithError(err).WithFields(logrus.Fields{
				"address": addr,
				"device":  intf.AddrDevice(),
			}).Warn("Cannot add secondary address")
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Exclude takes an interface name, VNIC id or address out of automatic
// management.
func (m *Manager) Exclude(item string) error {
	if m.store.Overrides.AddExclude(item) {
		netLog().WithField("item", item).Debug("Added to exclusion list")
		return m.store.Save()
	}
	return nil
}

// Include removes an item from the exclusion list.
func (m *Manager) Include(item string) error {
	if m.store.Overrides.RemoveExclude(item) {
		netLog().WithField("item", item).Debug("Removed from exclusion list")
		return m.store.Save()
	}
	return nil
}

// MarkDeconfigured records an operator deconfiguration without touching the
// kernel; AutoDeconfig is the operation that does both.
func (m *Manager) MarkDeconfigured(item string) error {
	if m.store.Overrides.AddDeconfig(item) {
		return m.store.Save()
	}
	return nil
}

// ClearDeconfigured re-enables automatic configuration for an item.
func (m *Manager) ClearDeconfigured(item string) error {
	if m.store.Overrides.RemoveDeconfig(item) {
		return m.store.Save()
	}
	return nil
}

// SetNamespace requests namespace placement for configured interfaces. An
// empty name means a per-interface namespace named after the device.
func (m *Manager) SetNamespace(name string) error {
	m.store.Overrides.Namespace = &name
	return m.store.Save()
}

// SetSSHD controls whether an ssh daemon is started inside created
// namespaces.
func (m *Manager) SetSSHD(enable bool) error {
	m.store.Overrides.StartSSHD = enable
	return m.store.Save()
}

// AddPrivateIP plumbs a secondary address onto the interface backing the
// VNIC when it is configured, and records the assignment either way.
func (m *Manager) AddPrivateIP(addr, vnicID string) error {
	correlated := m.GetNetworkConfig(nil)

	for _, intf := range correlated {
		if intf.VnicID != vnicID {
			continue
		}
		if intf.State == types.StateUnchanged {
			if err := m.secondaries.add(intf, addr); err != nil {
				return err
			}
			return m.store.Save()
		}
		break
	}

	// Not configured yet; the next configuration pass applies it.
	m.store.Overrides.AddSecondaryIP(addr, vnicID)
	return m.store.Save()
}

// DelPrivateIP removes a secondary address and its source rule from the
// interface backing the VNIC. Removing an address that is not configured is
// not an error.
func (m *Manager) DelPrivateIP(addr, vnicID string) error {
	correlated := m.GetNetworkConfig(nil)

	for _, intf := range correlated {
		if intf.VnicID != vnicID {
			continue
		}
		for _, present := range intf.SecondaryAddrs {
			if present != addr {
				continue
			}
			if err := m.secondaries.remove(intf, addr); err != nil {
				return err
			}
			return m.store.Save()
		}
		break
	}

	netLog().WithField("address", addr).Info("IP is not configured")
	m.store.Overrides.RemoveSecondaryIP(addr, vnicID)
	return m.store.Save()
}

// DeleteAllPrivateIPs drops every recorded secondary assignment of one VNIC.
func (m *Manager) DeleteAllPrivateIPs(vnicID string) error {
	var errs *multierror.Error
	for _, assignment := range m.store.Overrides.SecondaryIPsForVnic(vnicID) {
		if err := m.DelPrivateIP(assignment.Address, assignment.VnicID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
