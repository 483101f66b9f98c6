// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// macvlanDeviceName is the macvlan created on top of the physical device for
// a tagged VNIC.
func macvlanDeviceName(iface string, vlanTag int) string {
	return fmt.Sprintf("%s.%d", iface, vlanTag)
}

// vlanDeviceName is the VLAN device created on top of the macvlan; it
// carries the interface's addresses.
func vlanDeviceName(iface string, vlanTag int) string {
	return fmt.Sprintf("%sv%d", iface, vlanTag)
}

// interfaceBuilder creates and destroys the kernel link chain realizing one
// declared interface: the device itself on virtual-machine shapes, a
// macvlan+VLAN pair on tagged bare-metal VNICs.
type interfaceBuilder struct {
	config    Config
	bareMetal bool
}

func newInterfaceBuilder(config Config, bareMetal bool) *interfaceBuilder {
	return &interfaceBuilder{config: config, bareMetal: bareMetal}
}

// setup walks the interface from absent to addressed and up. When
// targetNamespace is non-empty the link chain ends up inside it, and
// intf.Namespace and intf.Vlan are updated to reflect the created state.
func (b *interfaceBuilder) setup(intf *types.CorrelatedInterface, targetNamespace string) error {
	srcHandle, err := netlinkHandle(b.config.NetNSRunDir, intf.Namespace)
	if err != nil {
		return err
	}
	defer srcHandle.Delete()

	if intf.OperState != "up" {
		netLog().WithField("device", intf.Iface).Debug("Bringing interface up")
		if err := setLinkUp(srcHandle, intf.Iface); err != nil {
			return err
		}
	}

	if targetNamespace != "" {
		if err := createNamedNetNS(b.config.NetNSRunDir, targetNamespace); err != nil {
			return err
		}
	}

	if b.bareMetal && intf.VlanTag != 0 {
		return b.setupVlanChain(intf, srcHandle, targetNamespace)
	}
	return b.setupPlain(intf, srcHandle, targetNamespace)
}

// setupPlain configures the physical or virtual-function device directly.
func (b *interfaceBuilder) setupPlain(intf *types.CorrelatedInterface, srcHandle *netlink.Handle, targetNamespace string) error {
	if targetNamespace != "" {
		if err := b.moveLink(srcHandle, intf.Iface, targetNamespace); err != nil {
			return err
		}
		intf.Namespace = targetNamespace
	}

	handle, err := netlinkHandle(b.config.NetNSRunDir, intf.Namespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	if err := b.assignAddr(handle, intf.Iface, intf.CIDR()); err != nil {
		return err
	}

	netLog().WithField("device", intf.Iface).Debug("Interface set up")
	return b.raiseLink(handle, intf.Iface)
}

// setupVlanChain wires a tagged bare-metal VNIC: macvlan on the physical
// device carrying the declared MAC, VLAN device on the macvlan carrying the
// address.
func (b *interfaceBuilder) setupVlanChain(intf *types.CorrelatedInterface, srcHandle *netlink.Handle, targetNamespace string) error {
	macvlanName := macvlanDeviceName(intf.Iface, intf.VlanTag)
	vlanName := vlanDeviceName(intf.Iface, intf.VlanTag)

	mac, err := net.ParseMAC(intf.MAC)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %v", intf.MAC, err)
	}

	parent, err := srcHandle.LinkByName(intf.Iface)
	if err != nil {
		return fmt.Errorf("cannot find parent device %s: %v", intf.Iface, err)
	}

	netLog().WithField("device", macvlanName).Debug("Creating macvlan")
	macvlan := &netlink.Macvlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:         macvlanName,
			ParentIndex:  parent.Attrs().Index,
			HardwareAddr: mac,
		},
	}
	if err := srcHandle.LinkAdd(macvlan); err != nil {
		return fmt.Errorf("cannot create macvlan %s for MAC address %s: %v", macvlanName, intf.MAC, err)
	}

	// A physical device living in a namespace forces the macvlan to be born
	// there; pull it back to the root namespace before stacking the VLAN.
	if intf.Namespace != "" {
		if err := srcHandle.LinkSetNsPid(macvlan, 1); err != nil {
			return fmt.Errorf("cannot move macvlan %s out of namespace %s: %v", macvlanName, intf.Namespace, err)
		}
	}

	rootHandle, err := netlinkHandle(b.config.NetNSRunDir, "")
	if err != nil {
		return err
	}
	defer rootHandle.Delete()

	macvlanLink, err := rootHandle.LinkByName(macvlanName)
	if err != nil {
		return fmt.Errorf("cannot find macvlan %s: %v", macvlanName, err)
	}

	vlan := &netlink.Vlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:        vlanName,
			ParentIndex: macvlanLink.Attrs().Index,
		},
		VlanId: intf.VlanTag,
	}
	if err := rootHandle.LinkAdd(vlan); err != nil {
		return fmt.Errorf("cannot create VLAN %s on macvlan %s: %v", vlanName, macvlanName, err)
	}

	addrNamespace := ""
	if targetNamespace != "" {
		netLog().WithFields(logrus.Fields{
			"device":    macvlanName,
			"namespace": targetNamespace,
		}).Debug("Moving macvlan chain")
		if err := b.moveLink(rootHandle, macvlanName, targetNamespace); err != nil {
			return err
		}
		if err := b.moveLink(rootHandle, vlanName, targetNamespace); err != nil {
			return err
		}
		addrNamespace = targetNamespace
	}

	handle, err := netlinkHandle(b.config.NetNSRunDir, addrNamespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	if err := b.assignAddr(handle, vlanName, intf.CIDR()); err != nil {
		return err
	}

	if err := b.raiseLink(handle, macvlanName); err != nil {
		return err
	}
	if err := b.raiseLink(handle, vlanName); err != nil {
		return err
	}

	intf.Vlan = vlanName
	intf.Namespace = addrNamespace
	return nil
}

// teardown reverses setup. Deleting the macvlan cascades the VLAN device and
// every address on it; on plain devices only the primary address is removed,
// the caller reclaims namespaced physical devices by destroying the
// namespace.
func (b *interfaceBuilder) teardown(intf types.CorrelatedInterface) error {
	handle, err := netlinkHandle(b.config.NetNSRunDir, intf.Namespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	if intf.HasVlan() {
		macvlanName := macvlanDeviceName(intf.Iface, intf.VlanTag)
		netLog().WithField("device", macvlanName).Debug("Deleting macvlan chain")

		link, err := handle.LinkByName(macvlanName)
		if err != nil {
			// The chain may survive only as the VLAN device.
			link, err = handle.LinkByName(intf.Vlan)
			if err != nil {
				return fmt.Errorf("cannot find VLAN chain for %s: %v", intf.Iface, err)
			}
		}
		if err := handle.LinkDel(link); err != nil {
			return fmt.Errorf("cannot remove VLAN chain %s: %v", macvlanName, err)
		}
		return nil
	}

	if intf.Addr == "" {
		return nil
	}

	netLog().WithFields(logrus.Fields{
		"device":  intf.Iface,
		"address": intf.CIDR(),
	}).Debug("Removing address")
	if err := b.removeAddr(handle, intf.Iface, intf.CIDR()); err != nil {
		return err
	}
	return removeRulesForAddress(intf.Addr)
}

// addSecondaryAddr assigns a single-host secondary address to the VLAN
// device when present, else to the device itself.
func (b *interfaceBuilder) addSecondaryAddr(intf types.CorrelatedInterface, addr string) error {
	handle, err := netlinkHandle(b.config.NetNSRunDir, intf.Namespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	return b.assignAddr(handle, intf.AddrDevice(), types.HostCIDR(addr))
}

// removeSecondaryAddr is the inverse; removing an absent address succeeds.
func (b *interfaceBuilder) removeSecondaryAddr(intf types.CorrelatedInterface, addr string) error {
	handle, err := netlinkHandle(b.config.NetNSRunDir, intf.Namespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	err = b.removeAddr(handle, intf.AddrDevice(), types.HostCIDR(addr))
	if err != nil && isNotFoundErr(err) {
		netLog().WithField("address", addr).Debug("Secondary address already absent")
		return nil
	}
	return err
}

func (b *interfaceBuilder) assignAddr(handle *netlink.Handle, device, cidr string) error {
	link, err := handle.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s: %v", device, err)
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("invalid address %s for %s: %v", cidr, device, err)
	}

	netLog().WithFields(logrus.Fields{"device": device, "address": cidr}).Debug("Adding address")
	if err := handle.AddrAdd(link, addr); err != nil {
		if isExistsErr(err) {
			netLog().WithFields(logrus.Fields{"device": device, "address": cidr}).Debug("Address already present")
			return nil
		}
		return fmt.Errorf("cannot add address %s on %s: %v", cidr, device, err)
	}
	return nil
}

func (b *interfaceBuilder) removeAddr(handle *netlink.Handle, device, cidr string) error {
	link, err := handle.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s: %v", device, err)
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("invalid address %s for %s: %v", cidr, device, err)
	}

	if err := handle.AddrDel(link, addr); err != nil {
		if isNotFoundErr(err) {
			return err
		}
		return fmt.Errorf("cannot remove address %s from %s: %v", cidr, device, err)
	}
	return nil
}

// raiseLink applies the platform MTU and brings the device up.
func (b *interfaceBuilder) raiseLink(handle *netlink.Handle, device string) error {
	link, err := handle.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s: %v", device, err)
	}
	if err := handle.LinkSetMTU(link, b.config.MTU); err != nil {
		return fmt.Errorf("cannot set MTU %d on %s: %v", b.config.MTU, device, err)
	}
	if err := handle.LinkSetUp(link); err != nil {
		return fmt.Errorf("cannot bring %s up: %v", device, err)
	}
	return nil
}

func setLinkUp(handle *netlink.Handle, device string) error {
	link, err := handle.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s: %v", device, err)
	}
	if err := handle.LinkSetUp(link); err != nil {
		return fmt.Errorf("cannot bring %s up: %v", device, err)
	}
	return nil
}

func (b *interfaceBuilder) moveLink(handle *netlink.Handle, device, namespace string) error {
	link, err := handle.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s: %v", device, err)
	}

	nsHandle, err := netns.GetFromPath(filepath.Join(b.config.NetNSRunDir, namespace))
	if err != nil {
		return fmt.Errorf("cannot open namespace %s: %v", namespace, err)
	}
	defer nsHandle.Close()

	if err := handle.LinkSetNsFd(link, int(nsHandle)); err != nil {
		return fmt.Errorf("cannot move %s into namespace %s: %v", device, namespace, err)
	}
	return nil
}

// isNotFoundErr reports whether a netlink operation failed because the
// object is already gone.
func isNotFoundErr(err error) bool {
	if errno, ok := err.(syscall.Errno); ok {
		return errno == unix.ENOENT || errno == unix.EADDRNOTAVAIL || errno == unix.ESRCH
	}
	return os.IsNotExist(err)
}
