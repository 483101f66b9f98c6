// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"net"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// namespaceScan is the raw link/address state of one namespace.
type namespaceScan struct {
	namespace string
	links     []netlink.Link
	addrs     map[int][]netlink.Addr
}

// GetSystemInterfaces builds the observed view: every ether link in the
// default namespace and in every named namespace, with loopback and
// carrier-less links filtered out. The read is best effort, a namespace that
// cannot be inspected contributes nothing.
func GetSystemInterfaces(nsRunDir string) map[string][]types.SystemInterface {
	namespaces := append([]string{""}, listNamedNamespaces(nsRunDir)...)

	var scans []namespaceScan
	for _, namespace := range namespaces {
		scan, err := scanNamespace(nsRunDir, namespace)
		if err != nil {
			netLog().WithError(err).WithField("namespace", namespace).Warn("Could not inspect namespace")
			scans = append(scans, namespaceScan{namespace: namespace})
			continue
		}
		scans = append(scans, scan)
	}

	return buildSystemInterfaces(scans)
}

func scanNamespace(nsRunDir, namespace string) (namespaceScan, error) {
	scan := namespaceScan{namespace: namespace, addrs: make(map[int][]netlink.Addr)}

	handle, err := netlinkHandle(nsRunDir, namespace)
	if err != nil {
		return scan, err
	}
	defer handle.Delete()

	scan.links, err = handle.LinkList()
	if err != nil {
		return scan, err
	}

	for _, link := range scan.links {
		addrs, err := handle.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			netLog().WithError(err).WithField("link", link.Attrs().Name).Warn("Could not list addresses")
			continue
		}
		scan.addrs[link.Attrs().Index] = addrs
	}

	return scan, nil
}

// buildSystemInterfaces normalizes the raw scans. The first pass records
// every link name by kernel index across all namespaces, because a
// namespaced macvlan child reports its parent only by index.
func buildSystemInterfaces(scans []namespaceScan) map[string][]types.SystemInterface {
	linkNameByIndex := make(map[int]string)
	vfMACs := make(map[string]bool)

	for _, scan := range scans {
		for _, link := range scan.links {
			attrs := link.Attrs()
			linkNameByIndex[attrs.Index] = attrs.Name
			for _, vf := range attrs.Vfs {
				if len(vf.Mac) > 0 {
					vfMACs[types.NormalizeMAC(vf.Mac.String())] = true
				}
			}
		}
	}

	result := make(map[string][]types.SystemInterface)
	for _, scan := range scans {
		ifaces := []types.SystemInterface{}
		for _, link := range scan.links {
			iface, ok := buildSystemInterface(scan.namespace, link, scan.addrs[link.Attrs().Index], linkNameByIndex, vfMACs)
			if !ok {
				continue
			}
			netLog().WithFields(logrus.Fields{
				"device":    iface.Device,
				"mac":       iface.MAC,
				"namespace": scan.namespace,
			}).Debug("Found system interface")
			ifaces = append(ifaces, iface)
		}
		result[scan.namespace] = ifaces
	}

	return result
}

func buildSystemInterface(namespace string, link netlink.Link, addrs []netlink.Addr, linkNameByIndex map[int]string, vfMACs map[string]bool) (types.SystemInterface, bool) {
	attrs := link.Attrs()

	if attrs.Flags&net.FlagLoopback != 0 {
		return types.SystemInterface{}, false
	}
	// NO-CARRIER: administratively up but the lower layer is down.
	if attrs.OperState == netlink.OperLowerLayerDown {
		return types.SystemInterface{}, false
	}
	if attrs.EncapType != "ether" {
		return types.SystemInterface{}, false
	}

	iface := types.SystemInterface{
		Device:    attrs.Name,
		Index:     attrs.Index,
		OperState: attrs.OperState.String(),
		Namespace: namespace,
		LinkType:  linkKind(link),
	}

	if len(attrs.HardwareAddr) > 0 {
		iface.MAC = types.NormalizeMAC(attrs.HardwareAddr.String())
	}
	iface.IsVirtFn = vfMACs[iface.MAC]

	if attrs.ParentIndex != 0 {
		iface.Link = linkNameByIndex[attrs.ParentIndex]
	}

	if vlan, ok := link.(*netlink.Vlan); ok {
		iface.VlanID = vlan.VlanId
	}

	for _, addr := range addrs {
		if addr.IP.IsLinkLocalUnicast() {
			continue
		}
		if iface.Addr == "" {
			iface.Addr = addr.IP.String()
			iface.SubnetBits, _ = addr.Mask.Size()
			continue
		}
		iface.SecondaryAddrs = append(iface.SecondaryAddrs, addr.IP.String())
	}

	return iface, true
}

// linkKind reports the link subtype the way the correlator consumes it:
// vlan, macvlan and macvtap keep their kind, everything else is plain ether.
func linkKind(link netlink.Link) string {
	switch link.Type() {
	case "vlan", "macvlan", "macvtap":
		return link.Type()
	default:
		return "ether"
	}
}
