// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"strconv"
	"strings"

	"github.com/oracle/oci-network-config/netconfig/metadata"
	"github.com/oracle/oci-network-config/netconfig/types"
)

// BuildDeclaredInterfaces turns the metadata snapshot into the ordered
// declared-interface list, primary VNIC first. secondaries maps a VNIC id to
// the addresses currently assigned through the control plane; each VNIC's own
// private address is filtered out of its secondary list.
func BuildDeclaredInterfaces(md *metadata.InstanceMetadata, secondaries map[string][]string) []types.DeclaredInterface {
	if md == nil {
		netLog().Warn("No metadata available, declared topology is empty")
		return nil
	}

	declared := make([]types.DeclaredInterface, 0, len(md.VNICs))
	for i, vnic := range md.VNICs {
		d := types.DeclaredInterface{
			MAC:        types.NormalizeMAC(vnic.MACAddr),
			Addr:       vnic.PrivateIP,
			VirtRouter: vnic.VirtualRouterIP,
			VlanTag:    vnic.VlanTag,
			VnicID:     vnic.VnicID,
			IsPrimary:  i == 0,
		}

		d.SubnetPrefix, d.SubnetBits = splitCIDR(vnic.SubnetCIDRBlock)

		if vnic.NicIndex != nil {
			d.NicIndex = *vnic.NicIndex
			d.HasNicIndex = true
		}

		if vnic.IPv6SubnetCIDRBlock != "" {
			d.IPv6SubnetPrefix, d.IPv6SubnetBits = splitCIDR(vnic.IPv6SubnetCIDRBlock)
			d.IPv6VirtRouter = vnic.IPv6VirtualRouterIP
		}

		for _, addr := range secondaries[vnic.VnicID] {
			if addr == vnic.PrivateIP {
				continue
			}
			d.SecondaryAddrs = append(d.SecondaryAddrs, addr)
		}

		declared = append(declared, d)
	}

	return declared
}

func splitCIDR(cidr string) (string, int) {
	parts := strings.SplitN(cidr, "/", 2)
	if len(parts) != 2 {
		return cidr, 0
	}
	bits, err := strconv.Atoi(parts[1])
	if err != nil {
		return parts[0], 0
	}
	return parts[0], bits
}
