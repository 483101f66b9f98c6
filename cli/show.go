// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/safchain/ethtool"
	"github.com/urfave/cli"

	"github.com/oracle/oci-network-config/netconfig"
	"github.com/oracle/oci-network-config/netconfig/types"
)

var showCLICommand = cli.Command{
	Name:  "show",
	Usage: "display the current network configuration",
	Description: `Shows every declared and observed interface with its
   reconciliation state. ADD means the VNIC is attached but not configured,
   DELETE means the kernel carries configuration for a VNIC that no longer
   exists, EXCLUDED means the interface is under manual control.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "details",
			Usage: "include device driver information",
		},
	},
	Action: func(context *cli.Context) error {
		config, err := loadConfig(context)
		if err != nil {
			return err
		}

		manager := netconfig.NewManager(cliContext(context), config)
		correlated := manager.GetNetworkConfig(nil)

		return printInterfaces(os.Stdout, correlated, context.Bool("details"))
	},
}

var showVnicsCLICommand = cli.Command{
	Name:  "show-vnics",
	Usage: "display VNIC metadata as reported by the instance metadata service",
	Action: func(context *cli.Context) error {
		config, err := loadConfig(context)
		if err != nil {
			return err
		}

		manager := netconfig.NewManager(cliContext(context), config)
		md := manager.Metadata()
		if md == nil {
			return fmt.Errorf("instance metadata is not available")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VNIC\tMAC\tIP\tSUBNET\tROUTER\tVLAN\tNIC")
		for _, vnic := range md.VNICs {
			nicIndex := "-"
			if vnic.NicIndex != nil {
				nicIndex = fmt.Sprintf("%d", *vnic.NicIndex)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				vnic.VnicID,
				types.NormalizeMAC(vnic.MACAddr),
				vnic.PrivateIP,
				vnic.SubnetCIDRBlock,
				vnic.VirtualRouterIP,
				vnic.VlanTag,
				nicIndex)
		}
		return w.Flush()
	},
}

func printInterfaces(out io.Writer, correlated []types.CorrelatedInterface, details bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	header := "STATE\tLINK\tMAC\tADDRESS\tVLAN\tNS\tSECONDARIES"
	if details {
		header += "\tDRIVER"
	}
	fmt.Fprintln(w, header)

	for _, intf := range correlated {
		fields := []string{
			string(intf.State),
			orDash(intf.Iface),
			orDash(intf.MAC),
			orDash(intf.Addr),
			orDash(intf.Vlan),
			orDash(intf.Namespace),
			orDash(strings.Join(intf.SecondaryAddrs, ",")),
		}
		if details {
			fields = append(fields, orDash(driverInfo(intf.Iface)))
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}

	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// driverInfo looks up the kernel driver behind a device. Best effort, the
// device may live in another namespace or not exist at all.
func driverInfo(device string) string {
	if device == "" {
		return ""
	}

	e, err := ethtool.NewEthtool()
	if err != nil {
		ociLog.WithError(err).Debug("Could not open ethtool socket")
		return ""
	}
	defer e.Close()

	driver, err := e.DriverName(device)
	if err != nil {
		ociLog.WithError(err).WithField("device", device).Debug("Could not get driver name")
		return ""
	}

	if info, err := e.BusInfo(device); err == nil && info != "" {
		return fmt.Sprintf("%s (%s)", driver, info)
	}
	return driver
}
