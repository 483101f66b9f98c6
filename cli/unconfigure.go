// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"github.com/urfave/cli"

	"github.com/oracle/oci-network-config/netconfig"
)

var unconfigureCLICommand = cli.Command{
	Name:  "unconfigure",
	Usage: "deconfigure interfaces managed by this tool",
	Description: `Tears down every configured non-primary interface: policy
   routing, addresses, created devices and namespaces. Deconfigured
   interfaces are remembered so a later configure run does not silently
   re-add them. With --secondary-ip only the named addresses are removed.`,
	Flags: []cli.Flag{
		cli.StringSliceFlag{
			Name:  "secondary-ip, I",
			Usage: "secondary address to remove, as <ip>,<vnic-ocid> (may be repeated)",
		},
	},
	Action: func(context *cli.Context) error {
		if err := checkRoot(); err != nil {
			return err
		}

		config, err := loadConfig(context)
		if err != nil {
			return err
		}

		secIPs, err := parseSecondaryIPs(context.StringSlice("secondary-ip"))
		if err != nil {
			return err
		}

		manager := netconfig.NewManager(cliContext(context), config)
		return manager.AutoDeconfig(secIPs)
	},
}
