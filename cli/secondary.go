// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/oracle/oci-network-config/netconfig"
)

var addSecondaryAddrCLICommand = cli.Command{
	Name:      "add-secondary-addr",
	Usage:     "add a secondary private IP address to a VNIC's interface",
	ArgsUsage: `<ip-address> <vnic-ocid>`,
	Action: func(context *cli.Context) error {
		if err := checkRoot(); err != nil {
			return err
		}

		addr, vnicID, err := secondaryAddrArgs(context)
		if err != nil {
			return err
		}

		config, err := loadConfig(context)
		if err != nil {
			return err
		}

		manager := netconfig.NewManager(cliContext(context), config)
		return manager.AddPrivateIP(addr, vnicID)
	},
}

var removeSecondaryAddrCLICommand = cli.Command{
	Name:      "remove-secondary-addr",
	Usage:     "remove a secondary private IP address from a VNIC's interface",
	ArgsUsage: `<ip-address> <vnic-ocid>`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "all",
			Usage: "remove every secondary address assigned to the VNIC",
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

		manager := netconfig.NewManager(cliContext(context), config)

		if context.Bool("all") {
			vnicID := context.Args().First()
			if vnicID == "" {
				return fmt.Errorf("missing VNIC OCID")
			}
			return manager.DeleteAllPrivateIPs(vnicID)
		}

		addr, vnicID, err := secondaryAddrArgs(context)
		if err != nil {
			return err
		}
		return manager.DelPrivateIP(addr, vnicID)
	},
}

func secondaryAddrArgs(context *cli.Context) (string, string, error) {
	args := context.Args()
	if !args.Present() || args.Get(1) == "" {
		return "", "", fmt.Errorf("missing IP address or VNIC OCID")
	}
	return args.First(), args.Get(1), nil
}
