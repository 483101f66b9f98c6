// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/oracle/oci-network-config/netconfig"
)

var configureCLICommand = cli.Command{
	Name:  "configure",
	Usage: "configure interfaces for every attached VNIC",
	Description: `Brings the kernel network configuration in line with the
   attached VNICs: creates missing interfaces, plumbs addresses and installs
   per-interface policy routing. Interfaces on the exclusion list are left
   untouched.`,
	Flags: []cli.Flag{
		cli.StringSliceFlag{
			Name:  "secondary-ip, I",
			Usage: "secondary address to assign, as <ip>,<vnic-ocid> (may be repeated)",
		},
		cli.StringSliceFlag{
			Name:  "exclude, X",
			Usage: "add an interface, VNIC OCID or address to the exclusion list before configuring",
		},
		cli.StringSliceFlag{
			Name:  "include, E",
			Usage: "remove an interface, VNIC OCID or address from the exclusion list before configuring",
		},
		cli.StringFlag{
			Name:  "namespace, n",
			Usage: "place configured interfaces in a namespace with the given name",
		},
		cli.BoolFlag{
			Name:  "start-sshd, r",
			Usage: "start sshd inside created namespaces",
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

		for _, item := range context.StringSlice("include") {
			if err := manager.Include(item); err != nil {
				return err
			}
		}
		for _, item := range context.StringSlice("exclude") {
			if err := manager.Exclude(item); err != nil {
				return err
			}
		}

		if context.IsSet("namespace") {
			if err := manager.SetNamespace(context.String("namespace")); err != nil {
				return err
			}
		}
		if context.IsSet("start-sshd") {
			if err := manager.SetSSHD(context.Bool("start-sshd")); err != nil {
				return err
			}
		}

		secIPs, err := parseSecondaryIPs(context.StringSlice("secondary-ip"))
		if err != nil {
			return err
		}

		// An explicit secondary-ip request re-enables the interface even if
		// it was deconfigured earlier.
		honorDeconfig := len(secIPs) == 0

		return manager.AutoConfig(secIPs, honorDeconfig)
	},
}

// parseSecondaryIPs parses repeated <ip>,<vnic-ocid> pairs.
func parseSecondaryIPs(raw []string) ([]netconfig.SecondaryAssignment, error) {
	var out []netconfig.SecondaryAssignment
	for _, pair := range raw {
		parts := strings.SplitN(pair, ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid secondary IP specification %q, expected <ip>,<vnic-ocid>", pair)
		}
		out = append(out, netconfig.SecondaryAssignment{Address: parts[0], VnicID: parts[1]})
	}
	return out, nil
}
