// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// nmConfFileName derives the drop-in file name for a MAC address.
func nmConfFileName(mac string) string {
	return strings.Replace(types.NormalizeMAC(mac), ":", "_", -1) + ".conf"
}

// disableNetworkManager writes a NetworkManager drop-in marking the MAC as
// unmanaged, so the host network manager does not fight over devices we
// configure.
func disableNetworkManager(confDir, mac string) error {
	if mac == "" {
		return fmt.Errorf("invalid MAC address")
	}

	if err := os.MkdirAll(confDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %v", confDir, err)
	}

	conf := ini.Empty()
	section, err := conf.NewSection("keyfile")
	if err != nil {
		return err
	}
	if _, err := section.NewKey("unmanaged-devices+", "mac:"+types.NormalizeMAC(mac)); err != nil {
		return err
	}

	path := filepath.Join(confDir, nmConfFileName(mac))
	if err := conf.SaveTo(path); err != nil {
		return fmt.Errorf("cannot write %s: %v", path, err)
	}

	netLog().WithField("path", path).Debug("NetworkManager drop-in created")
	return nil
}

// enableNetworkManager removes the unmanaged-device drop-in for the MAC, if
// one exists.
func enableNetworkManager(confDir, mac string) error {
	path := filepath.Join(confDir, nmConfFileName(mac))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		netLog().WithField("mac", mac).Debug("No NetworkManager drop-in for MAC")
		return nil
	}

	return os.Remove(path)
}
