// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"io/ioutil"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// DefaultConfigPath is where the agent configuration file is looked up.
const DefaultConfigPath = "/etc/oci-utils/network.toml"

const (
	defaultVnicInfoPath   = "/var/lib/oci-utils/vnic_info"
	defaultNetExcludePath = "/var/lib/oci-utils/net_exclude"
	defaultRtTablesPath   = "/etc/iproute2/rt_tables"
	defaultNMConfDir      = "/etc/NetworkManager/conf.d"
	defaultNetNSRunDir    = "/var/run/netns"
	defaultMTU            = 9000
	defaultSSHDPath       = "/usr/sbin/sshd"
)

func netLog() *logrus.Entry {
	return logrus.WithField("source", "netconfig")
}

// Config carries the paths and tunables of one invocation. It is built at
// process start and threaded through every component; nothing here is shared
// across processes except through the files it points to.
type Config struct {
	// VnicInfoPath is the persisted Override Store location.
	VnicInfoPath string `toml:"vnic_info_path"`

	// NetExcludePath is the obsolete exclusion file migrated into the
	// Override Store on first use.
	NetExcludePath string `toml:"net_exclude_path"`

	// RtTablesPath is the shared routing-table-name registry.
	RtTablesPath string `toml:"rt_tables_path"`

	// NMConfDir receives the NetworkManager unmanaged-device fragments.
	NMConfDir string `toml:"nm_conf_dir"`

	// NetNSRunDir is where named network namespaces are bind-mounted.
	NetNSRunDir string `toml:"netns_run_dir"`

	// MTU applied to every device the builder brings up.
	MTU int `toml:"mtu"`

	// SSHDPath is the daemon started inside namespaces when requested.
	SSHDPath string `toml:"sshd_path"`

	// MetadataEndpoint overrides the metadata service URL, mainly for tests.
	MetadataEndpoint string `toml:"metadata_endpoint"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		VnicInfoPath:   defaultVnicInfoPath,
		NetExcludePath: defaultNetExcludePath,
		RtTablesPath:   defaultRtTablesPath,
		NMConfDir:      defaultNMConfDir,
		NetNSRunDir:    defaultNetNSRunDir,
		MTU:            defaultMTU,
		SSHDPath:       defaultSSHDPath,
	}
}

// LoadConfig reads the TOML configuration at path, falling back to the
// defaults for any unset value. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return config, err
	}

	if _, err := toml.Decode(string(data), &config); err != nil {
		return config, err
	}

	if config.MTU <= 0 {
		config.MTU = defaultMTU
	}

	return config, nil
}
