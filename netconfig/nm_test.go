// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNMConfFileName(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("AA_BB_CC_00_01_02.conf", nmConfFileName("AA:BB:CC:00:01:02"))
	assert.Equal("AA_BB_CC_00_01_02.conf", nmConfFileName("aa:bb:cc:00:01:02"))
}

func TestDisableEnableNetworkManager(t *testing.T) {
	assert := assert.New(t)

	dir, err := ioutil.TempDir("", "nm-conf-")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	confDir := filepath.Join(dir, "conf.d")
	mac := "aa:bb:cc:00:01:02"

	assert.NoError(disableNetworkManager(confDir, mac))

	path := filepath.Join(confDir, nmConfFileName(mac))
	data, err := ioutil.ReadFile(path)
	assert.NoError(err)
	assert.Contains(string(data), "[keyfile]")
	assert.Contains(string(data), "mac:AA:BB:CC:00:01:02")

	assert.NoError(enableNetworkManager(confDir, mac))
	_, err = os.Stat(path)
	assert.True(os.IsNotExist(err))

	// Removing a drop-in that never existed is fine.
	assert.NoError(enableNetworkManager(confDir, mac))
}

func TestDisableNetworkManagerBadMAC(t *testing.T) {
	assert.Error(t, disableNetworkManager(os.TempDir(), ""))
}
