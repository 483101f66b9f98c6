// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testStoreConfig(t *testing.T) (Config, func()) {
	dir, err := ioutil.TempDir("", "vnic-info-")
	assert.NoError(t, err)

	config := DefaultConfig()
	config.VnicInfoPath = filepath.Join(dir, "vnic_info")
	config.NetExcludePath = filepath.Join(dir, "net_exclude")
	return config, func() { os.RemoveAll(dir) }
}

func TestSecondaryAssignmentJSON(t *testing.T) {
	assert := assert.New(t)

	s := SecondaryAssignment{Address: "10.0.0.5", VnicID: "ocid1.vnic.test"}
	data, err := json.Marshal(s)
	assert.NoError(err)
	assert.Equal(`["10.0.0.5","ocid1.vnic.test"]`, string(data))

	var decoded SecondaryAssignment
	assert.NoError(json.Unmarshal(data, &decoded))
	assert.Equal(s, decoded)
}

func TestOverridesExclude(t *testing.T) {
	assert := assert.New(t)
	o := newOverrides()

	assert.True(o.AddExclude("ens3"))
	assert.False(o.AddExclude("ens3"))
	assert.True(o.IsExcluded("ens3"))
	assert.True(o.IsExcluded("", "ens3", "10.0.0.2"))
	assert.False(o.IsExcluded("ens4"))
	assert.False(o.IsExcluded(""))

	assert.True(o.RemoveExclude("ens3"))
	assert.False(o.RemoveExclude("ens3"))
	assert.False(o.IsExcluded("ens3"))
}

func TestOverridesDeconfig(t *testing.T) {
	assert := assert.New(t)
	o := newOverrides()

	assert.True(o.AddDeconfig("ocid1.vnic.test"))
	assert.True(o.IsDeconfigured("ens3", "ocid1.vnic.test"))

	assert.True(o.RemoveDeconfig("", "ocid1.vnic.test"))
	assert.False(o.IsDeconfigured("ocid1.vnic.test"))
	assert.False(o.RemoveDeconfig("ocid1.vnic.test"))
}

func TestOverridesSecondaryIPs(t *testing.T) {
	assert := assert.New(t)
	o := newOverrides()

	assert.True(o.AddSecondaryIP("10.0.0.5", "ocid1.vnic.a"))
	assert.True(o.AddSecondaryIP("10.0.0.6", "ocid1.vnic.a"))
	assert.True(o.AddSecondaryIP("10.0.1.5", "ocid1.vnic.b"))
	assert.False(o.AddSecondaryIP("10.0.0.5", "ocid1.vnic.a"))

	forA := o.SecondaryIPsForVnic("ocid1.vnic.a")
	assert.Len(forA, 2)

	assert.True(o.RemoveSecondaryIP("10.0.0.5", "ocid1.vnic.a"))
	assert.False(o.RemoveSecondaryIP("10.0.0.5", "ocid1.vnic.a"))
	assert.Len(o.SecondaryIPsForVnic("ocid1.vnic.a"), 1)
}

func TestOverrideStoreRoundTrip(t *testing.T) {
	assert := assert.New(t)
	config, cleanup := testStoreConfig(t)
	defer cleanup()

	store := LoadOverrideStore(config)
	store.Overrides.AddExclude("ens3")
	store.Overrides.AddSecondaryIP("10.0.0.5", "ocid1.vnic.test")
	ns := "myns"
	store.Overrides.Namespace = &ns
	store.Overrides.StartSSHD = true
	assert.NoError(store.Save())

	reloaded := LoadOverrideStore(config)
	assert.Equal([]string{"ens3"}, reloaded.Overrides.Exclude)
	assert.Len(reloaded.Overrides.SecondaryIPs, 1)
	assert.Equal("10.0.0.5", reloaded.Overrides.SecondaryIPs[0].Address)
	if assert.NotNil(reloaded.Overrides.Namespace) {
		assert.Equal("myns", *reloaded.Overrides.Namespace)
	}
	assert.True(reloaded.Overrides.StartSSHD)
}

func TestOverrideStoreMigratesNetExclude(t *testing.T) {
	assert := assert.New(t)
	config, cleanup := testStoreConfig(t)
	defer cleanup()

	legacy, err := json.Marshal([]string{"ens3", "ocid1.vnic.old"})
	assert.NoError(err)
	assert.NoError(ioutil.WriteFile(config.NetExcludePath, legacy, 0644))

	store := LoadOverrideStore(config)
	assert.Equal([]string{"ens3", "ocid1.vnic.old"}, store.Overrides.Exclude)

	// The legacy file is consumed and the migrated set persisted.
	_, err = os.Stat(config.NetExcludePath)
	assert.True(os.IsNotExist(err))
	_, err = os.Stat(config.VnicInfoPath)
	assert.NoError(err)
}

func TestOverrideStoreFreshStart(t *testing.T) {
	assert := assert.New(t)
	config, cleanup := testStoreConfig(t)
	defer cleanup()

	store := LoadOverrideStore(config)
	assert.Empty(store.Overrides.Exclude)
	assert.Empty(store.Overrides.Deconfig)
	assert.Empty(store.Overrides.SecondaryIPs)
	assert.Nil(store.Overrides.Namespace)
}
