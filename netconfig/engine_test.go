// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oracle/oci-network-config/netconfig/types"
)

func testManager(t *testing.T) (*Manager, func()) {
	config, cleanup := testStoreConfig(t)
	return NewManagerWithMetadata(config, testMetadata()), cleanup
}

func TestAutoConfigNoMetadata(t *testing.T) {
	assert := assert.New(t)
	config, cleanup := testStoreConfig(t)
	defer cleanup()

	manager := NewManagerWithMetadata(config, nil)
	assert.Error(manager.AutoConfig(nil, true))
}

func TestSecondaryMap(t *testing.T) {
	assert := assert.New(t)

	out := secondaryMap([]SecondaryAssignment{
		{Address: "10.0.0.5", VnicID: "ocid1.vnic.a"},
		{Address: "10.0.0.6", VnicID: "ocid1.vnic.a"},
		{Address: "10.0.1.5", VnicID: "ocid1.vnic.b"},
	})
	assert.Equal([]string{"10.0.0.5", "10.0.0.6"}, out["ocid1.vnic.a"])
	assert.Equal([]string{"10.0.1.5"}, out["ocid1.vnic.b"])

	assert.Empty(secondaryMap(nil))
}

func TestNamespaceRequest(t *testing.T) {
	assert := assert.New(t)
	manager, cleanup := testManager(t)
	defer cleanup()

	intf := types.CorrelatedInterface{Iface: "ens3"}

	// No namespace configured.
	ns, sshd := manager.namespaceRequest(intf)
	assert.Equal("", ns)
	assert.False(sshd)

	// Empty name means one namespace per interface.
	empty := ""
	manager.store.Overrides.Namespace = &empty
	ns, _ = manager.namespaceRequest(intf)
	assert.Equal("onsens3", ns)

	fixed := "myns"
	manager.store.Overrides.Namespace = &fixed
	manager.store.Overrides.StartSSHD = true
	ns, sshd = manager.namespaceRequest(intf)
	assert.Equal("myns", ns)
	assert.True(sshd)
}

func TestManagerOverrideBookkeeping(t *testing.T) {
	assert := assert.New(t)
	manager, cleanup := testManager(t)
	defer cleanup()

	assert.NoError(manager.Exclude("ens3"))
	assert.True(manager.Overrides().IsExcluded("ens3"))
	// Double exclusion does not rewrite the store.
	assert.NoError(manager.Exclude("ens3"))

	assert.NoError(manager.Include("ens3"))
	assert.False(manager.Overrides().IsExcluded("ens3"))

	assert.NoError(manager.MarkDeconfigured("ocid1.vnic.second"))
	assert.True(manager.Overrides().IsDeconfigured("ocid1.vnic.second"))
	assert.NoError(manager.ClearDeconfigured("ocid1.vnic.second"))
	assert.False(manager.Overrides().IsDeconfigured("ocid1.vnic.second"))
}

func TestManagerMetadataAccess(t *testing.T) {
	assert := assert.New(t)
	manager, cleanup := testManager(t)
	defer cleanup()

	md := manager.Metadata()
	if assert.NotNil(md) {
		assert.Len(md.VNICs, 2)
	}
}
