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

func testDeclared(mac string) types.DeclaredInterface {
	return types.DeclaredInterface{
		MAC:          types.NormalizeMAC(mac),
		Addr:         "10.0.0.2",
		SubnetPrefix: "10.0.0.0",
		SubnetBits:   24,
		VirtRouter:   "10.0.0.1",
		VlanTag:      5,
		VnicID:       "ocid1.vnic.test",
	}
}

func TestCorrelateDeclaredOnly(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	decl.SecondaryAddrs = []string{"10.0.0.5", "10.0.0.6"}

	correlated := Correlate([]types.DeclaredInterface{decl}, nil, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateAdd, correlated[0].State)
	assert.Equal("AA:BB:CC:00:01:02", correlated[0].MAC)
	assert.Equal([]string{"10.0.0.5", "10.0.0.6"}, correlated[0].MissingSecondaryAddrs)
	assert.Empty(correlated[0].Iface)
}

func TestCorrelateSingleMatch(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	observed := map[string][]types.SystemInterface{
		"": {
			{
				MAC:        "AA:BB:CC:00:01:02",
				Device:     "ens3",
				Index:      2,
				OperState:  "up",
				Addr:       "10.0.0.2",
				SubnetBits: 24,
			},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateUnchanged, correlated[0].State)
	assert.Equal("ens3", correlated[0].Iface)
	assert.Equal(2, correlated[0].Index)
	assert.Equal("10.0.0.2", correlated[0].Addr)
	assert.Equal("ocid1.vnic.test", correlated[0].VnicID)
}

func TestCorrelateSingleMatchNoAddr(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	observed := map[string][]types.SystemInterface{
		"": {
			{MAC: "AA:BB:CC:00:01:02", Device: "ens3", Index: 2, OperState: "down"},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateAdd, correlated[0].State)
	assert.Equal("ens3", correlated[0].Iface)
}

func TestCorrelateBareMetalChain(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	decl.SecondaryAddrs = []string{"10.0.0.5"}

	observed := map[string][]types.SystemInterface{
		"": {
			{
				MAC:       "AA:BB:CC:00:01:02",
				Device:    "ens1.5",
				Index:     7,
				LinkType:  "macvlan",
				Link:      "ens1",
				OperState: "up",
			},
			{
				MAC:            "AA:BB:CC:00:01:02",
				Device:         "ens1v5",
				Index:          8,
				LinkType:       "vlan",
				Link:           "ens1.5",
				VlanID:         5,
				Addr:           "10.0.0.2",
				SubnetBits:     24,
				SecondaryAddrs: []string{"10.0.0.5"},
			},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	c := correlated[0]
	assert.Equal(types.StateUnchanged, c.State)
	assert.Equal("ens1", c.Iface)
	assert.Equal("ens1v5", c.Vlan)
	assert.Equal("10.0.0.2", c.Addr)
	assert.Equal([]string{"10.0.0.5"}, c.SecondaryAddrs)
	assert.Empty(c.MissingSecondaryAddrs)
}

func TestCorrelateBareMetalChainNoAddr(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	observed := map[string][]types.SystemInterface{
		"": {
			{MAC: "AA:BB:CC:00:01:02", Device: "ens1.5", LinkType: "macvlan", Link: "ens1"},
			{MAC: "AA:BB:CC:00:01:02", Device: "ens1v5", LinkType: "vlan", Link: "ens1.5", VlanID: 5},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateAdd, correlated[0].State)
	assert.Equal("ens1", correlated[0].Iface)
	assert.Equal("ens1v5", correlated[0].Vlan)
}

func TestCorrelateAmbiguousNoPair(t *testing.T) {
	assert := assert.New(t)

	// Two plain ether links share the declared MAC but form no macvlan/vlan
	// chain; the first candidate wins.
	decl := testDeclared("AA:BB:CC:00:01:02")
	observed := map[string][]types.SystemInterface{
		"": {
			{MAC: "AA:BB:CC:00:01:02", Device: "ens3", Index: 2, Addr: "10.0.0.2", SubnetBits: 24},
			{MAC: "AA:BB:CC:00:01:02", Device: "ens4", Index: 3},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateUnchanged, correlated[0].State)
	assert.Equal("ens3", correlated[0].Iface)
	assert.Equal(2, correlated[0].Index)
	assert.Equal("10.0.0.2", correlated[0].Addr)
}

func TestCorrelateLeftovers(t *testing.T) {
	assert := assert.New(t)

	observed := map[string][]types.SystemInterface{
		"": {
			{MAC: "AA:BB:CC:00:01:03", Device: "ens4", Addr: "10.0.1.2"},
			{MAC: "AA:BB:CC:00:01:04", Device: "ens5", IsVirtFn: true},
		},
	}

	correlated := Correlate(nil, observed, nil)
	assert.Len(correlated, 2)
	assert.Equal(types.StateDelete, correlated[0].State)
	assert.Equal("ens4", correlated[0].Iface)
	assert.Equal(types.StateUnchanged, correlated[1].State)
	assert.True(correlated[1].IsVirtFn)
}

func TestCorrelateExclusionPrecedence(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	observed := map[string][]types.SystemInterface{
		"": {
			{MAC: "AA:BB:CC:00:01:02", Device: "ens3", Addr: "10.0.0.2", SubnetBits: 24},
			{MAC: "AA:BB:CC:00:01:09", Device: "ens9"},
		},
	}

	overrides := newOverrides()
	overrides.AddExclude("ocid1.vnic.test")
	overrides.AddExclude("ens9")

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, overrides)
	assert.Len(correlated, 2)
	assert.Equal(types.StateExcluded, correlated[0].State)
	assert.Equal(types.StateExcluded, correlated[1].State)
}

func TestCorrelateExcludeByAddress(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	overrides := newOverrides()
	overrides.AddExclude("10.0.0.2")

	correlated := Correlate([]types.DeclaredInterface{decl}, nil, overrides)
	assert.Len(correlated, 1)
	assert.Equal(types.StateExcluded, correlated[0].State)
}

func TestCorrelateMissingSecondaries(t *testing.T) {
	assert := assert.New(t)

	decl := testDeclared("AA:BB:CC:00:01:02")
	decl.SecondaryAddrs = []string{"10.0.0.5", "10.0.0.6"}
	observed := map[string][]types.SystemInterface{
		"": {
			{
				MAC:            "AA:BB:CC:00:01:02",
				Device:         "ens3",
				Addr:           "10.0.0.2",
				SubnetBits:     24,
				SecondaryAddrs: []string{"10.0.0.5"},
			},
		},
	}

	correlated := Correlate([]types.DeclaredInterface{decl}, observed, nil)
	assert.Len(correlated, 1)
	assert.Equal(types.StateUnchanged, correlated[0].State)
	assert.Equal([]string{"10.0.0.6"}, correlated[0].MissingSecondaryAddrs)
}

func TestCorrelateNamespaceOrdering(t *testing.T) {
	assert := assert.New(t)

	observed := map[string][]types.SystemInterface{
		"onsens5": {{MAC: "AA:BB:CC:00:00:02", Device: "ens5", Namespace: "onsens5"}},
		"":        {{MAC: "AA:BB:CC:00:00:01", Device: "ens4"}},
	}

	correlated := Correlate(nil, observed, nil)
	assert.Len(correlated, 2)
	assert.Equal("ens4", correlated[0].Iface)
	assert.Equal("ens5", correlated[1].Iface)
	assert.Equal("onsens5", correlated[1].Namespace)
}

func TestCorrelatePrimaryFirst(t *testing.T) {
	assert := assert.New(t)

	primary := testDeclared("AA:BB:CC:00:00:01")
	primary.IsPrimary = true
	secondary := testDeclared("AA:BB:CC:00:00:02")

	correlated := Correlate([]types.DeclaredInterface{primary, secondary}, nil, nil)
	assert.Len(correlated, 2)
	assert.True(correlated[0].IsPrimary)
	assert.False(correlated[1].IsPrimary)
}
