// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oracle/oci-network-config/netconfig/types"
)

func testRegistry(t *testing.T) (*routeTableRegistry, func()) {
	dir, err := ioutil.TempDir("", "rt-tables-")
	assert.NoError(t, err)
	return &routeTableRegistry{path: filepath.Join(dir, "rt_tables")}, func() { os.RemoveAll(dir) }
}

func TestRouteTableName(t *testing.T) {
	assert := assert.New(t)

	intf := types.CorrelatedInterface{NicIndex: 1, HasNicIndex: true, VlanTag: 5, Index: 3}
	assert.Equal("ort1vl5", routeTableName(true, intf))
	assert.Equal("ort3", routeTableName(false, intf))

	// Same interface, same name, always.
	assert.Equal(routeTableName(true, intf), routeTableName(true, intf))
}

func TestRegistryEnsure(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	num, err := registry.ensure("ort0vl1")
	assert.NoError(err)
	assert.Equal(minTableNumber, num)

	// Re-registering returns the same slot without growing the file.
	again, err := registry.ensure("ort0vl1")
	assert.NoError(err)
	assert.Equal(num, again)

	lines, err := registry.readLines()
	assert.NoError(err)
	assert.Len(lines, 1)

	next, err := registry.ensure("ort0vl2")
	assert.NoError(err)
	assert.Equal(minTableNumber+1, next)
}

func TestRegistryEnsureSkipsUsedSlots(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	content := "255\tlocal\n254\tmain\n10\tort0vl1\n12\tort0vl3\n"
	assert.NoError(ioutil.WriteFile(registry.path, []byte(content), 0644))

	num, err := registry.ensure("ort0vl2")
	assert.NoError(err)
	assert.Equal(11, num)
}

func TestRegistryLookup(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	content := "# reserved\n255\tlocal\n42\tort1vl7\n"
	assert.NoError(ioutil.WriteFile(registry.path, []byte(content), 0644))

	num, found, err := registry.lookup("ort1vl7")
	assert.NoError(err)
	assert.True(found)
	assert.Equal(42, num)

	_, found, err = registry.lookup("ort9vl9")
	assert.NoError(err)
	assert.False(found)
}

func TestRegistryRemove(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	content := "255\tlocal\n10\tort0vl1\n11\tort0vl2\n"
	assert.NoError(ioutil.WriteFile(registry.path, []byte(content), 0644))

	assert.NoError(registry.remove("ort0vl1"))

	data, err := ioutil.ReadFile(registry.path)
	assert.NoError(err)
	assert.NotContains(string(data), "ort0vl1")
	assert.Contains(string(data), "ort0vl2")
	assert.Contains(string(data), "local")

	// Removing an unknown name is not an error.
	assert.NoError(registry.remove("ort9vl9"))
}

func TestRegistryRemoveLeavesNoBackup(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	assert.NoError(ioutil.WriteFile(registry.path, []byte("10\tort0vl1\n"), 0644))
	assert.NoError(registry.remove("ort0vl1"))

	_, err := os.Stat(registry.path + ".bck")
	assert.True(os.IsNotExist(err))
}

func TestRegistrySlotExhaustion(t *testing.T) {
	assert := assert.New(t)
	registry, cleanup := testRegistry(t)
	defer cleanup()

	var lines []string
	for n := minTableNumber; n < maxTableNumber; n++ {
		lines = append(lines, fmt.Sprintf("%d\ttbl%d", n, n))
	}
	content := strings.Join(lines, "\n") + "\n"
	assert.NoError(ioutil.WriteFile(registry.path, []byte(content), 0644))

	_, err := registry.ensure("ort0vl1")
	assert.Error(err)
}

func TestParseTableLine(t *testing.T) {
	assert := assert.New(t)

	num, name, ok := parseTableLine("254\tmain")
	assert.True(ok)
	assert.Equal(254, num)
	assert.Equal("main", name)

	num, name, ok = parseTableLine("  10   ort0vl1  ")
	assert.True(ok)
	assert.Equal(10, num)
	assert.Equal("ort0vl1", name)

	_, _, ok = parseTableLine("# comment")
	assert.False(ok)

	_, _, ok = parseTableLine("")
	assert.False(ok)

	_, _, ok = parseTableLine("notanumber main")
	assert.False(ok)
}

func TestHostIPNet(t *testing.T) {
	assert := assert.New(t)

	v4 := hostIPNet("10.0.0.5")
	assert.NotNil(v4)
	assert.Equal("10.0.0.5/32", v4.String())

	v6 := hostIPNet("fd00::5")
	assert.NotNil(v6)
	assert.Equal("fd00::5/128", v6.String())

	assert.Nil(hostIPNet("bogus"))
}
