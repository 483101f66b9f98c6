// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/oracle/oci-network-config/netconfig/types"
)

// Table slots for interface tables are drawn from this range; lower numbers
// and the 25x slots belong to the kernel's reserved tables.
const (
	minTableNumber = 10
	maxTableNumber = 254
)

// routeTableRegistry manages the shared routing-table-name registry file
// (rt_tables). The file is a cross-process resource, every edit goes through
// backup-then-replace so a failed write never leaves it corrupted.
type routeTableRegistry struct {
	path string
}

// lookup returns the table number registered under name.
func (r *routeTableRegistry) lookup(name string) (int, bool, error) {
	lines, err := r.readLines()
	if err != nil {
		return 0, false, err
	}

	for _, line := range lines {
		if num, entry, ok := parseTableLine(line); ok && entry == name {
			return num, true, nil
		}
	}
	return 0, false, nil
}

// ensure registers name if needed and returns its table number. The number
// is the lowest free slot in the interface range, so a name maps to the same
// number for as long as it stays registered.
func (r *routeTableRegistry) ensure(name string) (int, error) {
	lines, err := r.readLines()
	if err != nil {
		return 0, err
	}

	used := make(map[int]bool)
	for _, line := range lines {
		num, entry, ok := parseTableLine(line)
		if !ok {
			continue
		}
		if entry == name {
			netLog().WithField("table", name).Debug("Routing table already registered")
			return num, nil
		}
		used[num] = true
	}

	number := -1
	for n := minTableNumber; n < maxTableNumber; n++ {
		if !used[n] {
			number = n
			break
		}
	}
	if number == -1 {
		return 0, fmt.Errorf("no free routing table slot for %s", name)
	}

	lines = append(lines, fmt.Sprintf("%d\t%s", number, name))
	if err := r.replace(lines); err != nil {
		return 0, err
	}

	netLog().WithFields(logrus.Fields{"table": name, "number": number}).Debug("Routing table registered")
	return number, nil
}

// remove unregisters name. Removing an unknown name succeeds.
func (r *routeTableRegistry) remove(name string) error {
	lines, err := r.readLines()
	if err != nil {
		return err
	}

	var kept []string
	found := false
	for _, line := range lines {
		if _, entry, ok := parseTableLine(line); ok && entry == name {
			found = true
			continue
		}
		kept = append(kept, line)
	}

	if !found {
		return nil
	}
	return r.replace(kept)
}

func (r *routeTableRegistry) readLines() ([]string, error) {
	data, err := ioutil.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

// replace rewrites the registry through a backup copy, restoring it when the
// write fails.
func (r *routeTableRegistry) replace(lines []string) error {
	backup := r.path + ".bck"

	original, err := ioutil.ReadFile(r.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	hadOriginal := err == nil

	if hadOriginal {
		if err := ioutil.WriteFile(backup, original, 0644); err != nil {
			return fmt.Errorf("cannot back up %s: %v", r.path, err)
		}
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := ioutil.WriteFile(r.path, []byte(content), 0644); err != nil {
		if hadOriginal {
			if restoreErr := ioutil.WriteFile(r.path, original, 0644); restoreErr != nil {
				netLog().WithError(restoreErr).WithField("path", r.path).Warn("Could not restore registry backup")
			}
		}
		return fmt.Errorf("cannot write %s: %v", r.path, err)
	}

	if hadOriginal {
		os.Remove(backup)
	}
	return nil
}

func parseTableLine(line string) (int, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return 0, "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return 0, "", false
	}
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return num, fields[1], true
}

// routeTableName derives the deterministic table name for an interface:
// physical NIC index plus VLAN tag on bare metal, kernel link index on
// virtual-machine shapes.
func routeTableName(bareMetal bool, intf types.CorrelatedInterface) string {
	if bareMetal {
		return fmt.Sprintf("ort%dvl%d", intf.NicIndex, intf.VlanTag)
	}
	return fmt.Sprintf("ort%d", intf.Index)
}

// policyRouter installs and removes the per-interface policy routing: a
// dedicated table holding the default route plus one source rule per address
// routed through it. Namespaced interfaces only get an in-namespace default
// route, the namespace's routing state dies with the namespace.
type policyRouter struct {
	config    Config
	bareMetal bool
	registry  *routeTableRegistry
}

func newPolicyRouter(config Config, bareMetal bool) *policyRouter {
	return &policyRouter{
		config:    config,
		bareMetal: bareMetal,
		registry:  &routeTableRegistry{path: config.RtTablesPath},
	}
}

// configure sets up routing for one interface. When namespace is non-empty
// the interface has been placed there and gets namespace-scoped routing.
func (p *policyRouter) configure(intf types.CorrelatedInterface, namespace string, startSSHD bool) error {
	if namespace != "" {
		return p.configureNamespaced(intf, namespace, startSSHD)
	}

	device := intf.Iface
	if p.bareMetal && intf.VlanTag != 0 {
		device = vlanDeviceName(intf.Iface, intf.VlanTag)
	}

	tableName := routeTableName(p.bareMetal, intf)
	table, err := p.registry.ensure(tableName)
	if err != nil {
		return err
	}

	link, err := netlink.LinkByName(device)
	if err != nil {
		return fmt.Errorf("cannot find device %s for default route: %v", device, err)
	}

	gw := net.ParseIP(intf.VirtRouter)
	if gw == nil {
		return fmt.Errorf("invalid virtual router address %q for %s", intf.VirtRouter, device)
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Gw:        gw,
		Table:     table,
	}
	if err := netlink.RouteAdd(route); err != nil && !isExistsErr(err) {
		return fmt.Errorf("cannot add default route via %s on %s to table %s: %v", intf.VirtRouter, device, tableName, err)
	}
	netLog().WithFields(logrus.Fields{
		"gateway": intf.VirtRouter,
		"device":  device,
		"table":   tableName,
	}).Debug("Default route added")

	if err := p.addSourceRule(intf.Addr, table); err != nil {
		return err
	}
	netLog().WithFields(logrus.Fields{
		"from":  intf.Addr,
		"table": tableName,
	}).Debug("Source rule added")

	return nil
}

func (p *policyRouter) configureNamespaced(intf types.CorrelatedInterface, namespace string, startSSHD bool) error {
	handle, err := netlinkHandle(p.config.NetNSRunDir, namespace)
	if err != nil {
		return err
	}
	defer handle.Delete()

	gw := net.ParseIP(intf.VirtRouter)
	if gw == nil {
		return fmt.Errorf("invalid virtual router address %q", intf.VirtRouter)
	}
	if err := handle.RouteAdd(&netlink.Route{Gw: gw}); err != nil && !isExistsErr(err) {
		return fmt.Errorf("cannot add namespace %s default gateway %s: %v", namespace, intf.VirtRouter, err)
	}

	if intf.IPv6VirtRouter != "" {
		gw6 := net.ParseIP(intf.IPv6VirtRouter)
		if gw6 == nil {
			return fmt.Errorf("invalid IPv6 virtual router address %q", intf.IPv6VirtRouter)
		}
		if err := handle.RouteAdd(&netlink.Route{Gw: gw6}); err != nil && !isExistsErr(err) {
			return fmt.Errorf("cannot add namespace %s IPv6 default gateway %s: %v", namespace, intf.IPv6VirtRouter, err)
		}
	}

	if startSSHD {
		err := doInNamespace(p.config.NetNSRunDir, namespace, func() error {
			return exec.Command(p.config.SSHDPath).Run()
		})
		if err != nil {
			return fmt.Errorf("cannot start ssh daemon in namespace %s: %v", namespace, err)
		}
		netLog().WithField("namespace", namespace).Debug("sshd started")
	}

	return nil
}

// teardown removes the interface's source rules and its registry entry.
// Namespaced interfaces need nothing, destroying the namespace reclaims
// their routing state.
func (p *policyRouter) teardown(intf types.CorrelatedInterface) error {
	if intf.HasNamespace() {
		return nil
	}

	tableName := routeTableName(p.bareMetal, intf)
	table, found, err := p.registry.lookup(tableName)
	if err != nil {
		return err
	}

	if found {
		if err := p.removeRulesForTable(table); err != nil {
			return err
		}
	}

	return p.registry.remove(tableName)
}

// ensureTable makes sure the interface's routing table exists and returns
// its number; the secondary address manager needs it when a secondary is
// added to an already-routed interface.
func (p *policyRouter) ensureTable(intf types.CorrelatedInterface) (int, error) {
	return p.registry.ensure(routeTableName(p.bareMetal, intf))
}

func (p *policyRouter) addSourceRule(addr string, table int) error {
	rule := netlink.NewRule()
	rule.Src = hostIPNet(addr)
	rule.Table = table

	if err := netlink.RuleAdd(rule); err != nil && !isExistsErr(err) {
		return fmt.Errorf("cannot add rule from %s lookup table %d: %v", addr, table, err)
	}
	return nil
}

func (p *policyRouter) removeRulesForTable(table int) error {
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		rules, err := netlink.RuleList(family)
		if err != nil {
			return err
		}
		for i := range rules {
			if rules[i].Table != table {
				continue
			}
			if err := netlink.RuleDel(&rules[i]); err != nil {
				netLog().WithError(err).WithField("priority", rules[i].Priority).Warn("Could not delete rule")
			}
		}
	}
	return nil
}

// removeRulesForAddress deletes every source rule selecting on addr.
func removeRulesForAddress(addr string) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("invalid address %q", addr)
	}

	family := netlink.FAMILY_V4
	if ip.To4() == nil {
		family = netlink.FAMILY_V6
	}

	rules, err := netlink.RuleList(family)
	if err != nil {
		return err
	}

	for i := range rules {
		if rules[i].Src == nil || !rules[i].Src.IP.Equal(ip) {
			continue
		}
		if err := netlink.RuleDel(&rules[i]); err != nil {
			netLog().WithError(err).WithField("address", addr).Warn("Could not delete rule")
		}
	}
	return nil
}

// hostIPNet returns addr as a single-host network, /32 or /128 by family.
func hostIPNet(addr string) *net.IPNet {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	if ip.To4() != nil {
		return &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

// isExistsErr reports whether a netlink operation failed only because the
// object is already present; the platform reports that as EEXIST.
func isExistsErr(err error) bool {
	if errno, ok := err.(syscall.Errno); ok {
		return errno == unix.EEXIST
	}
	return os.IsExist(err)
}
