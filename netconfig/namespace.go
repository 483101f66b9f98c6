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
	"runtime"
	"strconv"
	"syscall"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// listNamedNamespaces returns the names of the network namespaces currently
// bind-mounted under runDir.
func listNamedNamespaces(runDir string) []string {
	entries, err := ioutil.ReadDir(runDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names
}

// namespaceExists reports whether a named namespace is present.
func namespaceExists(runDir, name string) bool {
	_, err := os.Stat(filepath.Join(runDir, name))
	return err == nil
}

// netlinkHandle returns a netlink handle scoped to the given named namespace,
// or to the default namespace when name is empty. The caller owns the handle.
func netlinkHandle(runDir, name string) (*netlink.Handle, error) {
	if name == "" {
		return netlink.NewHandle()
	}

	nsHandle, err := netns.GetFromPath(filepath.Join(runDir, name))
	if err != nil {
		return nil, fmt.Errorf("could not open namespace %s: %v", name, err)
	}
	defer nsHandle.Close()

	return netlink.NewHandleAt(nsHandle)
}

// createNamedNetNS creates a named network namespace bind-mounted under
// runDir, the way ip-netns(8) does. Creating one that already exists is not
// an error.
func createNamedNetNS(runDir, name string) error {
	if namespaceExists(runDir, name) {
		return nil
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	nsPath := filepath.Join(runDir, name)
	mountPoint, err := os.Create(nsPath)
	if err != nil {
		return err
	}
	mountPoint.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	currentNS, err := netns.Get()
	if err != nil {
		os.Remove(nsPath)
		return err
	}
	defer currentNS.Close()

	newNS, err := netns.New()
	if err != nil {
		os.Remove(nsPath)
		return fmt.Errorf("could not create namespace %s: %v", name, err)
	}
	defer newNS.Close()
	defer netns.Set(currentNS)

	if err := unix.Mount("/proc/self/ns/net", nsPath, "none", unix.MS_BIND, ""); err != nil {
		os.Remove(nsPath)
		return fmt.Errorf("could not mount namespace %s: %v", name, err)
	}

	return nil
}

// deleteNamedNetNS unmounts and removes a named network namespace. Routing
// state scoped to the namespace is reclaimed by the kernel.
func deleteNamedNetNS(runDir, name string) error {
	nsPath := filepath.Join(runDir, name)

	if err := unix.Unmount(nsPath, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("Failed to unmount namespace %s: %v", nsPath, err)
	}
	if err := os.RemoveAll(nsPath); err != nil {
		return fmt.Errorf("Failed to clean up namespace %s: %v", nsPath, err)
	}

	return nil
}

// doInNamespace runs cb with the current thread switched into the named
// namespace. Calls with an empty name run in the current namespace.
func doInNamespace(runDir, name string, cb func() error) error {
	if name == "" {
		return cb()
	}

	return ns.WithNetNSPath(filepath.Join(runDir, name), func(_ ns.NetNS) error {
		return cb()
	})
}

// killNamespaceProcesses sends SIGKILL to every process whose network
// namespace is the named one. Processes must be gone before the namespace
// mount can be released.
func killNamespaceProcesses(runDir, name string) {
	nsStat, err := os.Stat(filepath.Join(runDir, name))
	if err != nil {
		return
	}
	nsIno := nsStat.Sys().(*syscall.Stat_t).Ino

	procs, err := ioutil.ReadDir("/proc")
	if err != nil {
		return
	}

	for _, proc := range procs {
		pid, err := strconv.Atoi(proc.Name())
		if err != nil {
			continue
		}

		procStat, err := os.Stat(fmt.Sprintf("/proc/%d/ns/net", pid))
		if err != nil {
			continue
		}
		if procStat.Sys().(*syscall.Stat_t).Ino != nsIno {
			continue
		}

		netLog().WithField("pid", pid).WithField("namespace", name).Debug("Killing process left in namespace")
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			netLog().WithError(err).WithField("pid", pid).Warn("Could not terminate process")
		}
	}
}
