// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

package netconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oracle/oci-network-config/pkg/cache"
)

// SecondaryAssignment is one operator-requested (address, VNIC) pair. The
// on-disk form is a two-element array for compatibility with existing
// vnic_info files.
type SecondaryAssignment struct {
	Address string
	VnicID  string
}

// MarshalJSON encodes the assignment as ["address", "vnic-id"].
func (s SecondaryAssignment) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{s.Address, s.VnicID})
}

// UnmarshalJSON decodes the two-element array form.
func (s *SecondaryAssignment) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	s.Address = pair[0]
	s.VnicID = pair[1]
	return nil
}

// Overrides is the persisted set of operator decisions consulted by the
// correlator and the reconciler. Tokens in Exclude and Deconfig may be a
// device name, a VNIC id, or an IP address.
type Overrides struct {
	Exclude      []string              `json:"exclude"`
	Deconfig     []string              `json:"deconfig"`
	SecondaryIPs []SecondaryAssignment `json:"sec_priv_ip"`
	Namespace    *string               `json:"ns,omitempty"`
	StartSSHD    bool                  `json:"sshd,omitempty"`
}

func newOverrides() *Overrides {
	return &Overrides{
		Exclude:      []string{},
		Deconfig:     []string{},
		SecondaryIPs: []SecondaryAssignment{},
	}
}

// Matches reports whether any of the given tokens is in the list.
func matchesAny(list []string, tokens ...string) bool {
	for _, entry := range list {
		for _, token := range tokens {
			if token != "" && entry == token {
				return true
			}
		}
	}
	return false
}

// IsExcluded reports whether any token names an excluded interface.
func (o *Overrides) IsExcluded(tokens ...string) bool {
	return matchesAny(o.Exclude, tokens...)
}

// IsDeconfigured reports whether any token names a deconfigured interface.
func (o *Overrides) IsDeconfigured(tokens ...string) bool {
	return matchesAny(o.Deconfig, tokens...)
}

// AddExclude puts item on the exclusion list.
func (o *Overrides) AddExclude(item string) bool {
	if matchesAny(o.Exclude, item) {
		return false
	}
	o.Exclude = append(o.Exclude, item)
	return true
}

// RemoveExclude takes item off the exclusion list.
func (o *Overrides) RemoveExclude(item string) bool {
	return removeItem(&o.Exclude, item)
}

// AddDeconfig marks item as explicitly deconfigured.
func (o *Overrides) AddDeconfig(item string) bool {
	if matchesAny(o.Deconfig, item) {
		return false
	}
	o.Deconfig = append(o.Deconfig, item)
	return true
}

// RemoveDeconfig clears the deconfigured mark from every token given.
func (o *Overrides) RemoveDeconfig(tokens ...string) bool {
	changed := false
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if removeItem(&o.Deconfig, token) {
			changed = true
		}
	}
	return changed
}

func removeItem(list *[]string, item string) bool {
	for i, entry := range *list {
		if entry == item {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// AddSecondaryIP records an operator-requested secondary address.
func (o *Overrides) AddSecondaryIP(addr, vnicID string) bool {
	for _, s := range o.SecondaryIPs {
		if s.Address == addr && s.VnicID == vnicID {
			return false
		}
	}
	o.SecondaryIPs = append(o.SecondaryIPs, SecondaryAssignment{Address: addr, VnicID: vnicID})
	return true
}

// RemoveSecondaryIP drops an operator-requested secondary address.
func (o *Overrides) RemoveSecondaryIP(addr, vnicID string) bool {
	for i, s := range o.SecondaryIPs {
		if s.Address == addr && s.VnicID == vnicID {
			o.SecondaryIPs = append(o.SecondaryIPs[:i], o.SecondaryIPs[i+1:]...)
			return true
		}
	}
	return false
}

// SecondaryIPsForVnic returns the assignments targeting one VNIC.
func (o *Overrides) SecondaryIPsForVnic(vnicID string) []SecondaryAssignment {
	var out []SecondaryAssignment
	for _, s := range o.SecondaryIPs {
		if s.VnicID == vnicID {
			out = append(out, s)
		}
	}
	return out
}

// OverrideStore persists Overrides through the locked cache primitive.
type OverrideStore struct {
	config    Config
	Overrides *Overrides
	Timestamp time.Time
}

// LoadOverrideStore reads the persisted overrides, creating a fresh set when
// no file exists yet. A legacy net_exclude file, if present, seeds the
// exclusion list and is removed.
func LoadOverrideStore(config Config) *OverrideStore {
	store := &OverrideStore{config: config, Overrides: newOverrides()}

	ts, err := cache.Load(config.VnicInfoPath, "", 0, store.Overrides)
	if err == nil {
		store.Timestamp = ts
		return store
	}
	if err != cache.ErrNoCache {
		netLog().WithError(err).WithField("path", config.VnicInfoPath).Warn("Could not read vnic info, starting fresh")
	}

	store.Overrides = newOverrides()
	store.migrateNetExclude()

	return store
}

func (s *OverrideStore) migrateNetExclude() {
	var excludes []string
	if _, err := cache.Load(s.config.NetExcludePath, "", 0, &excludes); err != nil {
		return
	}

	netLog().WithField("path", s.config.NetExcludePath).Info("Migrating legacy exclusion file")
	s.Overrides.Exclude = excludes
	if err := s.Save(); err != nil {
		netLog().WithError(err).Warn("Could not save migrated vnic info")
		return
	}

	if err := os.Remove(s.config.NetExcludePath); err != nil {
		netLog().WithError(err).WithField("path", s.config.NetExcludePath).Debug("Could not remove legacy exclusion file")
	}
}

// Save persists the in-memory overrides. In-memory state stays applied even
// when persistence fails.
func (s *OverrideStore) Save() error {
	ts, err := cache.Write(s.Overrides, s.config.VnicInfoPath, "", 0644)
	if err != nil {
		return fmt.Errorf("could not save vnic info to %s: %v", s.config.VnicInfoPath, err)
	}
	s.Timestamp = ts
	return nil
}
