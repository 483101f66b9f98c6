// Copyright (c) 2020 Oracle and/or its affiliates. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0
//

// Package cache implements the persisted JSON stores shared between the
// background refresh daemon and the interactive commands. Every read takes a
// shared advisory lock and every write an exclusive one, held for the whole
// read-modify-write cycle, so concurrent invocations serialize at the file
// level.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNoCache is returned when no usable cache file exists.
var ErrNoCache = errors.New("no cache file")

// Timestamp returns the last modification time of path, or the zero time if
// the file does not exist.
func Timestamp(path string) time.Time {
	if path == "" {
		return time.Time{}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}

	return fi.ModTime()
}

// Newer returns whichever of the two paths has the most recent modification
// time. Missing files are ignored; an empty string means neither exists.
func Newer(path1, path2 string) string {
	ts1 := Timestamp(path1)
	ts2 := Timestamp(path2)

	if ts1.IsZero() && ts2.IsZero() {
		return ""
	}
	if ts1.After(ts2) {
		return path1
	}
	return path2
}

// Load decodes the newer of the two cache files into v under a shared lock.
// userPath may be empty. If maxAge is non-zero and the file is older, the
// cache is treated as missing.
func Load(globalPath, userPath string, maxAge time.Duration, v interface{}) (time.Time, error) {
	path := Newer(globalPath, userPath)
	if path == "" {
		return time.Time{}, ErrNoCache
	}

	ts := Timestamp(path)
	if maxAge != 0 && time.Now().After(ts.Add(maxAge)) {
		return time.Time{}, ErrNoCache
	}

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, ErrNoCache
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return time.Time{}, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return time.Time{}, err
	}

	return ts, nil
}

// Write encodes v as JSON into path, falling back to fallbackPath when path
// is not writable. The exclusive lock is held across the truncate and the
// write. Returns the resulting file timestamp.
func Write(v interface{}, path, fallbackPath string, mode os.FileMode) (time.Time, error) {
	f, used, err := createCacheFile(path, mode)
	if err != nil {
		if fallbackPath == "" {
			return time.Time{}, err
		}
		f, used, err = createCacheFile(fallbackPath, mode)
		if err != nil {
			return time.Time{}, err
		}
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return time.Time{}, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return time.Time{}, err
	}

	if err := json.NewEncoder(f).Encode(v); err != nil {
		return time.Time{}, err
	}

	if err := f.Sync(); err != nil {
		return time.Time{}, err
	}

	return Timestamp(used), nil
}

func createCacheFile(path string, mode os.FileMode) (*os.File, string, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, "", err
		}
	}

	if mode == 0 {
		mode = 0644
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, "", err
	}

	return f, path, nil
}
