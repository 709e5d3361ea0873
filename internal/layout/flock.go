// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package layout

import (
	"os"

	"golang.org/x/sys/unix"

	"heartystore/internal/herrors"
)

// StoreLock is a held advisory lock on a store's metadata file. Release
// must be called to drop it.
type StoreLock struct {
	f *os.File
}

// WithFlock takes an exclusive advisory lock on a store's metadata file,
// to be held across a multi-step mutation (e.g. a mirror Sync reading one
// side and writing the other). It is an opt-in upgrade over the baseline
// single-process-at-a-time contract. No command path calls it, and
// config.LockEnabled does not switch it on: the store, mirror, HA and
// engine packages run without any lock.
func WithFlock(base string, id int) (*StoreLock, error) {
	f, err := os.OpenFile(MetaPath(base, id), os.O_RDONLY, 0644)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindIO, "open metadata file for lock", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, herrors.Wrap(herrors.KindIO, "acquire advisory lock", err)
	}
	return &StoreLock{f: f}, nil
}

// Release drops the advisory lock and closes the underlying file handle.
func (l *StoreLock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return herrors.Wrap(herrors.KindIO, "release advisory lock", err)
	}
	return l.f.Close()
}
