// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package engine wires the store, mirror, and HA managers together for the
// cross-cutting operations the command surface needs: a put that triggers
// a best-effort mirror sync and parity refresh, a get that falls back to
// HA reconstruction when its store is destroyed, and a destroy that
// dispatches to the right manager depending on what the target store
// participates in.
package engine

import (
	"fmt"
	"io"

	log "github.com/golang/glog"

	"heartystore/internal/ha"
	"heartystore/internal/herrors"
	"heartystore/internal/layout"
	"heartystore/internal/mirror"
	"heartystore/internal/store"
)

// Engine is the top-level entry point the command surface calls into.
type Engine struct {
	Store  *store.Engine
	Mirror *mirror.Manager
	HA     *ha.Manager
}

// New builds an Engine rooted at base with the given block geometry.
func New(base string, blockSize uint64, numBlocks int) *Engine {
	return &Engine{
		Store:  store.New(base, blockSize, numBlocks),
		Mirror: mirror.New(base, blockSize, numBlocks),
		HA:     ha.New(base, blockSize, numBlocks),
	}
}

// Init creates a fresh store.
func (e *Engine) Init(id int) error {
	return e.Store.Init(id)
}

// Put writes a payload to id's store, then best-effort syncs its mirror
// and refreshes its HA group's parity. A side-effect failure is logged
// and does not undo the put, exactly as the baseline contract requires.
func (e *Engine) Put(id int, r io.Reader, size int64) (string, error) {
	res, err := e.Store.Put(id, r, size)
	if err != nil {
		return "", err
	}

	if res.Header.IsReplica || res.Header.ReplicaOf != -1 {
		if err := e.Mirror.Sync(id); err != nil {
			log.Warningf("put %d: failed to sync with replica: %s", id, err)
		}
	}
	if res.Header.HAGroupID != -1 {
		if err := e.HA.UpdateParity(id); err != nil {
			log.Warningf("put %d: failed to update parity: %s", id, err)
		}
	}
	return res.ObjectID, nil
}

// Get reads an object's payload. If the store is destroyed, it attempts
// HA reconstruction of the object's block before giving up; a destroyed
// mirror participant never reaches this path, since mirror destroy
// removes both sides' directories outright rather than tombstoning one.
func (e *Engine) Get(id int, objectID string) ([]byte, error) {
	h, err := e.Store.Header(id)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindNotFound, fmt.Sprintf("store %d does not exist", id), err)
	}

	if !h.IsDestroyed {
		return e.Store.Get(id, objectID)
	}

	idx, _, ok, err := e.Store.FindObject(id, objectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, herrors.New(herrors.KindNotFound, fmt.Sprintf("object not found: %s", objectID))
	}
	data, err := e.HA.Reconstruct(id, idx)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindReconstruction, "store is destroyed and reconstruction failed", err)
	}
	return data, nil
}

// List enumerates every store under the base directory.
func (e *Engine) List() ([]store.Record, error) {
	return e.Store.List()
}

// Replicate creates a mirror of an existing store.
func (e *Engine) Replicate(sourceID int) (int, error) {
	return e.Mirror.Replicate(sourceID)
}

// CreateHAGroup forms an HA group from the given members.
func (e *Engine) CreateHAGroup(members []int) (int, error) {
	return e.HA.Create(members)
}

// Destroy removes or tombstones id, dispatching to the mirror or HA
// manager depending on what id participates in. A store that is neither
// is removed outright.
func (e *Engine) Destroy(id int) error {
	h, err := e.Store.Header(id)
	if err != nil {
		return herrors.Wrap(herrors.KindNotFound, fmt.Sprintf("store %d does not exist", id), err)
	}

	switch {
	case h.HAGroupID != -1:
		return e.HA.Destroy(id)
	case h.IsReplica || h.ReplicaOf != -1:
		return e.Mirror.Destroy(id)
	default:
		return layout.RemoveStore(e.Store.Base, id)
	}
}
