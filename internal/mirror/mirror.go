// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package mirror manages mirrored-pair redundancy: creating a full byte-
// for-byte replica of a store, keeping both sides in sync after a put, and
// tearing down both sides together when either is destroyed.
//
// Grounded on hearty-store-replicate.cpp (replica creation) and the
// syncWithReplica method of hearty-store-put.cpp (post-put resync).
package mirror

import (
	"fmt"
	"math/rand/v2"
	"os"

	log "github.com/golang/glog"

	"heartystore/internal/herrors"
	"heartystore/internal/layout"
)

// Manager ties mirror operations to one base directory and block geometry.
type Manager struct {
	Base      string
	BlockSize uint64
	NumBlocks int
}

func New(base string, blockSize uint64, numBlocks int) *Manager {
	return &Manager{Base: base, BlockSize: blockSize, NumBlocks: numBlocks}
}

// Replicate creates a full replica of sourceID under a freshly generated
// store id and returns that id. The source store must exist and must not
// already be part of a mirror pair (is_replica or replica_of set).
func (m *Manager) Replicate(sourceID int) (replicaID int, err error) {
	if !layout.StoreExists(m.Base, sourceID) {
		return 0, herrors.New(herrors.KindNotFound, fmt.Sprintf("source store %d does not exist", sourceID))
	}

	h, err := layout.ReadHeader(m.Base, sourceID)
	if err != nil {
		return 0, err
	}
	if h.IsReplica || h.ReplicaOf != -1 {
		return 0, herrors.New(herrors.KindPrecondition, "store is already part of a replica pair")
	}
	if h.HAGroupID != -1 {
		return 0, herrors.New(herrors.KindPrecondition, "store is part of an HA group")
	}

	replicaID = m.generateReplicaID()

	path := layout.StorePath(m.Base, replicaID)
	if mkErr := os.MkdirAll(path, 0755); mkErr != nil {
		return 0, herrors.Wrap(herrors.KindIO, "create replica directory", mkErr)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(path)
		}
	}()

	descs, err := m.copyData(sourceID, replicaID)
	if err != nil {
		return 0, err
	}

	replicaHeader := h
	replicaHeader.StoreID = int32(replicaID)
	replicaHeader.IsReplica = true
	replicaHeader.ReplicaOf = int32(sourceID)
	if err = layout.WriteMetadataImage(m.Base, replicaID, replicaHeader, descs); err != nil {
		return 0, err
	}

	h.ReplicaOf = int32(replicaID)
	if err = layout.WriteHeader(m.Base, sourceID, h); err != nil {
		return 0, err
	}

	return replicaID, nil
}

// copyData copies sourceID's data file block by block into replicaID's
// data file, and returns sourceID's descriptor array (the replica's
// descriptors start as an exact copy of the source's).
func (m *Manager) copyData(sourceID, replicaID int) ([]layout.BlockDescriptor, error) {
	if err := layout.CreateZeroedFile(layout.DataPath(m.Base, replicaID), m.NumBlocks, m.BlockSize); err != nil {
		return nil, err
	}
	for k := 0; k < m.NumBlocks; k++ {
		block, err := layout.ReadFullBlock(m.Base, sourceID, k, m.BlockSize)
		if err != nil {
			return nil, err
		}
		if err := layout.WriteBlock(m.Base, replicaID, k, block, m.BlockSize); err != nil {
			return nil, err
		}
	}
	return layout.ReadAllDescriptors(m.Base, sourceID, m.NumBlocks)
}

// Sync replays storeID's full data region and descriptor array onto its
// mirror partner, and rewrites the partner's header as a copy of
// storeID's with is_replica flipped to the opposite of storeID's and
// replica_of pointing back at storeID, so the pair keeps its existing
// source/replica roles whichever side was written. This is the
// whole-descriptor-array resync that the original omits (it only copies
// the fixed-size store header, leaving the partner's descriptor array to
// drift stale); see DESIGN.md.
//
// Sync is meant to be called as a best-effort post-put step: failures are
// logged by the caller and never undo the local put.
func (m *Manager) Sync(storeID int) error {
	h, err := layout.ReadHeader(m.Base, storeID)
	if err != nil {
		return err
	}
	if !h.IsReplica && h.ReplicaOf == -1 {
		return nil
	}
	relatedID := int(h.ReplicaOf)

	descs, err := layout.ReadAllDescriptors(m.Base, storeID, m.NumBlocks)
	if err != nil {
		return err
	}
	for k := 0; k < m.NumBlocks; k++ {
		block, err := layout.ReadFullBlock(m.Base, storeID, k, m.BlockSize)
		if err != nil {
			return err
		}
		if err := layout.WriteBlock(m.Base, relatedID, k, block, m.BlockSize); err != nil {
			return err
		}
	}

	related := h
	related.StoreID = int32(relatedID)
	if h.IsReplica {
		related.IsReplica = false
		related.ReplicaOf = int32(storeID)
	} else {
		related.IsReplica = true
		related.ReplicaOf = int32(storeID)
	}
	return layout.WriteMetadataImage(m.Base, relatedID, related, descs)
}

// Destroy removes both sides of a mirror pair. storeID must currently be
// part of a mirror pair. Per the original's destroy semantics, a mirror
// destroy never leaves a tombstoned header behind the way HA destroy
// does: the whole pair is unlinked.
func (m *Manager) Destroy(storeID int) error {
	h, err := layout.ReadHeader(m.Base, storeID)
	if err != nil {
		return err
	}
	if !h.IsReplica && h.ReplicaOf == -1 {
		return herrors.New(herrors.KindPrecondition, "store is not part of a replica pair")
	}
	relatedID := int(h.ReplicaOf)

	dirs := []string{layout.StorePath(m.Base, storeID)}
	if layout.StoreExists(m.Base, relatedID) {
		dirs = append(dirs, layout.StorePath(m.Base, relatedID))
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			return herrors.Wrap(herrors.KindIO, "remove store directory", err)
		}
	}
	log.Infof("mirror destroy: removed store %d and partner %d", storeID, relatedID)
	return nil
}

// generateReplicaID picks a random id in [1000, 9999] not already in use,
// matching the original's mt19937-backed uniform_int_distribution(1000,
// 9999); math/rand/v2's package-level IntN is auto-seeded.
func (m *Manager) generateReplicaID() int {
	for {
		id := rand.IntN(9000) + 1000
		if !layout.StoreExists(m.Base, id) {
			return id
		}
	}
}
