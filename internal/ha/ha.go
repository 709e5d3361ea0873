// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package ha manages HA-group redundancy: XOR-parity groups of two or
// more stores, degraded reads reconstructed from parity and surviving
// members, and the destroy/reap state machine that dissolves a group once
// a second member is lost.
//
// Grounded on hearty-store-ha.cpp (group creation, full-sweep parity),
// the updateParity method of hearty-store-put.cpp (post-put parity
// refresh), and the reconstructFromParity method of hearty-store-get.cpp
// (degraded read).
package ha

import (
	"fmt"
	"os"

	log "github.com/golang/glog"

	"heartystore/internal/herrors"
	"heartystore/internal/layout"
	"heartystore/pkg/slices"
)

// Manager ties HA operations to one base directory and block geometry.
type Manager struct {
	Base      string
	BlockSize uint64
	NumBlocks int
}

func New(base string, blockSize uint64, numBlocks int) *Manager {
	return &Manager{Base: base, BlockSize: blockSize, NumBlocks: numBlocks}
}

// Create forms an HA group from members, in the order given. It requires
// at least two distinct members, none already in an HA group or a mirror
// pair. The group id is members[0]. Returns the group id.
func (m *Manager) Create(members []int) (int, error) {
	if len(members) < 2 {
		return 0, herrors.New(herrors.KindInputInvalid, "an HA group requires at least 2 members")
	}
	if err := m.validateMembers(members); err != nil {
		return 0, err
	}

	gid := members[0]
	if err := os.MkdirAll(layout.HAPath(m.Base, gid), 0755); err != nil {
		return 0, herrors.Wrap(herrors.KindIO, "create ha group directory", err)
	}
	if err := layout.CreateZeroedFile(layout.ParityPath(m.Base, gid), m.NumBlocks, m.BlockSize); err != nil {
		return 0, err
	}

	if err := m.recomputeParity(gid, members); err != nil {
		return 0, err
	}

	for _, id := range members {
		h, err := layout.ReadHeader(m.Base, id)
		if err != nil {
			return 0, err
		}
		h.HAGroupID = int32(gid)
		if err := layout.WriteHeader(m.Base, id, h); err != nil {
			return 0, err
		}
	}

	ids := make([]int32, len(members))
	for i, id := range members {
		ids[i] = int32(id)
	}
	status := layout.HAStatus{GroupID: int32(gid), DestroyedCount: 0, StoreIDs: ids}
	if err := layout.WriteHAStatus(m.Base, gid, status); err != nil {
		return 0, err
	}
	return gid, nil
}

func (m *Manager) validateMembers(members []int) error {
	if slices.HasDuplicateInts(members) {
		return herrors.New(herrors.KindPrecondition, "duplicate store ids are not allowed")
	}

	for _, id := range members {
		if !layout.StoreExists(m.Base, id) {
			return herrors.New(herrors.KindNotFound, fmt.Sprintf("store %d does not exist", id))
		}
		h, err := layout.ReadHeader(m.Base, id)
		if err != nil {
			return err
		}
		if h.HAGroupID != -1 {
			return herrors.New(herrors.KindPrecondition, fmt.Sprintf("store %d is already part of HA group %d", id, h.HAGroupID))
		}
		if h.IsReplica || h.ReplicaOf != -1 {
			return herrors.New(herrors.KindPrecondition, fmt.Sprintf("store %d is part of a replica pair", id))
		}
	}
	return nil
}

// recomputeParity rebuilds every block of the group's parity file as the
// XOR of every non-destroyed member's corresponding block. This full
// NUM_BLOCKS sweep matches the source's uncapped rebuild-everything
// baseline (see the parity-update-cost note in DESIGN.md): a per-touched-
// block XOR delta would be cheaper but is not what the baseline promises.
func (m *Manager) recomputeParity(gid int, members []int) error {
	live := make([]int, 0, len(members))
	for _, id := range members {
		h, err := layout.ReadHeader(m.Base, id)
		if err != nil {
			continue
		}
		if !h.IsDestroyed {
			live = append(live, id)
		}
	}

	for k := 0; k < m.NumBlocks; k++ {
		parity := make([]byte, m.BlockSize)
		for _, id := range live {
			block, err := layout.ReadFullBlock(m.Base, id, k, m.BlockSize)
			if err != nil {
				return err
			}
			xorInto(parity, block)
		}
		if err := layout.WriteParityBlock(m.Base, gid, k, parity, m.BlockSize); err != nil {
			return err
		}
	}
	return nil
}

// UpdateParity recomputes the whole parity file for storeID's group after
// a put. It is a no-op if storeID is not part of an HA group. Meant to be
// called as a best-effort post-put step.
func (m *Manager) UpdateParity(storeID int) error {
	h, err := layout.ReadHeader(m.Base, storeID)
	if err != nil {
		return err
	}
	if h.HAGroupID == -1 {
		return nil
	}
	status, err := layout.ReadHAStatus(m.Base, int(h.HAGroupID))
	if err != nil {
		return err
	}
	members := make([]int, len(status.StoreIDs))
	for i, id := range status.StoreIDs {
		members[i] = int(id)
	}
	return m.recomputeParity(int(h.HAGroupID), members)
}

// Reconstruct recovers block k of a destroyed member by XORing the
// group's parity block with every other non-destroyed member's block k.
// It returns a full BlockSize-length buffer regardless of the lost
// member's recorded data_size, since a true loss cannot be trusted to
// have an accurate descriptor.
func (m *Manager) Reconstruct(storeID int, k int) ([]byte, error) {
	h, err := layout.ReadHeader(m.Base, storeID)
	if err != nil {
		return nil, err
	}
	if h.HAGroupID == -1 {
		return nil, herrors.New(herrors.KindReconstruction, "store is not part of an HA group")
	}
	gid := int(h.HAGroupID)

	status, err := layout.ReadHAStatus(m.Base, gid)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindReconstruction, "read HA group status", err)
	}
	memberIDs := make([]int, len(status.StoreIDs))
	for i, id32 := range status.StoreIDs {
		memberIDs[i] = int(id32)
	}
	if !slices.ContainsInt(memberIDs, storeID) {
		return nil, herrors.New(herrors.KindReconstruction, "store is not a recorded member of its HA group")
	}

	data, err := layout.ReadParityBlock(m.Base, gid, k, m.BlockSize)
	if err != nil {
		return nil, herrors.Wrap(herrors.KindReconstruction, "read parity block", err)
	}

	for _, id32 := range status.StoreIDs {
		id := int(id32)
		if id == storeID {
			continue
		}
		other, err := layout.ReadHeader(m.Base, id)
		if err != nil {
			continue
		}
		if other.IsDestroyed {
			continue
		}
		block, err := layout.ReadFullBlock(m.Base, id, k, m.BlockSize)
		if err != nil {
			continue
		}
		xorInto(data, block)
	}
	return data, nil
}

// Destroy marks storeID's header as destroyed without removing its
// files, then advances the group's destroyed_count. A second loss reaps
// the group: every member has ha_group_id cleared, already-destroyed
// members are removed from disk, and the group directory is deleted.
func (m *Manager) Destroy(storeID int) error {
	h, err := layout.ReadHeader(m.Base, storeID)
	if err != nil {
		return err
	}
	if h.HAGroupID == -1 {
		return herrors.New(herrors.KindPrecondition, "store is not part of an HA group")
	}
	if h.IsDestroyed {
		return herrors.New(herrors.KindPrecondition, "store is already destroyed")
	}
	gid := int(h.HAGroupID)

	h.IsDestroyed = true
	if err := layout.WriteHeader(m.Base, storeID, h); err != nil {
		return err
	}

	status, err := layout.ReadHAStatus(m.Base, gid)
	if err != nil {
		return err
	}
	status.DestroyedCount++

	if status.DestroyedCount <= 1 {
		return layout.WriteHAStatus(m.Base, gid, status)
	}
	return m.reap(gid, status)
}

// reap dissolves a group whose second member has just been destroyed.
func (m *Manager) reap(gid int, status layout.HAStatus) error {
	for _, id32 := range status.StoreIDs {
		id := int(id32)
		mh, err := layout.ReadHeader(m.Base, id)
		if err != nil {
			log.Warningf("ha reap: skipping member %d, could not read header: %s", id, err)
			continue
		}
		if mh.IsDestroyed {
			if err := layout.RemoveStore(m.Base, id); err != nil {
				return err
			}
			continue
		}
		mh.HAGroupID = -1
		if err := layout.WriteHeader(m.Base, id, mh); err != nil {
			return err
		}
	}
	return layout.RemoveGroup(m.Base, gid)
}

func xorInto(dst, src []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}
