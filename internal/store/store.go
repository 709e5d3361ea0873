// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package store is the store engine: it initializes a fresh store,
// allocates the first free block for an incoming payload, locates a block
// by object id, and reads a block's payload honoring its recorded size.
//
// This is grounded on internal/tractserver/store.go and manager.go's
// open/allocate/read discipline, collapsed from a disk-queue-of-requests
// model down to direct synchronous calls: the process model here is
// single-threaded, one operation per invocation (see SPEC_FULL.md §5),
// so there is no request queue or worker pool to adapt.
package store

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/golang/glog"

	"heartystore/internal/herrors"
	"heartystore/internal/layout"
)

// Engine is a store engine bound to one base directory and one block
// geometry (block size, blocks per store).
type Engine struct {
	Base      string
	BlockSize uint64
	NumBlocks int
}

// New creates an Engine rooted at base, with the given block geometry.
func New(base string, blockSize uint64, numBlocks int) *Engine {
	return &Engine{Base: base, BlockSize: blockSize, NumBlocks: numBlocks}
}

// Record summarizes a single store for List.
type Record struct {
	StoreID    int
	Status     string
	UsedBlocks uint32
	TotalBlocks uint32
}

// Init creates a fresh store. It fails if id is negative or a store with
// this id already exists. On any failure after directory creation, the
// partial directory is removed.
func (e *Engine) Init(id int) (err error) {
	if id < 0 {
		return herrors.New(herrors.KindInputInvalid, "store id must be non-negative")
	}
	if layout.StoreExists(e.Base, id) {
		return herrors.New(herrors.KindPrecondition, fmt.Sprintf("store %d already exists", id))
	}

	path := layout.StorePath(e.Base, id)
	if mkErr := os.MkdirAll(path, 0755); mkErr != nil {
		return herrors.Wrap(herrors.KindIO, "create store directory", mkErr)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(path)
		}
	}()

	if err = layout.CreateZeroedFile(layout.DataPath(e.Base, id), e.NumBlocks, e.BlockSize); err != nil {
		return err
	}

	h := layout.StoreHeader{
		StoreID:     int32(id),
		TotalBlocks: uint32(e.NumBlocks),
		BlockSize:   e.BlockSize,
		UsedBlocks:  0,
		ReplicaOf:   -1,
		HAGroupID:   -1,
	}
	descs := make([]layout.BlockDescriptor, e.NumBlocks)
	if err = layout.WriteMetadataImage(e.Base, id, h, descs); err != nil {
		return err
	}
	return nil
}

// PutResult carries the bookkeeping a caller higher up the stack (the
// mirror and HA managers) needs to run their best-effort post-put
// side-effects, without Put itself knowing those packages exist.
type PutResult struct {
	ObjectID string
	Header   layout.StoreHeader
	BlockIdx int
}

// Put writes the contents of r (exactly size bytes) into the first free
// block of store id, and returns the generated object id. size must not
// exceed the configured block size. Put refuses to write into a store
// whose header has IsDestroyed set — see DESIGN.md for why this expansion
// resolves that open question this way.
func (e *Engine) Put(id int, r io.Reader, size int64) (PutResult, error) {
	h, descs, err := layout.ReadMetadataImage(e.Base, id, e.NumBlocks)
	if err != nil {
		return PutResult{}, herrors.Wrap(herrors.KindNotFound, fmt.Sprintf("store %d does not exist", id), err)
	}
	if h.IsDestroyed {
		return PutResult{}, herrors.New(herrors.KindPrecondition, fmt.Sprintf("store %d is destroyed", id))
	}
	if size > int64(e.BlockSize) {
		return PutResult{}, herrors.New(herrors.KindInputInvalid, "File too large")
	}

	blockIdx := -1
	for i, d := range descs {
		if !d.IsUsed {
			blockIdx = i
			break
		}
	}
	if blockIdx == -1 {
		return PutResult{}, herrors.New(herrors.KindPrecondition, "No free blocks available")
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return PutResult{}, herrors.Wrap(herrors.KindIO, "read payload", err)
	}
	if err := layout.WriteBlock(e.Base, id, blockIdx, buf, e.BlockSize); err != nil {
		return PutResult{}, err
	}

	oid := NewObjectID()
	descs[blockIdx] = layout.BlockDescriptor{
		IsUsed:    true,
		ObjectID:  oid,
		DataSize:  uint64(size),
		Timestamp: time.Now().Unix(),
	}
	h.UsedBlocks++

	if err := layout.WriteMetadataImage(e.Base, id, h, descs); err != nil {
		return PutResult{}, err
	}

	return PutResult{ObjectID: oid, Header: h, BlockIdx: blockIdx}, nil
}

// FindObject locates the descriptor holding objectID in store id, scanning
// in ascending block index order. It returns ok=false if no used
// descriptor matches.
func (e *Engine) FindObject(id int, objectID string) (idx int, desc layout.BlockDescriptor, ok bool, err error) {
	descs, err := layout.ReadAllDescriptors(e.Base, id, e.NumBlocks)
	if err != nil {
		return 0, layout.BlockDescriptor{}, false, err
	}
	for i, d := range descs {
		if d.IsUsed && d.ObjectID == objectID {
			return i, d, true, nil
		}
	}
	return 0, layout.BlockDescriptor{}, false, nil
}

// Get reads the object's payload from a non-destroyed store. Callers are
// responsible for the destroyed-store recovery path (HA reconstruction);
// that orchestration lives in package engine because it needs the HA
// manager, which store does not depend on.
func (e *Engine) Get(id int, objectID string) ([]byte, error) {
	idx, desc, ok, err := e.FindObject(id, objectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, herrors.New(herrors.KindNotFound, fmt.Sprintf("object not found: %s", objectID))
	}
	return layout.ReadBlock(e.Base, id, idx, desc.DataSize, e.BlockSize)
}

// Header returns the store header for id.
func (e *Engine) Header(id int) (layout.StoreHeader, error) {
	return layout.ReadHeader(e.Base, id)
}

// status priority: destroyed, replica-of-N, ha-group=N, else active —
// exactly the priority order of the original list command.
func statusString(h layout.StoreHeader) string {
	var parts []string
	if h.IsDestroyed {
		parts = append(parts, "destroyed")
	}
	if h.IsReplica {
		parts = append(parts, fmt.Sprintf("replica of %d", h.ReplicaOf))
	}
	if h.HAGroupID != -1 {
		parts = append(parts, fmt.Sprintf("ha-group=%d", h.HAGroupID))
	}
	if len(parts) == 0 {
		return "active"
	}
	return strings.Join(parts, ", ")
}

// List enumerates every store_<id> directory under the base path and
// returns one Record per store whose metadata could be read.
func (e *Engine) List() ([]Record, error) {
	entries, err := os.ReadDir(e.Base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, herrors.Wrap(herrors.KindIO, "read base directory", err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "store_") {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(entry.Name(), "store_%d", &id); err != nil {
			continue
		}
		h, err := layout.ReadHeader(e.Base, id)
		if err != nil {
			log.Warningf("list: skipping store %d, could not read header: %s", id, err)
			continue
		}
		records = append(records, Record{
			StoreID:     id,
			Status:      statusString(h),
			UsedBlocks:  h.UsedBlocks,
			TotalBlocks: h.TotalBlocks,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StoreID < records[j].StoreID })
	return records, nil
}

// NewObjectID generates an id of the form <ms-since-epoch>_<4-digit-random>,
// matching the original's std::mt19937-seeded uniform_int_distribution(1000,
// 9999). math/rand/v2's package-level functions are auto-seeded, so no
// explicit seeding step is needed to match that "random device" intent.
func NewObjectID() string {
	ms := time.Now().UnixMilli()
	n := rand.IntN(9000) + 1000
	return fmt.Sprintf("%d_%d", ms, n)
}
