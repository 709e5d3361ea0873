// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package layout is the on-disk layout module: pure functions from store
// and group identifiers to filesystem paths, plus the binary I/O
// primitives for the two fixed records (store header, block-descriptor
// array) and the raw block payload regions. Every other package in
// heartystore goes through layout to touch a disk.
package layout

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"heartystore/internal/herrors"
)

const (
	storeDirPrefix = "store_"
	haDirPrefix    = "ha_group_"

	dataFilename   = "data.bin"
	metaFilename   = "metadata.bin"
	parityFilename = "parity.bin"
	statusFilename = "status.data"

	// objectIDFieldSize is the on-disk width reserved for an object id.
	// One byte is held back so a full 63-byte id is distinguishable from
	// a truncated 64-byte run; see encodeDescriptor.
	objectIDFieldSize = 64

	headerSize     = 4 + 4 + 8 + 4 + 1 + 4 + 4 + 1 // 30 bytes, see StoreHeader
	descriptorSize = 1 + objectIDFieldSize + 8 + 8  // 81 bytes, see BlockDescriptor
)

// StoreHeader is the fixed-layout store header record. Field order here is
// the on-disk field order: store_id, total_blocks, block_size,
// used_blocks, is_replica, replica_of, ha_group_id, is_destroyed.
type StoreHeader struct {
	StoreID     int32
	TotalBlocks uint32
	BlockSize   uint64
	UsedBlocks  uint32
	IsReplica   bool
	ReplicaOf   int32
	HAGroupID   int32
	IsDestroyed bool
}

// BlockDescriptor is the fixed-layout per-block record. On-disk field
// order: is_used, object_id (64-byte zero-padded), data_size, timestamp.
type BlockDescriptor struct {
	IsUsed    bool
	ObjectID  string
	DataSize  uint64
	Timestamp int64
}

// HAStatus is the fixed-layout HA group status record: group_id,
// store_count, destroyed_count, followed by store_count member ids.
type HAStatus struct {
	GroupID        int32
	DestroyedCount int32
	StoreIDs       []int32
}

// StorePath returns the directory for store id.
func StorePath(base string, id int) string {
	return filepath.Join(base, fmt.Sprintf("%s%d", storeDirPrefix, id))
}

// DataPath returns the path of a store's data file.
func DataPath(base string, id int) string {
	return filepath.Join(StorePath(base, id), dataFilename)
}

// MetaPath returns the path of a store's metadata file.
func MetaPath(base string, id int) string {
	return filepath.Join(StorePath(base, id), metaFilename)
}

// HAPath returns the directory for HA group gid.
func HAPath(base string, gid int) string {
	return filepath.Join(base, fmt.Sprintf("%s%d", haDirPrefix, gid))
}

// ParityPath returns the path of a group's parity file.
func ParityPath(base string, gid int) string {
	return filepath.Join(HAPath(base, gid), parityFilename)
}

// StatusPath returns the path of a group's status record.
func StatusPath(base string, gid int) string {
	return filepath.Join(HAPath(base, gid), statusFilename)
}

// StoreExists reports whether a store directory exists.
func StoreExists(base string, id int) bool {
	_, err := os.Stat(StorePath(base, id))
	return err == nil
}

// GroupExists reports whether an HA group directory exists.
func GroupExists(base string, gid int) bool {
	_, err := os.Stat(HAPath(base, gid))
	return err == nil
}

// RemoveStore recursively removes a store's directory tree.
func RemoveStore(base string, id int) error {
	if err := os.RemoveAll(StorePath(base, id)); err != nil {
		return herrors.Wrap(herrors.KindIO, "remove store directory", err)
	}
	return nil
}

// RemoveGroup recursively removes an HA group's directory tree.
func RemoveGroup(base string, gid int) error {
	if err := os.RemoveAll(HAPath(base, gid)); err != nil {
		return herrors.Wrap(herrors.KindIO, "remove ha group directory", err)
	}
	return nil
}

//
// Store header
//

// ReadHeader reads only the store header (not the descriptor array), the
// same narrow read the original destroy/ha bookkeeping paths perform when
// they only need to check flags like is_destroyed.
func ReadHeader(base string, id int) (StoreHeader, error) {
	f, err := os.Open(MetaPath(base, id))
	if err != nil {
		return StoreHeader{}, herrors.Wrap(herrors.KindIO, "open metadata file", err)
	}
	defer f.Close()

	h, err := decodeHeader(f)
	if err != nil {
		return StoreHeader{}, herrors.Wrap(herrors.KindIO, "read store header", err)
	}
	return h, nil
}

// WriteHeader rewrites only the header region of metadata.bin, in place,
// leaving the block-descriptor region untouched. This is used for
// bookkeeping updates (flipping is_replica, ha_group_id, is_destroyed)
// that never loaded the descriptor array into memory, so there is nothing
// to accidentally clobber or go stale.
func WriteHeader(base string, id int, h StoreHeader) error {
	f, err := os.OpenFile(MetaPath(base, id), os.O_WRONLY, 0644)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "open metadata file for header write", err)
	}
	defer f.Close()

	buf, err := encodeHeader(h)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "encode store header", err)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return herrors.Wrap(herrors.KindIO, "write store header", err)
	}
	return nil
}

//
// Block descriptors
//

// ReadAllDescriptors reads the full NUM_BLOCKS-length descriptor array.
func ReadAllDescriptors(base string, id int, numBlocks int) ([]BlockDescriptor, error) {
	f, err := os.Open(MetaPath(base, id))
	if err != nil {
		return nil, herrors.Wrap(herrors.KindIO, "open metadata file", err)
	}
	defer f.Close()

	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return nil, herrors.Wrap(herrors.KindIO, "seek to descriptor array", err)
	}
	descs := make([]BlockDescriptor, numBlocks)
	for i := range descs {
		d, err := decodeDescriptor(f)
		if err != nil {
			return nil, herrors.Wrap(herrors.KindIO, "read block descriptor", err)
		}
		descs[i] = d
	}
	return descs, nil
}

// WriteAllDescriptors rewrites the full descriptor array in place,
// leaving the header region untouched.
func WriteAllDescriptors(base string, id int, descs []BlockDescriptor) error {
	f, err := os.OpenFile(MetaPath(base, id), os.O_WRONLY, 0644)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "open metadata file for descriptor write", err)
	}
	defer f.Close()

	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return herrors.Wrap(herrors.KindIO, "seek to descriptor array", err)
	}
	for _, d := range descs {
		buf, err := encodeDescriptor(d)
		if err != nil {
			return herrors.Wrap(herrors.KindIO, "encode block descriptor", err)
		}
		if _, err := f.Write(buf); err != nil {
			return herrors.Wrap(herrors.KindIO, "write block descriptor", err)
		}
	}
	return nil
}

// WriteMetadataImage rewrites the whole metadata file — header followed by
// NUM_BLOCKS descriptors — in one pass. Per the on-disk layout module's
// discipline, this is the only way a mutating operation (init, put) is
// allowed to touch metadata.bin: never a partial descriptor update in
// place, to avoid inconsistency between used_blocks and the descriptor
// array.
func WriteMetadataImage(base string, id int, h StoreHeader, descs []BlockDescriptor) (err error) {
	if mkErr := os.MkdirAll(StorePath(base, id), 0755); mkErr != nil {
		return herrors.Wrap(herrors.KindIO, "create store directory", mkErr)
	}
	f, err := os.Create(MetaPath(base, id))
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "create metadata file", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = herrors.Wrap(herrors.KindIO, "close metadata file", cerr)
		}
	}()

	hbuf, err := encodeHeader(h)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "encode store header", err)
	}
	if _, err = f.Write(hbuf); err != nil {
		return herrors.Wrap(herrors.KindIO, "write store header", err)
	}
	for _, d := range descs {
		dbuf, eerr := encodeDescriptor(d)
		if eerr != nil {
			return herrors.Wrap(herrors.KindIO, "encode block descriptor", eerr)
		}
		if _, err = f.Write(dbuf); err != nil {
			return herrors.Wrap(herrors.KindIO, "write block descriptor", err)
		}
	}
	return nil
}

// ReadMetadataImage reads the header and the full descriptor array in one
// pass, as most mutating callers need both.
func ReadMetadataImage(base string, id int, numBlocks int) (StoreHeader, []BlockDescriptor, error) {
	h, err := ReadHeader(base, id)
	if err != nil {
		return StoreHeader{}, nil, err
	}
	descs, err := ReadAllDescriptors(base, id, numBlocks)
	if err != nil {
		return StoreHeader{}, nil, err
	}
	return h, descs, nil
}

//
// Block payload
//

// ReadBlock reads length bytes starting at block index k of a store's
// data file.
func ReadBlock(base string, id int, k int, length uint64, blockSize uint64) ([]byte, error) {
	f, err := os.Open(DataPath(base, id))
	if err != nil {
		return nil, herrors.Wrap(herrors.KindIO, "open data file", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(uint64(k)*blockSize)); err != nil && err != io.EOF {
		return nil, herrors.Wrap(herrors.KindIO, "read block", err)
	}
	return buf, nil
}

// WriteBlock writes b to block index k of a store's data file. b may be
// shorter than the block size; the remainder of the block is left as-is.
func WriteBlock(base string, id int, k int, b []byte, blockSize uint64) error {
	f, err := os.OpenFile(DataPath(base, id), os.O_WRONLY, 0644)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "open data file", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(b, int64(uint64(k)*blockSize)); err != nil {
		return herrors.Wrap(herrors.KindIO, "write block", err)
	}
	return nil
}

// ReadFullBlock reads an entire block-sized region, regardless of how much
// of it holds live data. Used by mirror and parity paths, which operate
// on whole blocks.
func ReadFullBlock(base string, id int, k int, blockSize uint64) ([]byte, error) {
	return ReadBlock(base, id, k, blockSize, blockSize)
}

//
// Parity
//

// ReadParityBlock reads block index k from a group's parity file.
func ReadParityBlock(base string, gid int, k int, blockSize uint64) ([]byte, error) {
	f, err := os.Open(ParityPath(base, gid))
	if err != nil {
		return nil, herrors.Wrap(herrors.KindIO, "open parity file", err)
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	if _, err := f.ReadAt(buf, int64(uint64(k)*blockSize)); err != nil && err != io.EOF {
		return nil, herrors.Wrap(herrors.KindIO, "read parity block", err)
	}
	return buf, nil
}

// WriteParityBlock writes block index k of a group's parity file.
func WriteParityBlock(base string, gid int, k int, b []byte, blockSize uint64) error {
	f, err := os.OpenFile(ParityPath(base, gid), os.O_WRONLY, 0644)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "open parity file", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(b, int64(uint64(k)*blockSize)); err != nil {
		return herrors.Wrap(herrors.KindIO, "write parity block", err)
	}
	return nil
}

// CreateZeroedFile creates a file of numBlocks*blockSize zero bytes,
// writing one block-sized chunk of zeros at a time the way the original
// store/parity initializers do.
func CreateZeroedFile(path string, numBlocks int, blockSize uint64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "create file", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = herrors.Wrap(herrors.KindIO, "close file", cerr)
		}
	}()

	zeros := make([]byte, blockSize)
	for i := 0; i < numBlocks; i++ {
		if _, err = f.Write(zeros); err != nil {
			return herrors.Wrap(herrors.KindIO, "write zeroed block", err)
		}
	}
	return nil
}

//
// HA group status
//

// ReadHAStatus reads a group's status.data record.
func ReadHAStatus(base string, gid int) (HAStatus, error) {
	f, err := os.Open(StatusPath(base, gid))
	if err != nil {
		return HAStatus{}, herrors.Wrap(herrors.KindIO, "open ha status file", err)
	}
	defer f.Close()

	var groupID, storeCount, destroyedCount int32
	for _, p := range []*int32{&groupID, &storeCount, &destroyedCount} {
		if err := binary.Read(f, binary.LittleEndian, p); err != nil {
			return HAStatus{}, herrors.Wrap(herrors.KindIO, "read ha status header", err)
		}
	}
	ids := make([]int32, storeCount)
	for i := range ids {
		if err := binary.Read(f, binary.LittleEndian, &ids[i]); err != nil {
			return HAStatus{}, herrors.Wrap(herrors.KindIO, "read ha status member", err)
		}
	}
	return HAStatus{GroupID: groupID, DestroyedCount: destroyedCount, StoreIDs: ids}, nil
}

// WriteHAStatus writes a group's status.data record, truncating any
// previous contents (the member list is length-prefixed via store_count,
// so this is always a whole-record rewrite, never partial).
func WriteHAStatus(base string, gid int, s HAStatus) (err error) {
	f, err := os.Create(StatusPath(base, gid))
	if err != nil {
		return herrors.Wrap(herrors.KindIO, "create ha status file", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = herrors.Wrap(herrors.KindIO, "close ha status file", cerr)
		}
	}()

	storeCount := int32(len(s.StoreIDs))
	for _, v := range []int32{s.GroupID, storeCount, s.DestroyedCount} {
		if err = binary.Write(f, binary.LittleEndian, v); err != nil {
			return herrors.Wrap(herrors.KindIO, "write ha status header", err)
		}
	}
	for _, id := range s.StoreIDs {
		if err = binary.Write(f, binary.LittleEndian, id); err != nil {
			return herrors.Wrap(herrors.KindIO, "write ha status member", err)
		}
	}
	return nil
}

//
// Binary encoding helpers
//

func encodeHeader(h StoreHeader) ([]byte, error) {
	buf := make([]byte, 0, headerSize)
	w := &byteWriter{buf: buf}
	w.int32(h.StoreID)
	w.uint32(h.TotalBlocks)
	w.uint64(h.BlockSize)
	w.uint32(h.UsedBlocks)
	w.boolean(h.IsReplica)
	w.int32(h.ReplicaOf)
	w.int32(h.HAGroupID)
	w.boolean(h.IsDestroyed)
	return w.buf, w.err
}

func decodeHeader(r io.Reader) (StoreHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return StoreHeader{}, err
	}
	br := &byteReader{buf: buf}
	var h StoreHeader
	h.StoreID = br.int32()
	h.TotalBlocks = br.uint32()
	h.BlockSize = br.uint64()
	h.UsedBlocks = br.uint32()
	h.IsReplica = br.boolean()
	h.ReplicaOf = br.int32()
	h.HAGroupID = br.int32()
	h.IsDestroyed = br.boolean()
	return h, br.err
}

func encodeDescriptor(d BlockDescriptor) ([]byte, error) {
	if len(d.ObjectID) >= objectIDFieldSize {
		return nil, fmt.Errorf("object id %q exceeds %d bytes", d.ObjectID, objectIDFieldSize-1)
	}
	buf := make([]byte, 0, descriptorSize)
	w := &byteWriter{buf: buf}
	w.boolean(d.IsUsed)
	w.fixedString(d.ObjectID, objectIDFieldSize)
	w.uint64(d.DataSize)
	w.int64(d.Timestamp)
	return w.buf, w.err
}

func decodeDescriptor(r io.Reader) (BlockDescriptor, error) {
	buf := make([]byte, descriptorSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return BlockDescriptor{}, err
	}
	br := &byteReader{buf: buf}
	var d BlockDescriptor
	d.IsUsed = br.boolean()
	d.ObjectID = br.fixedString(objectIDFieldSize)
	d.DataSize = br.uint64()
	d.Timestamp = br.int64()
	return d, br.err
}

// byteWriter/byteReader serialize fields positionally, little-endian,
// matching the canonical encoding committed to in SPEC_FULL.md: deliberately
// not reflection-based binary.Write on a struct, so that field widths and
// order are visible and auditable at the call site.
type byteWriter struct {
	buf []byte
	err error
}

func (w *byteWriter) int32(v int32)   { w.uint32(uint32(v)) }
func (w *byteWriter) uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) int64(v int64)   { w.uint64(uint64(v)) }
func (w *byteWriter) uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *byteWriter) boolean(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) fixedString(s string, width int) {
	field := make([]byte, width)
	copy(field, s)
	w.buf = append(w.buf, field...)
}

type byteReader struct {
	buf []byte
	pos int
	err error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil || r.pos+n > len(r.buf) {
		if r.err == nil {
			r.err = io.ErrUnexpectedEOF
		}
		return make([]byte, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) int32() int32   { return int32(r.uint32()) }
func (r *byteReader) uint32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *byteReader) int64() int64   { return int64(r.uint64()) }
func (r *byteReader) uint64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

func (r *byteReader) boolean() bool { return r.take(1)[0] != 0 }

func (r *byteReader) fixedString(width int) string {
	b := r.take(width)
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}
