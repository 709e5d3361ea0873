// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package layout

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBlockSize = 16
	testNumBlocks = 4
)

func makeStore(t *testing.T, base string, id int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(StorePath(base, id), 0755))
	require.NoError(t, CreateZeroedFile(DataPath(base, id), testNumBlocks, testBlockSize))

	h := StoreHeader{
		StoreID:     int32(id),
		TotalBlocks: testNumBlocks,
		BlockSize:   testBlockSize,
		ReplicaOf:   -1,
		HAGroupID:   -1,
	}
	descs := make([]BlockDescriptor, testNumBlocks)
	require.NoError(t, WriteMetadataImage(base, id, h, descs))
}

func TestHeaderRoundTrip(t *testing.T) {
	base := t.TempDir()
	makeStore(t, base, 1)

	h, err := ReadHeader(base, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.StoreID)
	assert.Equal(t, uint32(testNumBlocks), h.TotalBlocks)
	assert.Equal(t, int32(-1), h.ReplicaOf)
	assert.Equal(t, int32(-1), h.HAGroupID)
	assert.False(t, h.IsDestroyed)

	h.IsDestroyed = true
	h.HAGroupID = 7
	require.NoError(t, WriteHeader(base, 1, h))

	h2, err := ReadHeader(base, 1)
	require.NoError(t, err)
	assert.True(t, h2.IsDestroyed)
	assert.Equal(t, int32(7), h2.HAGroupID)
}

func TestWriteHeaderPreservesDescriptors(t *testing.T) {
	base := t.TempDir()
	makeStore(t, base, 1)

	descs, err := ReadAllDescriptors(base, 1, testNumBlocks)
	require.NoError(t, err)
	descs[0] = BlockDescriptor{IsUsed: true, ObjectID: "abc", DataSize: 3, Timestamp: 42}
	require.NoError(t, WriteAllDescriptors(base, 1, descs))

	h, err := ReadHeader(base, 1)
	require.NoError(t, err)
	h.IsDestroyed = true
	require.NoError(t, WriteHeader(base, 1, h))

	got, err := ReadAllDescriptors(base, 1, testNumBlocks)
	require.NoError(t, err)
	assert.Equal(t, descs[0], got[0])
}

func TestDescriptorRoundTrip(t *testing.T) {
	base := t.TempDir()
	makeStore(t, base, 1)

	descs, err := ReadAllDescriptors(base, 1, testNumBlocks)
	require.NoError(t, err)
	require.Len(t, descs, testNumBlocks)
	for _, d := range descs {
		assert.False(t, d.IsUsed)
		assert.Equal(t, "", d.ObjectID)
	}

	descs[2] = BlockDescriptor{IsUsed: true, ObjectID: "1234567_8901", DataSize: 9, Timestamp: 100}
	require.NoError(t, WriteAllDescriptors(base, 1, descs))

	got, err := ReadAllDescriptors(base, 1, testNumBlocks)
	require.NoError(t, err)
	assert.Equal(t, descs[2], got[2])
}

func TestBlockRoundTrip(t *testing.T) {
	base := t.TempDir()
	makeStore(t, base, 1)

	payload := []byte("hello!!!")
	require.NoError(t, WriteBlock(base, 1, 1, payload, testBlockSize))

	got, err := ReadBlock(base, 1, 1, uint64(len(payload)), testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	full, err := ReadFullBlock(base, 1, 1, testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, payload, full[:len(payload)])
	assert.Equal(t, make([]byte, testBlockSize-len(payload)), full[len(payload):])
}

func TestParityRoundTrip(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(HAPath(base, 1), 0755))
	require.NoError(t, CreateZeroedFile(ParityPath(base, 1), testNumBlocks, testBlockSize))

	block := []byte{1, 2, 3, 4}
	require.NoError(t, WriteParityBlock(base, 1, 0, block, testBlockSize))
	got, err := ReadParityBlock(base, 1, 0, testBlockSize)
	require.NoError(t, err)
	assert.Equal(t, block, got[:len(block)])
}

func TestHAStatusRoundTrip(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(HAPath(base, 1), 0755))

	s := HAStatus{GroupID: 1, DestroyedCount: 0, StoreIDs: []int32{1, 2, 3}}
	require.NoError(t, WriteHAStatus(base, 1, s))

	got, err := ReadHAStatus(base, 1)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	got.DestroyedCount = 1
	require.NoError(t, WriteHAStatus(base, 1, got))
	got2, err := ReadHAStatus(base, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got2.DestroyedCount)
	assert.Equal(t, []int32{1, 2, 3}, got2.StoreIDs)
}

func TestStoreExists(t *testing.T) {
	base := t.TempDir()
	assert.False(t, StoreExists(base, 5))
	makeStore(t, base, 5)
	assert.True(t, StoreExists(base, 5))
}

func TestObjectIDTooLongRejected(t *testing.T) {
	_, err := encodeDescriptor(BlockDescriptor{ObjectID: string(make([]byte, objectIDFieldSize))})
	assert.Error(t, err)
}
