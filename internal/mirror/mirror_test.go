// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package mirror

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartystore/internal/herrors"
	"heartystore/internal/layout"
	"heartystore/internal/store"
)

const (
	testBlockSize = 16
	testNumBlocks = 4
)

func setup(t *testing.T) (*store.Engine, *Manager) {
	t.Helper()
	base := t.TempDir()
	return store.New(base, testBlockSize, testNumBlocks), New(base, testBlockSize, testNumBlocks)
}

func TestReplicateCopiesDataAndFlagsBothSides(t *testing.T) {
	se, mg := setup(t)
	require.NoError(t, se.Init(1))

	payload := []byte("payload!")
	res, err := se.Put(1, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	replicaID, err := mg.Replicate(1)
	require.NoError(t, err)
	assert.True(t, replicaID >= 1000 && replicaID <= 9999)

	sourceHeader, err := se.Header(1)
	require.NoError(t, err)
	assert.False(t, sourceHeader.IsReplica)
	assert.Equal(t, int32(replicaID), sourceHeader.ReplicaOf)

	replicaHeader, err := se.Header(replicaID)
	require.NoError(t, err)
	assert.True(t, replicaHeader.IsReplica)
	assert.Equal(t, int32(1), replicaHeader.ReplicaOf)

	got, err := se.Get(replicaID, res.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReplicateRejectsExistingMirror(t *testing.T) {
	se, mg := setup(t)
	require.NoError(t, se.Init(1))
	_, err := mg.Replicate(1)
	require.NoError(t, err)

	_, err = mg.Replicate(1)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.KindPrecondition, kind)
}

func TestSyncPropagatesNewWrites(t *testing.T) {
	se, mg := setup(t)
	require.NoError(t, se.Init(1))
	replicaID, err := mg.Replicate(1)
	require.NoError(t, err)

	payload := []byte("fresh")
	res, err := se.Put(1, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	require.NoError(t, mg.Sync(1))

	got, err := se.Get(replicaID, res.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	replicaHeader, err := se.Header(replicaID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), replicaHeader.UsedBlocks)
}

func TestDestroyRemovesBothSides(t *testing.T) {
	se, mg := setup(t)
	require.NoError(t, se.Init(1))
	replicaID, err := mg.Replicate(1)
	require.NoError(t, err)

	require.NoError(t, mg.Destroy(1))
	assert.False(t, layout.StoreExists(se.Base, 1))
	assert.False(t, layout.StoreExists(se.Base, replicaID))
}

func TestDestroyRejectsNonMirror(t *testing.T) {
	se, mg := setup(t)
	require.NoError(t, se.Init(1))

	err := mg.Destroy(1)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.KindPrecondition, kind)
}
