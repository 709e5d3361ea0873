// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build unix

package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlockAcquireRelease(t *testing.T) {
	base := t.TempDir()
	makeStore(t, base, 1)

	lock, err := WithFlock(base, 1)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
