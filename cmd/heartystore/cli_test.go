// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run invokes the app in-process against base, capturing stdout. Tests
// never shell out or invoke os/exec, keeping the scenarios hermetic.
func run(t *testing.T, base string, args ...string) (stdout string, err error) {
	t.Helper()

	r, w, perr := os.Pipe()
	require.NoError(t, perr)
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(&buf, r)
		close(done)
	}()

	fullArgs := append([]string{"heartystore", "-base", base}, args...)
	err = newApp().Run(fullArgs)

	w.Close()
	<-done
	return buf.String(), err
}

func TestScenarioPutThenGet(t *testing.T) {
	base := t.TempDir()
	payloadPath := filepath.Join(base, "payload.txt")
	require.NoError(t, os.WriteFile(payloadPath, []byte("hello\n"), 0644))

	out, err := run(t, base, "init", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully initialized store 1")

	out, err = run(t, base, "put", "1", payloadPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully put object id")
	oid := extractObjectID(t, out)

	out, err = run(t, base, "get", "1", oid)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestScenarioHAReconstructAfterDestroy(t *testing.T) {
	base := t.TempDir()
	payloadPath := filepath.Join(base, "a.txt")
	require.NoError(t, os.WriteFile(payloadPath, []byte("A"), 0644))

	_, err := run(t, base, "init", "1")
	require.NoError(t, err)
	_, err = run(t, base, "init", "2")
	require.NoError(t, err)
	_, err = run(t, base, "ha", "1", "2")
	require.NoError(t, err)

	out, err := run(t, base, "put", "1", payloadPath)
	require.NoError(t, err)
	oid := extractObjectID(t, out)

	_, err = run(t, base, "destroy", "1")
	require.NoError(t, err)

	out, err = run(t, base, "get", "1", oid)
	require.NoError(t, err)
	assert.Equal(t, byte('A'), out[0])
	for _, b := range []byte(out)[1:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestScenarioGroupReapOnSecondDestroy(t *testing.T) {
	base := t.TempDir()
	for _, id := range []string{"1", "2", "3"} {
		_, err := run(t, base, "init", id)
		require.NoError(t, err)
	}
	_, err := run(t, base, "ha", "1", "2", "3")
	require.NoError(t, err)

	_, err = run(t, base, "destroy", "1")
	require.NoError(t, err)
	out, err := run(t, base, "list")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))

	_, err = run(t, base, "destroy", "2")
	require.NoError(t, err)
	out, err = run(t, base, "list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "3 -")
}

func TestScenarioOversizedPayloadRejected(t *testing.T) {
	base := t.TempDir()
	_, err := run(t, base, "init", "1")
	require.NoError(t, err)

	big := make([]byte, (1<<20)+1)
	payloadPath := filepath.Join(base, "big.bin")
	require.NoError(t, os.WriteFile(payloadPath, big, 0644))

	_, err = run(t, base, "put", "1", payloadPath)
	require.Error(t, err)
}

func extractObjectID(t *testing.T, out string) string {
	t.Helper()
	const marker = "object id "
	idx := strings.Index(out, marker)
	require.True(t, idx >= 0, "marker not found in %q", out)
	rest := out[idx+len(marker):]
	fields := strings.Fields(rest)
	require.NotEmpty(t, fields)
	return fields[0]
}
