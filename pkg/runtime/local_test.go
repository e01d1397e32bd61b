/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// The pool is exercised with /bin/sh standing in for the interpreter so the
// tests need no python installation.
func newTestRuntime(t *testing.T, scriptsRoot string) (*LocalRuntime, chan *Result, context.CancelFunc) {
	results := make(chan *Result, 4)
	rt := NewLocal(2, "/bin/sh", scriptsRoot, results)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rt.Run(ctx) }()
	t.Cleanup(cancel)
	return rt, results, cancel
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return name
}

func waitResult(t *testing.T, results chan *Result) *Result {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(10 * time.Second):
		t.Fatal("no result delivered")
		return nil
	}
}

func TestLocalRuntimeSuccess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", "#!/bin/sh\ncat >/dev/null\necho '{\"rows\": 3}'\n")
	rt, results, _ := newTestRuntime(t, dir)

	err := rt.Dispatch(context.Background(), &Dispatch{
		ExecutionId: "EXC-1", NodeId: "NOD-A", ScriptPath: script,
		Params: map[string]any{"url": "https://example.com"}, TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	result := waitResult(t, results)
	assert.Equal(t, "EXC-1", result.ExecutionId)
	assert.Equal(t, "NOD-A", result.NodeId)
	assert.Equal(t, types.OutputSuccess, result.Status)
	assert.Equal(t, map[string]any{"rows": float64(3)}, result.ResultData)
	assert.Empty(t, result.ErrorMessage)
}

func TestLocalRuntimeMissingScript(t *testing.T) {
	rt, results, _ := newTestRuntime(t, t.TempDir())

	require.NoError(t, rt.Dispatch(context.Background(), &Dispatch{
		ExecutionId: "EXC-1", NodeId: "NOD-A", ScriptPath: "gone.py",
	}))
	result := waitResult(t, results)
	assert.Equal(t, types.OutputFailed, result.Status)
	assert.Equal(t, apierrors.ScriptMissing, result.ErrorDetails["code"])
}

func TestLocalRuntimeUnknownProcessType(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ok.sh", "#!/bin/sh\nexit 0\n")
	rt, results, _ := newTestRuntime(t, dir)

	require.NoError(t, rt.Dispatch(context.Background(), &Dispatch{
		ExecutionId: "EXC-1", NodeId: "NOD-A", ScriptPath: script, ProcessType: "ruby",
	}))
	result := waitResult(t, results)
	assert.Equal(t, types.OutputFailed, result.Status)
	assert.Equal(t, apierrors.ScriptMissing, result.ErrorDetails["code"])
}

func TestLocalRuntimeFailureAfterRetries(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "boom.sh", "#!/bin/sh\necho nope >&2\nexit 1\n")
	rt, results, _ := newTestRuntime(t, dir)

	require.NoError(t, rt.Dispatch(context.Background(), &Dispatch{
		ExecutionId: "EXC-1", NodeId: "NOD-A", ScriptPath: script,
		MaxRetries: 1, TimeoutSeconds: 5,
	}))
	result := waitResult(t, results)
	assert.Equal(t, types.OutputFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "nope")
}
