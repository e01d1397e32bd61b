/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package finalizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflowhq/miniflow/pkg/database"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

type finalization struct {
	status  string
	results string
}

type fakeStore struct {
	executions map[string]*client.Execution
	inputs     map[string][]*client.ExecutionInput
	outputs    map[string][]*client.ExecutionOutput
	finalized  map[string]finalization
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		executions: map[string]*client.Execution{},
		inputs:     map[string][]*client.ExecutionInput{},
		outputs:    map[string][]*client.ExecutionOutput{},
		finalized:  map[string]finalization{},
	}
}

func (f *fakeStore) GetExecution(_ context.Context, id string) (*client.Execution, error) {
	exec, ok := f.executions[id]
	if !ok {
		return nil, apierrors.NewNotFound("execution", id)
	}
	return exec, nil
}

func (f *fakeStore) ListInputsForExecution(_ context.Context, executionID string) ([]*client.ExecutionInput, error) {
	return f.inputs[executionID], nil
}

func (f *fakeStore) ListOutputsForExecution(_ context.Context, executionID string) ([]*client.ExecutionOutput, error) {
	return f.outputs[executionID], nil
}

func (f *fakeStore) FinalizeExecution(_ context.Context, executionID, status, results string, _ time.Time) error {
	exec := f.executions[executionID]
	if types.IsTerminalExecution(exec.Status) {
		return nil
	}
	exec.Status = status
	f.finalized[executionID] = finalization{status: status, results: results}
	delete(f.inputs, executionID)
	delete(f.outputs, executionID)
	return nil
}

func (f *fakeStore) ListRunningPastDeadline(_ context.Context, cutoff time.Time) ([]*client.Execution, error) {
	var out []*client.Execution
	for _, exec := range f.executions {
		if exec.Status == types.ExecutionRunning && exec.StartedAt.Valid && exec.StartedAt.Time.Before(cutoff) {
			out = append(out, exec)
		}
	}
	return out, nil
}

func running(store *fakeStore, id string, planned int64, startedAgo time.Duration) *client.Execution {
	exec := &client.Execution{
		Id: id, WorkflowId: "WFL-1", Status: types.ExecutionRunning,
		PlannedNodes: planned,
		StartedAt:    database.NullTime(time.Now().Add(-startedAgo)),
		CreatedAt:    time.Now().Add(-startedAgo),
	}
	store.executions[id] = exec
	return exec
}

func decodeResults(t *testing.T, raw string) map[string]types.NodeResult {
	t.Helper()
	results := map[string]types.NodeResult{}
	require.NoError(t, json.Unmarshal([]byte(raw), &results))
	return results
}

func TestEvaluateCompleted(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 2, time.Minute)
	store.outputs["EXC-1"] = []*client.ExecutionOutput{
		{NodeId: "NOD-A", Status: types.OutputSuccess, ResultData: `{"rows":3}`, Duration: 0.4},
		{NodeId: "NOD-B", Status: types.OutputSuccess, Duration: 0.1},
	}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	done := store.finalized["EXC-1"]
	assert.Equal(t, types.ExecutionCompleted, done.status)

	results := decodeResults(t, done.results)
	require.Len(t, results, 2)
	assert.Equal(t, types.OutputSuccess, results["NOD-A"].Status)
	assert.Equal(t, map[string]any{"rows": float64(3)}, results["NOD-A"].ResultData)
}

func TestEvaluateFailedWithCancelledNodes(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 3, time.Minute)
	store.outputs["EXC-1"] = []*client.ExecutionOutput{
		{NodeId: "NOD-A", Status: types.OutputFailed, ErrorMessage: "boom",
			ErrorDetails: `{"code":"SCRIPT_MISSING"}`},
		{NodeId: "NOD-B", Status: types.NodeCancelled},
		{NodeId: "NOD-C", Status: types.OutputSuccess},
	}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	done := store.finalized["EXC-1"]
	assert.Equal(t, types.ExecutionFailed, done.status)

	results := decodeResults(t, done.results)
	assert.Equal(t, "boom", results["NOD-A"].ErrorMessage)
	assert.Equal(t, "SCRIPT_MISSING", results["NOD-A"].ErrorDetails["code"])
	assert.Equal(t, types.NodeCancelled, results["NOD-B"].Status)
}

func TestEvaluateNotYetTerminal(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 2, time.Minute)
	store.outputs["EXC-1"] = []*client.ExecutionOutput{{NodeId: "NOD-A", Status: types.OutputSuccess}}
	store.inputs["EXC-1"] = []*client.ExecutionInput{{NodeId: "NOD-B", State: types.InputReady}}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	assert.Empty(t, store.finalized)
}

func TestEvaluateCancelled(t *testing.T) {
	store := newFakeStore()
	exec := running(store, "EXC-1", 2, time.Minute)
	exec.IsCancelRequested = true
	store.outputs["EXC-1"] = []*client.ExecutionOutput{{NodeId: "NOD-A", Status: types.OutputSuccess}}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	done := store.finalized["EXC-1"]
	assert.Equal(t, types.ExecutionCancelled, done.status)
	assert.Equal(t, "{}", done.results, "recorded results suppressed")
}

func TestEvaluateTimeout(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 2, 2*time.Hour)
	store.outputs["EXC-1"] = []*client.ExecutionOutput{{NodeId: "NOD-A", Status: types.OutputSuccess}}
	store.inputs["EXC-1"] = []*client.ExecutionInput{{NodeId: "NOD-B", State: types.InputInFlight}}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	done := store.finalized["EXC-1"]
	assert.Equal(t, types.ExecutionTimeout, done.status)

	results := decodeResults(t, done.results)
	assert.Equal(t, types.NodeUnreached, results["NOD-B"].Status)
}

func TestEvaluateStuckGraph(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 3, time.Minute)
	store.outputs["EXC-1"] = []*client.ExecutionOutput{{NodeId: "NOD-A", Status: types.OutputSuccess}}
	// A two-node cycle: both WAITING, nothing READY or IN_FLIGHT.
	store.inputs["EXC-1"] = []*client.ExecutionInput{
		{NodeId: "NOD-B", State: types.InputWaiting, DependencyCount: 1},
		{NodeId: "NOD-C", State: types.InputWaiting, DependencyCount: 1},
	}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	done := store.finalized["EXC-1"]
	assert.Equal(t, types.ExecutionFailed, done.status)

	results := decodeResults(t, done.results)
	assert.Equal(t, types.NodeUnreached, results["NOD-B"].Status)
	assert.Equal(t, types.NodeUnreached, results["NOD-C"].Status)
}

func TestEvaluateOutstandingDispatchIsNotStuck(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-1", 3, time.Minute)
	// Diamond head done, NOD-B dispatched (input row gone, result pending),
	// NOD-C still waiting on it. Only WAITING rows remain but the graph is
	// live; evaluation must leave it open for NOD-B's ingest.
	store.outputs["EXC-1"] = []*client.ExecutionOutput{{NodeId: "NOD-A", Status: types.OutputSuccess}}
	store.inputs["EXC-1"] = []*client.ExecutionInput{
		{NodeId: "NOD-C", State: types.InputWaiting, DependencyCount: 1},
	}
	fin := New(store, time.Hour, time.Minute)

	require.NoError(t, fin.Evaluate(context.Background(), "EXC-1"))
	assert.Empty(t, store.finalized)
}

func TestSweep(t *testing.T) {
	store := newFakeStore()
	running(store, "EXC-OLD", 1, 3*time.Hour)
	running(store, "EXC-NEW", 1, time.Minute)
	store.inputs["EXC-OLD"] = []*client.ExecutionInput{{NodeId: "NOD-A", State: types.InputInFlight}}
	store.inputs["EXC-NEW"] = []*client.ExecutionInput{{NodeId: "NOD-A", State: types.InputReady}}
	fin := New(store, time.Hour, time.Minute)

	fin.Sweep(context.Background())
	assert.Equal(t, types.ExecutionTimeout, store.finalized["EXC-OLD"].status)
	_, touched := store.finalized["EXC-NEW"]
	assert.False(t, touched)
}
