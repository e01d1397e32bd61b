/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// fakeStore mimics the ingest semantics of the real client in memory.
type fakeStore struct {
	inputs  map[string]*client.ExecutionInput
	fanout  map[string][]string
	outputs map[string]*client.ExecutionOutput
	ingests int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inputs:  map[string]*client.ExecutionInput{},
		fanout:  map[string][]string{},
		outputs: map[string]*client.ExecutionOutput{},
	}
}

func (f *fakeStore) ListDownstream(_ context.Context, _, nodeID string) ([]*client.Fanout, error) {
	var links []*client.Fanout
	for _, downstream := range f.fanout[nodeID] {
		links = append(links, &client.Fanout{NodeId: nodeID, DownstreamNodeId: downstream})
	}
	return links, nil
}

func (f *fakeStore) ListInputsForExecution(context.Context, string) ([]*client.ExecutionInput, error) {
	var inputs []*client.ExecutionInput
	for _, input := range f.inputs {
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func (f *fakeStore) ApplyIngest(_ context.Context, out *client.ExecutionOutput, downstream []string, cancelled []*client.ExecutionOutput) error {
	if _, exists := f.outputs[out.NodeId]; exists {
		return nil
	}
	f.ingests++
	f.outputs[out.NodeId] = out
	delete(f.inputs, out.NodeId)
	for _, nodeID := range downstream {
		if input, ok := f.inputs[nodeID]; ok && input.State == types.InputWaiting {
			input.DependencyCount--
			if input.DependencyCount <= 0 {
				input.State = types.InputReady
			}
		}
	}
	for _, dead := range cancelled {
		f.outputs[dead.NodeId] = dead
		delete(f.inputs, dead.NodeId)
	}
	return nil
}

type fakeNotifier struct {
	pokes []string
}

func (f *fakeNotifier) Poke(executionID string) {
	f.pokes = append(f.pokes, executionID)
}

// Diamond: A -> B, A -> C, B -> D, C -> D. B consumes A's output, D consumes
// B's; C is edge-dependent only.
func diamond() *fakeStore {
	store := newFakeStore()
	store.inputs["NOD-A"] = &client.ExecutionInput{ExecutionId: "EXC-1", NodeId: "NOD-A", State: types.InputReady}
	store.inputs["NOD-B"] = &client.ExecutionInput{ExecutionId: "EXC-1", NodeId: "NOD-B",
		State: types.InputWaiting, DependencyCount: 1,
		Params: `{"rows":{"type":"array","value":"${node:NOD-A.rows}"}}`}
	store.inputs["NOD-C"] = &client.ExecutionInput{ExecutionId: "EXC-1", NodeId: "NOD-C",
		State: types.InputWaiting, DependencyCount: 1,
		Params: `{"note":{"type":"string","value":"independent"}}`}
	store.inputs["NOD-D"] = &client.ExecutionInput{ExecutionId: "EXC-1", NodeId: "NOD-D",
		State: types.InputWaiting, DependencyCount: 2,
		Params: `{"left":{"type":"string","value":"${node:NOD-B.out}"}}`}
	store.fanout["NOD-A"] = []string{"NOD-B", "NOD-C"}
	store.fanout["NOD-B"] = []string{"NOD-D"}
	store.fanout["NOD-C"] = []string{"NOD-D"}
	return store
}

func TestIngestReleasesDownstream(t *testing.T) {
	store := diamond()
	notifier := &fakeNotifier{}
	col := New(store, notifier)

	err := col.Ingest(context.Background(), &runtime.Result{
		ExecutionId: "EXC-1", NodeId: "NOD-A", Status: types.OutputSuccess,
		ResultData: map[string]any{"rows": []any{1, 2}}, Duration: 0.5,
	})
	require.NoError(t, err)

	assert.NotContains(t, store.inputs, "NOD-A")
	assert.Equal(t, types.InputReady, store.inputs["NOD-B"].State)
	assert.Equal(t, types.InputReady, store.inputs["NOD-C"].State)
	assert.Equal(t, types.InputWaiting, store.inputs["NOD-D"].State)
	assert.Equal(t, int64(2), store.inputs["NOD-D"].DependencyCount)
	assert.Equal(t, []string{"EXC-1"}, notifier.pokes)

	out := store.outputs["NOD-A"]
	require.NotNil(t, out)
	assert.Equal(t, types.OutputSuccess, out.Status)
	assert.JSONEq(t, `{"rows":[1,2]}`, out.ResultData)
}

func TestIngestIdempotent(t *testing.T) {
	store := diamond()
	col := New(store, &fakeNotifier{})
	result := &runtime.Result{ExecutionId: "EXC-1", NodeId: "NOD-A", Status: types.OutputSuccess}

	require.NoError(t, col.Ingest(context.Background(), result))
	require.NoError(t, col.Ingest(context.Background(), result))

	assert.Equal(t, 1, store.ingests)
	assert.Equal(t, int64(0), store.inputs["NOD-B"].DependencyCount, "decremented once")
}

func TestIngestFailureCancelsDataDependents(t *testing.T) {
	store := diamond()
	col := New(store, &fakeNotifier{})

	err := col.Ingest(context.Background(), &runtime.Result{
		ExecutionId: "EXC-1", NodeId: "NOD-A", Status: types.OutputFailed,
		ErrorMessage: "boom",
	})
	require.NoError(t, err)

	// B references A and is cancelled; D is downstream of B and cancelled
	// transitively; C carries no data dependency and keeps running.
	assert.NotContains(t, store.inputs, "NOD-B")
	assert.NotContains(t, store.inputs, "NOD-D")
	require.Contains(t, store.inputs, "NOD-C")
	assert.Equal(t, types.InputReady, store.inputs["NOD-C"].State)

	assert.Equal(t, types.NodeCancelled, store.outputs["NOD-B"].Status)
	assert.Equal(t, types.NodeCancelled, store.outputs["NOD-D"].Status)
	assert.Equal(t, types.OutputFailed, store.outputs["NOD-A"].Status)
}
