/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflowhq/miniflow/pkg/collector"
	"github.com/miniflowhq/miniflow/pkg/database"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/finalizer"
	"github.com/miniflowhq/miniflow/pkg/planner"
	"github.com/miniflowhq/miniflow/pkg/reference"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/trigger"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// memStore backs whole-pipeline tests: admission, planning, claiming, ingest
// and finalization all run against the same in-memory state, the way the
// loops share one database in production.
type memStore struct {
	mu        sync.Mutex
	triggers  map[string]*client.Trigger
	workflows map[string]*client.Workflow
	nodes     map[string][]*client.Node
	edges     map[string][]*client.Edge
	scripts   map[string]*client.Script
	execs     map[string]*client.Execution
	inputs    map[string]map[string]*client.ExecutionInput
	outputs   map[string]map[string]*client.ExecutionOutput
	fanout    map[string][]*client.Fanout
	results   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		triggers:  map[string]*client.Trigger{},
		workflows: map[string]*client.Workflow{},
		nodes:     map[string][]*client.Node{},
		edges:     map[string][]*client.Edge{},
		scripts:   map[string]*client.Script{},
		execs:     map[string]*client.Execution{},
		inputs:    map[string]map[string]*client.ExecutionInput{},
		outputs:   map[string]map[string]*client.ExecutionOutput{},
		fanout:    map[string][]*client.Fanout{},
		results:   map[string]string{},
	}
}

func (m *memStore) GetTrigger(_ context.Context, id string) (*client.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trg, ok := m.triggers[id]
	if !ok {
		return nil, apierrors.NewNotFound("Trigger", id)
	}
	return trg, nil
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*client.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, apierrors.NewNotFound("Workflow", id)
	}
	return wf, nil
}

func (m *memStore) InsertExecution(_ context.Context, exec *client.Execution, admit func(tx *sqlx.Tx) error) error {
	if admit != nil {
		if err := admit(nil); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[exec.Id] = exec
	return nil
}

func (m *memStore) ListWorkflowNodes(_ context.Context, workflowID string) ([]*client.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[workflowID], nil
}

func (m *memStore) ListWorkflowEdges(_ context.Context, workflowID string) ([]*client.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[workflowID], nil
}

func (m *memStore) GetScript(_ context.Context, id string) (*client.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	script, ok := m.scripts[id]
	if !ok {
		return nil, apierrors.NewNotFound("script", id)
	}
	return script, nil
}

func (m *memStore) GetCustomScript(_ context.Context, id string) (*client.CustomScript, error) {
	return nil, apierrors.NewNotFound("custom script", id)
}

func (m *memStore) ApplyPlan(_ context.Context, executionID string, inputs []*client.ExecutionInput, fanout []*client.Fanout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNode := make(map[string]*client.ExecutionInput, len(inputs))
	for _, input := range inputs {
		byNode[input.NodeId] = input
	}
	m.inputs[executionID] = byNode
	m.outputs[executionID] = map[string]*client.ExecutionOutput{}
	m.fanout[executionID] = fanout
	exec := m.execs[executionID]
	exec.Status = types.ExecutionRunning
	exec.PlannedNodes = int64(len(inputs))
	exec.StartedAt = database.NullTime(time.Now())
	return nil
}

func (m *memStore) ClaimReadyInputs(_ context.Context, batch int) ([]*client.ExecutionInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*client.ExecutionInput
	for _, byNode := range m.inputs {
		for _, input := range byNode {
			if input.State == types.InputReady {
				ready = append(ready, input)
			}
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].NodeId < ready[j].NodeId })
	if batch < len(ready) {
		ready = ready[:batch]
	}
	for _, input := range ready {
		input.State = types.InputInFlight
	}
	return ready, nil
}

func (m *memStore) DeleteInput(_ context.Context, executionID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs[executionID], nodeID)
	return nil
}

func (m *memStore) GetExecution(_ context.Context, id string) (*client.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.execs[id]
	if !ok {
		return nil, apierrors.NewNotFound("execution", id)
	}
	return exec, nil
}

func (m *memStore) ReleaseExpiredClaims(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *memStore) ListDownstream(_ context.Context, executionID, nodeID string) ([]*client.Fanout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []*client.Fanout
	for _, link := range m.fanout[executionID] {
		if link.NodeId == nodeID {
			links = append(links, link)
		}
	}
	return links, nil
}

func (m *memStore) ListInputsForExecution(_ context.Context, executionID string) ([]*client.ExecutionInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inputs []*client.ExecutionInput
	for _, input := range m.inputs[executionID] {
		inputs = append(inputs, input)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].NodeId < inputs[j].NodeId })
	return inputs, nil
}

func (m *memStore) ListOutputsForExecution(_ context.Context, executionID string) ([]*client.ExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var outs []*client.ExecutionOutput
	for _, out := range m.outputs[executionID] {
		outs = append(outs, out)
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].NodeId < outs[j].NodeId })
	return outs, nil
}

func (m *memStore) ApplyIngest(_ context.Context, out *client.ExecutionOutput, downstream []string, cancelled []*client.ExecutionOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNode := m.outputs[out.ExecutionId]
	if _, exists := byNode[out.NodeId]; exists {
		return nil
	}
	byNode[out.NodeId] = out
	delete(m.inputs[out.ExecutionId], out.NodeId)
	for _, nodeID := range downstream {
		if input, ok := m.inputs[out.ExecutionId][nodeID]; ok && input.State == types.InputWaiting {
			input.DependencyCount--
		}
	}
	for _, input := range m.inputs[out.ExecutionId] {
		if input.State == types.InputWaiting && input.DependencyCount <= 0 {
			input.State = types.InputReady
		}
	}
	for _, dead := range cancelled {
		if _, exists := byNode[dead.NodeId]; exists {
			continue
		}
		byNode[dead.NodeId] = dead
		delete(m.inputs[dead.ExecutionId], dead.NodeId)
	}
	return nil
}

func (m *memStore) ListRunningPastDeadline(context.Context, time.Time) ([]*client.Execution, error) {
	return nil, nil
}

func (m *memStore) FinalizeExecution(_ context.Context, executionID, status, results string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec := m.execs[executionID]
	if types.IsTerminalExecution(exec.Status) {
		return nil
	}
	exec.Status = status
	m.results[executionID] = results
	return nil
}

// memStore doubles as the resolver's state fetcher.

func (m *memStore) BatchVariables(context.Context, string, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (m *memStore) BatchCredentials(context.Context, string, []string) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}

func (m *memStore) BatchDatabases(context.Context, string, []string) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}

func (m *memStore) BatchFiles(context.Context, string, []string) (map[string]map[string]any, error) {
	return map[string]map[string]any{}, nil
}

func (m *memStore) NodeOutput(_ context.Context, executionID, nodeID string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[executionID][nodeID]
	if !ok || out.Status != types.OutputSuccess {
		return nil, false, nil
	}
	result, err := out.Result()
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (m *memStore) recordedNodes(executionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []string
	for nodeID := range m.outputs[executionID] {
		nodes = append(nodes, nodeID)
	}
	sort.Strings(nodes)
	return nodes
}

type openQuota struct{}

func (openQuota) CheckCreate(context.Context, *sqlx.Tx, string, string) error { return nil }
func (openQuota) Allows(context.Context, string, string) (bool, error)        { return true, nil }

// scriptedRuntime completes every dispatch synchronously through the
// collector, recording the dispatch order and which outputs were already
// durable when each node went out.
type scriptedRuntime struct {
	store     *memStore
	ingest    func(ctx context.Context, result *runtime.Result) error
	behave    map[string]func(d *runtime.Dispatch) *runtime.Result
	order     []string
	durableAt map[string][]string
}

func (s *scriptedRuntime) Dispatch(ctx context.Context, d *runtime.Dispatch) error {
	s.order = append(s.order, d.NodeId)
	s.durableAt[d.NodeId] = s.store.recordedNodes(d.ExecutionId)
	result := &runtime.Result{
		ExecutionId: d.ExecutionId,
		NodeId:      d.NodeId,
		Status:      types.OutputSuccess,
		ResultData:  map[string]any{"ok": true, "in": d.Params},
		Duration:    0.01,
	}
	if behave, ok := s.behave[d.NodeId]; ok {
		result = behave(d)
	}
	return s.ingest(ctx, result)
}

type pipeline struct {
	store     *memStore
	runtime   *scriptedRuntime
	validator *trigger.Validator
	scheduler *Scheduler
	finalizer *finalizer.Finalizer
}

func newPipeline(store *memStore) *pipeline {
	fin := finalizer.New(store, time.Hour, time.Minute)
	rt := &scriptedRuntime{
		store:     store,
		behave:    map[string]func(d *runtime.Dispatch) *runtime.Result{},
		durableAt: map[string][]string{},
	}
	coll := collector.New(store, fin)
	rt.ingest = coll.Ingest
	sched := New(store, reference.NewResolver(store), rt, coll, Options{BatchSize: 10})
	return &pipeline{
		store:     store,
		runtime:   rt,
		validator: trigger.New(store, openQuota{}, planner.New(store)),
		scheduler: sched,
		finalizer: fin,
	}
}

// drain runs Tick until a full pass dispatches nothing, then evaluates the
// execution for a terminal state.
func (p *pipeline) drain(t *testing.T, executionID string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		dispatched, err := p.scheduler.Tick(ctx)
		require.NoError(t, err)
		if dispatched == 0 {
			break
		}
	}
	require.NoError(t, p.finalizer.Evaluate(ctx, executionID))
}

func seedGraph(store *memStore, nodes map[string]string, edges [][2]string) {
	store.workflows["WFL-1"] = &client.Workflow{
		Id: "WFL-1", WorkspaceId: "WSP-1", Status: types.WorkflowActive, Priority: 5,
	}
	store.triggers["TRG-1"] = &client.Trigger{
		Id: "TRG-1", WorkflowId: "WFL-1", Type: types.TriggerManual,
		InputMapping: "{}", IsEnabled: true,
	}
	store.scripts["SCR-1"] = &client.Script{
		Id: "SCR-1", Name: "noop", FilePath: "builtin/noop.py", ProcessType: "python",
	}
	for nodeID, params := range nodes {
		store.nodes["WFL-1"] = append(store.nodes["WFL-1"], &client.Node{
			Id: nodeID, WorkflowId: "WFL-1", Name: nodeID,
			ScriptId: database.NullString("SCR-1"), InputParams: params,
			MaxRetries: 1, TimeoutSeconds: 30,
		})
	}
	sort.Slice(store.nodes["WFL-1"], func(i, j int) bool {
		return store.nodes["WFL-1"][i].Id < store.nodes["WFL-1"][j].Id
	})
	for _, edge := range edges {
		store.edges["WFL-1"] = append(store.edges["WFL-1"], &client.Edge{
			WorkflowId: "WFL-1", FromNodeId: edge[0], ToNodeId: edge[1],
		})
	}
}

func finalResults(t *testing.T, store *memStore, executionID string) map[string]types.NodeResult {
	t.Helper()
	results := map[string]types.NodeResult{}
	require.NoError(t, json.Unmarshal([]byte(store.results[executionID]), &results))
	return results
}

func linearChain() (nodes map[string]string, edges [][2]string) {
	nodes = map[string]string{
		"NOD-A": `{"x":{"type":"integer","value":"${trigger:seed}"}}`,
		"NOD-B": `{"y":{"type":"boolean","value":"${node:NOD-A.ok}"}}`,
		"NOD-C": `{"z":{"type":"boolean","value":"${node:NOD-B.in.y}"}}`,
	}
	edges = [][2]string{{"NOD-A", "NOD-B"}, {"NOD-B", "NOD-C"}}
	return nodes, edges
}

func TestLinearChainRunsToCompletion(t *testing.T) {
	store := newMemStore()
	nodes, edges := linearChain()
	seedGraph(store, nodes, edges)
	p := newPipeline(store)

	exec, err := p.validator.Start(context.Background(), "WSP-1", "WFL-1", "TRG-1",
		map[string]any{"seed": float64(7)})
	require.NoError(t, err)
	p.drain(t, exec.Id)

	assert.Equal(t, types.ExecutionCompleted, store.execs[exec.Id].Status)
	assert.Equal(t, []string{"NOD-A", "NOD-B", "NOD-C"}, p.runtime.order)

	results := finalResults(t, store, exec.Id)
	require.Len(t, results, 3)
	a := results["NOD-A"].ResultData.(map[string]any)
	assert.Equal(t, float64(7), a["in"].(map[string]any)["x"], "trigger payload reaches the first node")
	c := results["NOD-C"].ResultData.(map[string]any)
	assert.Equal(t, true, c["in"].(map[string]any)["z"], "upstream result chains through node references")
}

func TestDownstreamWaitsForDurableOutput(t *testing.T) {
	store := newMemStore()
	nodes, edges := linearChain()
	seedGraph(store, nodes, edges)
	p := newPipeline(store)

	exec, err := p.validator.Start(context.Background(), "WSP-1", "WFL-1", "TRG-1",
		map[string]any{"seed": float64(1)})
	require.NoError(t, err)
	p.drain(t, exec.Id)

	// Each node only goes out once every ancestor's output is committed.
	assert.Contains(t, p.runtime.durableAt["NOD-B"], "NOD-A")
	assert.Contains(t, p.runtime.durableAt["NOD-C"], "NOD-A")
	assert.Contains(t, p.runtime.durableAt["NOD-C"], "NOD-B")
}

func TestFailedBranchIsolation(t *testing.T) {
	store := newMemStore()
	nodes := map[string]string{
		"NOD-A": `{}`,
		"NOD-B": `{"a":{"type":"boolean","value":"${node:NOD-A.ok}"}}`,
		"NOD-D": `{"a":{"type":"boolean","value":"${node:NOD-A.ok}"}}`,
		"NOD-C": `{"b":{"type":"boolean","value":"${node:NOD-B.ok}"}}`,
	}
	edges := [][2]string{{"NOD-A", "NOD-B"}, {"NOD-A", "NOD-D"}, {"NOD-B", "NOD-C"}, {"NOD-D", "NOD-C"}}
	seedGraph(store, nodes, edges)
	p := newPipeline(store)
	p.runtime.behave["NOD-B"] = func(d *runtime.Dispatch) *runtime.Result {
		return &runtime.Result{ExecutionId: d.ExecutionId, NodeId: d.NodeId,
			Status: types.OutputFailed, ErrorMessage: "boom"}
	}

	exec, err := p.validator.Start(context.Background(), "WSP-1", "WFL-1", "TRG-1", nil)
	require.NoError(t, err)
	p.drain(t, exec.Id)

	assert.Equal(t, types.ExecutionFailed, store.execs[exec.Id].Status)
	assert.NotContains(t, p.runtime.order, "NOD-C", "data dependent of the failure never dispatches")
	assert.Contains(t, p.runtime.order, "NOD-D", "independent branch keeps running")

	results := finalResults(t, store, exec.Id)
	assert.Equal(t, types.OutputFailed, results["NOD-B"].Status)
	assert.Equal(t, types.OutputSuccess, results["NOD-D"].Status)
	assert.Equal(t, types.NodeCancelled, results["NOD-C"].Status)
}
