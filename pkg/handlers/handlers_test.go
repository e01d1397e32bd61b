/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflowhq/miniflow/pkg/auth"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	triggers   map[string]*client.Trigger
	workflows  map[string]*client.Workflow
	executions map[string]*client.Execution
	cancelled  []string
}

func (f *fakeStore) GetTrigger(_ context.Context, id string) (*client.Trigger, error) {
	if t, ok := f.triggers[id]; ok {
		return t, nil
	}
	return nil, apierrors.NewNotFound("Trigger", id)
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*client.Workflow, error) {
	if wf, ok := f.workflows[id]; ok {
		return wf, nil
	}
	return nil, apierrors.NewNotFound("Workflow", id)
}

func (f *fakeStore) GetExecution(_ context.Context, id string) (*client.Execution, error) {
	if exec, ok := f.executions[id]; ok {
		return exec, nil
	}
	return nil, apierrors.NewNotFound("execution", id)
}

func (f *fakeStore) RequestCancel(_ context.Context, executionID string) error {
	f.cancelled = append(f.cancelled, executionID)
	return nil
}

func (f *fakeStore) ListExecutions(_ context.Context, filter client.ExecutionListFilter) ([]*client.Execution, error) {
	var out []*client.Execution
	for _, exec := range f.executions {
		if exec.WorkspaceId != filter.WorkspaceId {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

func (f *fakeStore) CountExecutions(_ context.Context, filter client.ExecutionListFilter) (int64, error) {
	execs, _ := f.ListExecutions(context.Background(), filter)
	return int64(len(execs)), nil
}

type fakeStarter struct {
	started *client.Execution
	err     error

	gotWorkspace string
	gotWorkflow  string
	gotTrigger   string
	gotPayload   map[string]any
}

func (f *fakeStarter) Start(_ context.Context, workspaceID, workflowID, triggerID string, payload map[string]any) (*client.Execution, error) {
	f.gotWorkspace, f.gotWorkflow, f.gotTrigger, f.gotPayload = workspaceID, workflowID, triggerID, payload
	if f.err != nil {
		return nil, f.err
	}
	return f.started, nil
}

type fakeMachine struct {
	calls []string
	err   error
}

func (f *fakeMachine) record(op, id string) error {
	f.calls = append(f.calls, op+":"+id)
	return f.err
}

func (f *fakeMachine) Activate(_ context.Context, id string) error { return f.record("activate", id) }
func (f *fakeMachine) Deactivate(_ context.Context, id string) error {
	return f.record("deactivate", id)
}
func (f *fakeMachine) Archive(_ context.Context, id string) error  { return f.record("archive", id) }
func (f *fakeMachine) SetDraft(_ context.Context, id string) error { return f.record("draft", id) }
func (f *fakeMachine) EnableTrigger(_ context.Context, id string) error {
	return f.record("enable", id)
}
func (f *fakeMachine) DisableTrigger(_ context.Context, id string) error {
	return f.record("disable", id)
}

type fakeQuota struct{ allowed bool }

func (f *fakeQuota) Allows(context.Context, string, string) (bool, error) { return f.allowed, nil }

type fakeSink struct{ results []*runtime.Result }

func (f *fakeSink) Ingest(_ context.Context, result *runtime.Result) error {
	f.results = append(f.results, result)
	return nil
}

type fakeNotifier struct{ pokes []string }

func (f *fakeNotifier) Poke(executionID string) { f.pokes = append(f.pokes, executionID) }

type fakeAuthz struct{ denied bool }

func (f *fakeAuthz) AuthorizeWorkspace(_ context.Context, _ *auth.Identity, _ string) error {
	if f.denied {
		return apierrors.NewForbidden("not a member of this workspace")
	}
	return nil
}

type fixture struct {
	store    *fakeStore
	starter  *fakeStarter
	machine  *fakeMachine
	sink     *fakeSink
	notifier *fakeNotifier
	authz    *fakeAuthz
	engine   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeStore{
			triggers:   map[string]*client.Trigger{},
			workflows:  map[string]*client.Workflow{},
			executions: map[string]*client.Execution{},
		},
		starter:  &fakeStarter{},
		machine:  &fakeMachine{},
		sink:     &fakeSink{},
		notifier: &fakeNotifier{},
		authz:    &fakeAuthz{},
	}
	h := New(f.store, f.starter, f.machine, &fakeQuota{allowed: true}, f.sink, f.notifier, f.authz)

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(IdentityKey, &auth.Identity{UserID: "USR-1"})
	})
	engine.POST("/webhooks/:triggerId", h.Webhook)
	engine.POST("/internal/v1/results", h.IngestResult)
	ws := engine.Group("/api/v1/workspaces/:workspaceId")
	ws.GET("/executions", h.ListExecutions)
	ws.GET("/executions/:executionId", h.GetExecution)
	ws.POST("/executions/:executionId/cancel", h.CancelExecution)
	ws.POST("/workflows/:workflowId/activate", h.ActivateWorkflow)
	ws.POST("/workflows/:workflowId/archive", h.ArchiveWorkflow)
	ws.POST("/workflows/:workflowId/triggers/:triggerId/run", h.Run)
	ws.POST("/triggers/:triggerId/enable", h.EnableTrigger)
	ws.GET("/features/:feature", h.Feature)
	f.engine = engine
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestRunStartsExecution(t *testing.T) {
	f := newFixture(t)
	f.starter.started = &client.Execution{
		Id: "EXC-1", WorkspaceId: "WSP-1", WorkflowId: "WFL-1",
		Status: types.ExecutionRunning, PlannedNodes: 3,
	}

	rec, body := f.do(t, http.MethodPost,
		"/api/v1/workspaces/WSP-1/workflows/WFL-1/triggers/TRG-1/run",
		map[string]any{"url": "https://example.com"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "EXC-1", data["id"])
	assert.Equal(t, float64(3), data["planned_nodes"])
	assert.Equal(t, "WSP-1", f.starter.gotWorkspace)
	assert.Equal(t, "TRG-1", f.starter.gotTrigger)
	assert.Equal(t, "https://example.com", f.starter.gotPayload["url"])
}

func TestRunStarterErrorKeepsEnvelope(t *testing.T) {
	f := newFixture(t)
	f.starter.err = apierrors.NewTriggerDisabled("TRG-1")

	rec, body := f.do(t, http.MethodPost,
		"/api/v1/workspaces/WSP-1/workflows/WFL-1/triggers/TRG-1/run", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, apierrors.TriggerDisabled, body["error_code"])
}

func TestWebhookResolvesWorkspaceFromTrigger(t *testing.T) {
	f := newFixture(t)
	f.store.triggers["TRG-hook"] = &client.Trigger{Id: "TRG-hook", WorkflowId: "WFL-9"}
	f.store.workflows["WFL-9"] = &client.Workflow{Id: "WFL-9", WorkspaceId: "WSP-9"}
	f.starter.started = &client.Execution{Id: "EXC-9", WorkspaceId: "WSP-9", WorkflowId: "WFL-9",
		Status: types.ExecutionRunning}

	rec, _ := f.do(t, http.MethodPost, "/webhooks/TRG-hook", map[string]any{"event": "push"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "WSP-9", f.starter.gotWorkspace)
	assert.Equal(t, "WFL-9", f.starter.gotWorkflow)
	assert.Equal(t, "push", f.starter.gotPayload["event"])
}

func TestWebhookDeniedForNonMember(t *testing.T) {
	f := newFixture(t)
	f.store.triggers["TRG-hook"] = &client.Trigger{Id: "TRG-hook", WorkflowId: "WFL-9"}
	f.store.workflows["WFL-9"] = &client.Workflow{Id: "WFL-9", WorkspaceId: "WSP-9"}
	f.authz.denied = true

	rec, body := f.do(t, http.MethodPost, "/webhooks/TRG-hook", nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierrors.Forbidden, body["error_code"])
	assert.Empty(t, f.starter.gotTrigger)
}

func TestListExecutionsFilters(t *testing.T) {
	f := newFixture(t)
	f.store.executions["EXC-1"] = &client.Execution{Id: "EXC-1", WorkspaceId: "WSP-1",
		Status: types.ExecutionCompleted}
	f.store.executions["EXC-2"] = &client.Execution{Id: "EXC-2", WorkspaceId: "WSP-1",
		Status: types.ExecutionRunning}
	f.store.executions["EXC-3"] = &client.Execution{Id: "EXC-3", WorkspaceId: "WSP-2",
		Status: types.ExecutionCompleted}

	rec, body := f.do(t, http.MethodGet,
		"/api/v1/workspaces/WSP-1/executions?status=COMPLETED", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	execs := data["executions"].([]any)
	require.Len(t, execs, 1)
	assert.Equal(t, "EXC-1", execs[0].(map[string]any)["id"])
}

func TestGetExecutionForeignWorkspaceIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.store.executions["EXC-1"] = &client.Execution{Id: "EXC-1", WorkspaceId: "WSP-other"}

	rec, body := f.do(t, http.MethodGet, "/api/v1/workspaces/WSP-1/executions/EXC-1", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.ResourceNotFound, body["error_code"])
}

func TestCancelExecutionPokesFinalizer(t *testing.T) {
	f := newFixture(t)
	f.store.executions["EXC-1"] = &client.Execution{Id: "EXC-1", WorkspaceId: "WSP-1",
		Status: types.ExecutionRunning}

	rec, _ := f.do(t, http.MethodPost, "/api/v1/workspaces/WSP-1/executions/EXC-1/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"EXC-1"}, f.store.cancelled)
	assert.Equal(t, []string{"EXC-1"}, f.notifier.pokes)
}

func TestWorkflowTransitionChecksOwnership(t *testing.T) {
	f := newFixture(t)
	f.store.workflows["WFL-1"] = &client.Workflow{Id: "WFL-1", WorkspaceId: "WSP-1",
		Status: types.WorkflowActive}

	rec, body := f.do(t, http.MethodPost, "/api/v1/workspaces/WSP-1/workflows/WFL-1/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"activate:WFL-1"}, f.machine.calls)
	data := body["data"].(map[string]any)
	assert.Equal(t, types.WorkflowActive, data["status"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/workspaces/WSP-other/workflows/WFL-1/archive", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"activate:WFL-1"}, f.machine.calls)
}

func TestEnableTriggerResolvesOwnership(t *testing.T) {
	f := newFixture(t)
	f.store.triggers["TRG-1"] = &client.Trigger{Id: "TRG-1", WorkflowId: "WFL-1"}
	f.store.workflows["WFL-1"] = &client.Workflow{Id: "WFL-1", WorkspaceId: "WSP-1"}

	rec, body := f.do(t, http.MethodPost, "/api/v1/workspaces/WSP-1/triggers/TRG-1/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"enable:TRG-1"}, f.machine.calls)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["is_enabled"])
}

func TestFeatureProbe(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/workspaces/WSP-1/features/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "webhooks", data["feature"])
	assert.Equal(t, true, data["allowed"])
}

func TestIngestResultValidation(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/internal/v1/results",
		map[string]any{"execution_id": "EXC-1", "node_id": "NOD-1", "status": "MAYBE"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierrors.ValidationError, body["error_code"])
	assert.Empty(t, f.sink.results)

	rec, _ = f.do(t, http.MethodPost, "/internal/v1/results", map[string]any{
		"execution_id": "EXC-1", "node_id": "NOD-1", "status": types.OutputSuccess,
		"result_data": map[string]any{"rows": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.sink.results, 1)
	assert.Equal(t, "NOD-1", f.sink.results[0].NodeId)
}
