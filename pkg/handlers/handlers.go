/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/miniflowhq/miniflow/pkg/auth"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// IdentityKey is the gin context key the authenticated identity lives under.
const IdentityKey = "identity"

// Store is the slice of the store client the handlers consume.
type Store interface {
	GetTrigger(ctx context.Context, id string) (*client.Trigger, error)
	GetWorkflow(ctx context.Context, id string) (*client.Workflow, error)
	GetExecution(ctx context.Context, id string) (*client.Execution, error)
	RequestCancel(ctx context.Context, executionID string) error
	ListExecutions(ctx context.Context, filter client.ExecutionListFilter) ([]*client.Execution, error)
	CountExecutions(ctx context.Context, filter client.ExecutionListFilter) (int64, error)
}

// Starter admits execution start requests.
type Starter interface {
	Start(ctx context.Context, workspaceID, workflowID, triggerID string, payload map[string]any) (*client.Execution, error)
}

// Lifecycle drives workflow and trigger state transitions.
type Lifecycle interface {
	Activate(ctx context.Context, workflowID string) error
	Deactivate(ctx context.Context, workflowID string) error
	Archive(ctx context.Context, workflowID string) error
	SetDraft(ctx context.Context, workflowID string) error
	EnableTrigger(ctx context.Context, triggerID string) error
	DisableTrigger(ctx context.Context, triggerID string) error
}

// FeatureProbe answers plan capability probes.
type FeatureProbe interface {
	Allows(ctx context.Context, workspaceID, feature string) (bool, error)
}

// ResultSink accepts worker results from the ingest endpoint.
type ResultSink interface {
	Ingest(ctx context.Context, result *runtime.Result) error
}

// Notifier schedules terminal-state evaluation after a cancel.
type Notifier interface {
	Poke(executionID string)
}

// Authorizer checks workspace membership for routes resolved outside the
// workspace route group.
type Authorizer interface {
	AuthorizeWorkspace(ctx context.Context, identity *auth.Identity, workspaceID string) error
}

// Handlers holds every route implementation.
type Handlers struct {
	store    Store
	starter  Starter
	machine  Lifecycle
	quota    FeatureProbe
	sink     ResultSink
	notifier Notifier
	authz    Authorizer
}

// New builds the handler set.
func New(store Store, starter Starter, machine Lifecycle, quota FeatureProbe, sink ResultSink, notifier Notifier, authz Authorizer) *Handlers {
	return &Handlers{store: store, starter: starter, machine: machine,
		quota: quota, sink: sink, notifier: notifier, authz: authz}
}

// IdentityFrom returns the authenticated identity of the request.
func IdentityFrom(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if identity, ok := v.(*auth.Identity); ok {
			return identity
		}
	}
	return &auth.Identity{}
}

// Run starts one execution through a workspace-scoped trigger.
// POST /api/v1/workspaces/:workspaceId/workflows/:workflowId/triggers/:triggerId/run
func (h *Handlers) Run(c *gin.Context) {
	payload := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			AbortWithApiError(c, apierrors.NewInvalidInput("request body is not a JSON object"))
			return
		}
	}
	exec, err := h.starter.Start(c.Request.Context(), c.Param("workspaceId"),
		c.Param("workflowId"), c.Param("triggerId"), payload)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	Created(c, executionView(exec))
}

// Webhook starts one execution through a webhook trigger addressed only by
// id. The workspace is resolved from the trigger and the caller must be
// authorized for it.
// POST /webhooks/:triggerId
func (h *Handlers) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	trigger, err := h.store.GetTrigger(ctx, c.Param("triggerId"))
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	wf, err := h.store.GetWorkflow(ctx, trigger.WorkflowId)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	identity := IdentityFrom(c)
	if err := h.authz.AuthorizeWorkspace(ctx, identity, wf.WorkspaceId); err != nil {
		AbortWithApiError(c, err)
		return
	}
	payload := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			AbortWithApiError(c, apierrors.NewInvalidInput("request body is not a JSON object"))
			return
		}
	}
	exec, err := h.starter.Start(ctx, wf.WorkspaceId, wf.Id, trigger.Id, payload)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	Created(c, executionView(exec))
}

// ListExecutions answers a filtered, paginated execution listing.
// GET /api/v1/workspaces/:workspaceId/executions
func (h *Handlers) ListExecutions(c *gin.Context) {
	filter := client.ExecutionListFilter{
		WorkspaceId: c.Param("workspaceId"),
		WorkflowId:  c.Query("workflow_id"),
		Status:      c.Query("status"),
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	execs, err := h.store.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	total, err := h.store.CountExecutions(c.Request.Context(), filter)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	views := make([]gin.H, 0, len(execs))
	for _, exec := range execs {
		views = append(views, executionView(exec))
	}
	OK(c, gin.H{"executions": views, "total": total,
		"limit": filter.Limit, "offset": filter.Offset})
}

// GetExecution answers one execution.
// GET /api/v1/workspaces/:workspaceId/executions/:executionId
func (h *Handlers) GetExecution(c *gin.Context) {
	exec, err := h.ownedExecution(c)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	OK(c, executionView(exec))
}

// CancelExecution sets the cancel marker of a still-open execution.
// POST /api/v1/workspaces/:workspaceId/executions/:executionId/cancel
func (h *Handlers) CancelExecution(c *gin.Context) {
	exec, err := h.ownedExecution(c)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	if err := h.store.RequestCancel(c.Request.Context(), exec.Id); err != nil {
		AbortWithApiError(c, err)
		return
	}
	h.notifier.Poke(exec.Id)
	OK(c, gin.H{"id": exec.Id, "status": types.ExecutionCancelled})
}

func (h *Handlers) ownedExecution(c *gin.Context) (*client.Execution, error) {
	exec, err := h.store.GetExecution(c.Request.Context(), c.Param("executionId"))
	if err != nil {
		return nil, err
	}
	if exec.WorkspaceId != c.Param("workspaceId") {
		return nil, apierrors.NewNotFound("execution", c.Param("executionId"))
	}
	return exec, nil
}

// Workflow lifecycle endpoints.
// POST /api/v1/workspaces/:workspaceId/workflows/:workflowId/{activate,deactivate,archive,draft}
func (h *Handlers) ActivateWorkflow(c *gin.Context)   { h.transition(c, h.machine.Activate) }
func (h *Handlers) DeactivateWorkflow(c *gin.Context) { h.transition(c, h.machine.Deactivate) }
func (h *Handlers) ArchiveWorkflow(c *gin.Context)    { h.transition(c, h.machine.Archive) }
func (h *Handlers) DraftWorkflow(c *gin.Context)      { h.transition(c, h.machine.SetDraft) }

func (h *Handlers) transition(c *gin.Context, apply func(context.Context, string) error) {
	ctx := c.Request.Context()
	workflowID := c.Param("workflowId")
	wf, err := h.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	if wf.WorkspaceId != c.Param("workspaceId") {
		AbortWithApiError(c, apierrors.NewNotFound("Workflow", workflowID))
		return
	}
	if err := apply(ctx, workflowID); err != nil {
		AbortWithApiError(c, err)
		return
	}
	updated, err := h.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	OK(c, gin.H{"id": updated.Id, "status": updated.Status})
}

// Trigger enable/disable endpoints.
// POST /api/v1/workspaces/:workspaceId/triggers/:triggerId/{enable,disable}
func (h *Handlers) EnableTrigger(c *gin.Context)  { h.toggleTrigger(c, true) }
func (h *Handlers) DisableTrigger(c *gin.Context) { h.toggleTrigger(c, false) }

func (h *Handlers) toggleTrigger(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	triggerID := c.Param("triggerId")
	trigger, err := h.store.GetTrigger(ctx, triggerID)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	wf, err := h.store.GetWorkflow(ctx, trigger.WorkflowId)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	if wf.WorkspaceId != c.Param("workspaceId") {
		AbortWithApiError(c, apierrors.NewNotFound("Trigger", triggerID))
		return
	}
	apply := h.machine.DisableTrigger
	if enabled {
		apply = h.machine.EnableTrigger
	}
	if err := apply(ctx, triggerID); err != nil {
		AbortWithApiError(c, err)
		return
	}
	OK(c, gin.H{"id": triggerID, "is_enabled": enabled})
}

// Feature answers a plan capability probe.
// GET /api/v1/workspaces/:workspaceId/features/:feature
func (h *Handlers) Feature(c *gin.Context) {
	feature := c.Param("feature")
	allowed, err := h.quota.Allows(c.Request.Context(), c.Param("workspaceId"), feature)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	OK(c, gin.H{"feature": feature, "allowed": allowed})
}

// IngestResult accepts one worker result.
// POST /internal/v1/results
func (h *Handlers) IngestResult(c *gin.Context) {
	var result runtime.Result
	if err := c.ShouldBindJSON(&result); err != nil {
		AbortWithApiError(c, apierrors.NewInvalidInput("request body is not a result record"))
		return
	}
	if result.ExecutionId == "" || result.NodeId == "" {
		AbortWithApiError(c, apierrors.NewValidationError("execution_id and node_id are required"))
		return
	}
	if result.Status != types.OutputSuccess && result.Status != types.OutputFailed {
		AbortWithApiError(c, apierrors.NewValidationError("status must be SUCCESS or FAILED"))
		return
	}
	if err := h.sink.Ingest(c.Request.Context(), &result); err != nil {
		AbortWithApiError(c, err)
		return
	}
	OK(c, gin.H{"accepted": true})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// executionView renders one execution for the API.
func executionView(exec *client.Execution) gin.H {
	view := gin.H{
		"id":           exec.Id,
		"workspace_id": exec.WorkspaceId,
		"workflow_id":  exec.WorkflowId,
		"status":       exec.Status,
		"created_at":   exec.CreatedAt,
	}
	if exec.TriggerId.Valid {
		view["trigger_id"] = exec.TriggerId.String
	}
	if exec.PlannedNodes > 0 {
		view["planned_nodes"] = exec.PlannedNodes
	}
	if exec.StartedAt.Valid {
		view["started_at"] = exec.StartedAt.Time
	}
	if exec.EndedAt.Valid {
		view["ended_at"] = exec.EndedAt.Time
		view["duration"] = exec.Duration
	}
	if exec.Results != "" && exec.Results != "{}" {
		results := map[string]any{}
		if err := json.Unmarshal([]byte(exec.Results), &results); err == nil {
			view["results"] = results
		}
	}
	return view
}
