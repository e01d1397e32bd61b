/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package trigger admits execution start requests: trigger lookup, run gate,
// payload validation against the trigger's input mapping, plan-feature and
// quota checks, then allocation of a PENDING execution handed to the planner.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/idgen"
	"github.com/miniflowhq/miniflow/pkg/reference"
	"github.com/miniflowhq/miniflow/pkg/types"
	"github.com/miniflowhq/miniflow/pkg/workflow"
)

// Store is the slice of the store client the validator consumes.
type Store interface {
	GetTrigger(ctx context.Context, id string) (*client.Trigger, error)
	GetWorkflow(ctx context.Context, id string) (*client.Workflow, error)
	InsertExecution(ctx context.Context, exec *client.Execution, admit func(tx *sqlx.Tx) error) error
}

// Quota is the plan-limit surface the validator consumes.
type Quota interface {
	CheckCreate(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string) error
	Allows(ctx context.Context, workspaceID, feature string) (bool, error)
}

// Planner compiles an admitted execution.
type Planner interface {
	Plan(ctx context.Context, exec *client.Execution) error
}

// Validator admits and plans execution starts.
type Validator struct {
	store   Store
	quota   Quota
	planner Planner
}

// New builds a validator.
func New(store Store, quota Quota, planner Planner) *Validator {
	return &Validator{store: store, quota: quota, planner: planner}
}

// Start runs the full admission pipeline and returns the planned execution.
// The workspace and workflow ids are the caller's claim and are checked
// against the trigger's actual ownership; a mismatch reads as not found.
func (v *Validator) Start(ctx context.Context, workspaceID, workflowID, triggerID string, payload map[string]any) (*client.Execution, error) {
	trigger, err := v.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if workflowID != "" && trigger.WorkflowId != workflowID {
		return nil, apierrors.NewNotFound("Trigger", triggerID)
	}
	wf, err := v.store.GetWorkflow(ctx, trigger.WorkflowId)
	if err != nil {
		return nil, err
	}
	if wf.WorkspaceId != workspaceID {
		return nil, apierrors.NewNotFound("Trigger", triggerID)
	}
	if !trigger.IsEnabled {
		return nil, apierrors.NewTriggerDisabled(triggerID)
	}
	if !workflow.RunGate(wf, trigger) {
		return nil, apierrors.NewBusinessRuleViolation("workflow is not active")
	}
	if err := v.checkFeature(ctx, workspaceID, trigger.Type); err != nil {
		return nil, err
	}

	mapping, err := trigger.Mapping()
	if err != nil {
		return nil, apierrors.NewInternalError(fmt.Sprintf("trigger %s carries a malformed input mapping", triggerID))
	}
	validated, err := ValidatePayload(mapping, payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(validated)
	if err != nil {
		return nil, apierrors.NewInternalError("failed to encode trigger data")
	}
	exec := &client.Execution{
		Id:          idgen.New(idgen.PrefixExecution),
		WorkspaceId: workspaceID,
		WorkflowId:  wf.Id,
		TriggerId:   database.NullString(triggerID),
		Status:      types.ExecutionPending,
		TriggerData: string(data),
	}
	// Quota checks run inside the insert transaction so the locked counter
	// reads cover the row they admit.
	admit := func(tx *sqlx.Tx) error {
		if err := v.quota.CheckCreate(ctx, tx, workspaceID, types.ResourceConcurrentExecutions); err != nil {
			return err
		}
		return v.quota.CheckCreate(ctx, tx, workspaceID, types.ResourceMonthlyExecutions)
	}
	if err := v.store.InsertExecution(ctx, exec, admit); err != nil {
		return nil, err
	}
	if err := v.planner.Plan(ctx, exec); err != nil {
		return nil, err
	}
	klog.InfoS("execution started", "execution", exec.Id, "workflow", wf.Id,
		"trigger", triggerID, "workspace", workspaceID)
	return exec, nil
}

// checkFeature gates trigger types behind plan features. Manual and event
// triggers are always available.
func (v *Validator) checkFeature(ctx context.Context, workspaceID, triggerType string) error {
	var feature string
	switch triggerType {
	case types.TriggerWebhook:
		feature = types.FeatureWebhooks
	case types.TriggerScheduled:
		feature = types.FeatureScheduling
	default:
		return nil
	}
	ok, err := v.quota.Allows(ctx, workspaceID, feature)
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.NewForbidden(fmt.Sprintf("plan does not include %s", feature))
	}
	return nil
}

// ValidatePayload checks a caller payload against the trigger's input
// mapping and returns the validated form with defaults applied. A strict
// mapping rejects undeclared fields.
func ValidatePayload(mapping types.InputMapping, payload map[string]any) (map[string]any, error) {
	validated := map[string]any{}
	if mapping.Strict {
		for field := range payload {
			if _, ok := mapping.Fields[field]; !ok {
				return nil, apierrors.NewValidationError(fmt.Sprintf("unknown field %q", field))
			}
		}
	}
	for field, decl := range mapping.Fields {
		value, present := payload[field]
		if !present {
			if decl.Default != nil {
				validated[field] = decl.Default
				continue
			}
			if decl.Required {
				return nil, apierrors.NewValidationError(fmt.Sprintf("missing required field %q", field))
			}
			continue
		}
		coerced, err := reference.Coerce(field, decl.Type, value)
		if err != nil {
			return nil, apierrors.NewValidationError(
				fmt.Sprintf("field %q is not a valid %s", field, decl.Type))
		}
		validated[field] = coerced
	}
	// Non-strict mappings pass undeclared fields through untouched.
	for field, value := range payload {
		if _, ok := mapping.Fields[field]; !ok && !mapping.Strict {
			validated[field] = value
		}
	}
	return validated, nil
}

// DefaultPayload is the payload a scheduled fire supplies: every declared
// default, nothing else.
func DefaultPayload(mapping types.InputMapping) map[string]any {
	payload := map[string]any{}
	for field, decl := range mapping.Fields {
		if decl.Default != nil {
			payload[field] = decl.Default
		}
	}
	return payload
}
