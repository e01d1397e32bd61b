/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package workflow enforces the DRAFT/ACTIVE/DEACTIVATED/ARCHIVED state
// machine, the trigger enablement cascade, and edge write-time validation.
package workflow

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/idgen"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the state machine consumes.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*client.Workflow, error)
	CountWorkflowNodes(ctx context.Context, workflowID string) (int64, error)
	ListWorkflowNodes(ctx context.Context, workflowID string) ([]*client.Node, error)
	ListWorkflowEdges(ctx context.Context, workflowID string) ([]*client.Edge, error)
	SetWorkflowStatus(ctx context.Context, workflowID, status string, cascade *bool) error
	GetNode(ctx context.Context, id string) (*client.Node, error)
	EdgeExists(ctx context.Context, fromNodeID, toNodeID string) (bool, error)
	InsertEdge(ctx context.Context, edge *client.Edge) error
	SetTriggerEnabled(ctx context.Context, triggerID string, enabled bool) error
	GetTrigger(ctx context.Context, id string) (*client.Trigger, error)
}

// Machine drives workflow lifecycle transitions.
type Machine struct {
	store Store
}

// New builds a machine over the store.
func New(store Store) *Machine {
	return &Machine{store: store}
}

func boolPtr(b bool) *bool { return &b }

// Activate moves a DRAFT or DEACTIVATED workflow to ACTIVE and enables every
// disabled trigger in the same transaction. Requires at least one node. A
// cyclic edge set is allowed but logged; its nodes can never dispatch.
func (m *Machine) Activate(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowDraft, types.WorkflowDeactivated:
	case types.WorkflowActive:
		return nil
	default:
		return transitionError(wf.Status, types.WorkflowActive)
	}
	nodeCount, err := m.store.CountWorkflowNodes(ctx, workflowID)
	if err != nil {
		return err
	}
	if nodeCount == 0 {
		return apierrors.NewBusinessRuleViolation("cannot activate a workflow with no nodes")
	}
	if cyclic, err := m.detectCycle(ctx, workflowID); err != nil {
		return err
	} else if len(cyclic) > 0 {
		klog.InfoS("workflow activates with a cycle, cycle nodes will never dispatch",
			"workflow", workflowID, "nodes", cyclic)
	}
	return m.store.SetWorkflowStatus(ctx, workflowID, types.WorkflowActive, boolPtr(true))
}

// Deactivate moves an ACTIVE workflow to DEACTIVATED, disabling every
// enabled trigger in the same transaction.
func (m *Machine) Deactivate(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowActive:
	case types.WorkflowDeactivated:
		return nil
	default:
		return transitionError(wf.Status, types.WorkflowDeactivated)
	}
	return m.store.SetWorkflowStatus(ctx, workflowID, types.WorkflowDeactivated, boolPtr(false))
}

// SetDraft returns a workflow to DRAFT. Allowed from every state except
// ARCHIVED. Trigger enablement is left untouched; the run gate already
// requires ACTIVE.
func (m *Machine) SetDraft(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowActive, types.WorkflowDeactivated:
	case types.WorkflowDraft:
		return nil
	default:
		return transitionError(wf.Status, types.WorkflowDraft)
	}
	return m.store.SetWorkflowStatus(ctx, workflowID, types.WorkflowDraft, nil)
}

// Archive moves a DRAFT or DEACTIVATED workflow to the terminal ARCHIVED
// state. An ACTIVE workflow must deactivate first.
func (m *Machine) Archive(ctx context.Context, workflowID string) error {
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case types.WorkflowDraft, types.WorkflowDeactivated:
	case types.WorkflowArchived:
		return nil
	default:
		return transitionError(wf.Status, types.WorkflowArchived)
	}
	return m.store.SetWorkflowStatus(ctx, workflowID, types.WorkflowArchived, boolPtr(false))
}

// EnableTrigger flips one trigger on. Rejected for archived workflows.
func (m *Machine) EnableTrigger(ctx context.Context, triggerID string) error {
	return m.setTrigger(ctx, triggerID, true)
}

// DisableTrigger flips one trigger off. A trigger may be disabled while the
// workflow stays ACTIVE.
func (m *Machine) DisableTrigger(ctx context.Context, triggerID string) error {
	return m.setTrigger(ctx, triggerID, false)
}

func (m *Machine) setTrigger(ctx context.Context, triggerID string, enabled bool) error {
	trigger, err := m.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return err
	}
	wf, err := m.store.GetWorkflow(ctx, trigger.WorkflowId)
	if err != nil {
		return err
	}
	if wf.Status == types.WorkflowArchived {
		return apierrors.NewBusinessRuleViolation("triggers of an archived workflow cannot change")
	}
	if trigger.IsEnabled == enabled {
		return nil
	}
	return m.store.SetTriggerEnabled(ctx, triggerID, enabled)
}

// RunGate reports whether an execution may start: the workflow is ACTIVE and
// the trigger enabled.
func RunGate(wf *client.Workflow, trigger *client.Trigger) bool {
	return wf.Status == types.WorkflowActive && trigger.IsEnabled
}

// CreateEdge validates and writes one edge: both endpoints in the same
// workflow, no self-loop, unique pair.
func (m *Machine) CreateEdge(ctx context.Context, workflowID, fromNodeID, toNodeID string) (*client.Edge, error) {
	if fromNodeID == toNodeID {
		return nil, apierrors.NewBusinessRuleViolation("an edge cannot join a node to itself")
	}
	from, err := m.store.GetNode(ctx, fromNodeID)
	if err != nil {
		return nil, err
	}
	to, err := m.store.GetNode(ctx, toNodeID)
	if err != nil {
		return nil, err
	}
	if from.WorkflowId != workflowID || to.WorkflowId != workflowID {
		return nil, apierrors.NewBusinessRuleViolation("both edge endpoints must belong to the workflow")
	}
	exists, err := m.store.EdgeExists(ctx, fromNodeID, toNodeID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierrors.NewAlreadyExists("edge", fromNodeID+"->"+toNodeID)
	}
	edge := &client.Edge{
		Id:         idgen.New(idgen.PrefixEdge),
		WorkflowId: workflowID,
		FromNodeId: fromNodeID,
		ToNodeId:   toNodeID,
	}
	if err := m.store.InsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// detectCycle peels zero-in-degree nodes off the graph and returns the ids
// of any that remain.
func (m *Machine) detectCycle(ctx context.Context, workflowID string) ([]string, error) {
	nodes, err := m.store.ListWorkflowNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	edges, err := m.store.ListWorkflowEdges(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	inDegree := make(map[string]int, len(nodes))
	fanout := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		inDegree[node.Id] = 0
	}
	for _, edge := range edges {
		inDegree[edge.ToNodeId]++
		fanout[edge.FromNodeId] = append(fanout[edge.FromNodeId], edge.ToNodeId)
	}
	queue := make([]string, 0, len(nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range fanout[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(nodes) {
		return nil, nil
	}
	var cyclic []string
	for id, deg := range inDegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return cyclic, nil
}

func transitionError(from, to string) error {
	return apierrors.NewBusinessRuleViolation(
		fmt.Sprintf("workflow cannot move from %s to %s", from, to))
}
