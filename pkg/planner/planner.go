/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package planner compiles a workflow graph into the per-execution input and
// fanout rows the scheduler and collector drive, in one store transaction.
package planner

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/idgen"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the planner consumes.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*client.Workflow, error)
	ListWorkflowNodes(ctx context.Context, workflowID string) ([]*client.Node, error)
	ListWorkflowEdges(ctx context.Context, workflowID string) ([]*client.Edge, error)
	GetScript(ctx context.Context, id string) (*client.Script, error)
	GetCustomScript(ctx context.Context, id string) (*client.CustomScript, error)
	ApplyPlan(ctx context.Context, executionID string, inputs []*client.ExecutionInput, fanout []*client.Fanout) error
}

// Planner snapshots graphs into execution inputs.
type Planner struct {
	store Store
}

// New builds a planner over the store.
func New(store Store) *Planner {
	return &Planner{store: store}
}

// scriptRef is the dispatch-relevant slice of a resolved script.
type scriptRef struct {
	name        string
	path        string
	processType string
}

// Plan snapshots the workflow of a PENDING execution: one ExecutionInput per
// node (WAITING while dependencies remain, READY otherwise) with a verbatim
// params copy and the script location captured at snapshot time, plus the
// fanout links the collector decrements through. The whole plan and the
// PENDING to RUNNING promotion commit as one transaction.
func (p *Planner) Plan(ctx context.Context, exec *client.Execution) error {
	wf, err := p.store.GetWorkflow(ctx, exec.WorkflowId)
	if err != nil {
		return err
	}
	nodes, err := p.store.ListWorkflowNodes(ctx, exec.WorkflowId)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return apierrors.NewBusinessRuleViolation("cannot plan a workflow with no nodes")
	}
	edges, err := p.store.ListWorkflowEdges(ctx, exec.WorkflowId)
	if err != nil {
		return err
	}

	inDegree := make(map[string]int64, len(nodes))
	for _, node := range nodes {
		inDegree[node.Id] = 0
	}
	fanout := make([]*client.Fanout, 0, len(edges))
	for _, edge := range edges {
		inDegree[edge.ToNodeId]++
		fanout = append(fanout, &client.Fanout{
			ExecutionId:      exec.Id,
			NodeId:           edge.FromNodeId,
			DownstreamNodeId: edge.ToNodeId,
		})
	}

	scripts := map[string]scriptRef{}
	inputs := make([]*client.ExecutionInput, 0, len(nodes))
	for _, node := range nodes {
		ref, err := p.resolveScript(ctx, node, scripts)
		if err != nil {
			return err
		}
		state := types.InputReady
		if inDegree[node.Id] > 0 {
			state = types.InputWaiting
		}
		inputs = append(inputs, &client.ExecutionInput{
			Id:              idgen.New(idgen.PrefixExecutionInput),
			ExecutionId:     exec.Id,
			NodeId:          node.Id,
			NodeName:        node.Name,
			State:           state,
			Priority:        wf.Priority,
			DependencyCount: inDegree[node.Id],
			MaxRetries:      node.MaxRetries,
			TimeoutSeconds:  node.TimeoutSeconds,
			Params:          node.InputParams,
			ScriptName:      ref.name,
			ScriptPath:      ref.path,
			ProcessType:     ref.processType,
		})
	}

	if err := p.store.ApplyPlan(ctx, exec.Id, inputs, fanout); err != nil {
		return err
	}
	klog.InfoS("execution planned", "execution", exec.Id, "workflow", wf.Id,
		"nodes", len(inputs), "edges", len(fanout))
	return nil
}

// resolveScript captures the on-disk location of the node's script. A node
// references exactly one of a global script or an approved custom script; the
// path is snapshotted so later catalog changes cannot invalidate the plan.
func (p *Planner) resolveScript(ctx context.Context, node *client.Node, cache map[string]scriptRef) (scriptRef, error) {
	hasScript := node.ScriptId.Valid && node.ScriptId.String != ""
	hasCustom := node.CustomScriptId.Valid && node.CustomScriptId.String != ""
	switch {
	case hasScript == hasCustom:
		return scriptRef{}, apierrors.NewBusinessRuleViolation(
			fmt.Sprintf("node %s must reference exactly one script", node.Id))
	case hasScript:
		if ref, ok := cache[node.ScriptId.String]; ok {
			return ref, nil
		}
		script, err := p.store.GetScript(ctx, node.ScriptId.String)
		if err != nil {
			return scriptRef{}, err
		}
		ref := scriptRef{name: script.Name, path: script.FilePath, processType: script.ProcessType}
		cache[node.ScriptId.String] = ref
		return ref, nil
	default:
		if ref, ok := cache[node.CustomScriptId.String]; ok {
			return ref, nil
		}
		script, err := p.store.GetCustomScript(ctx, node.CustomScriptId.String)
		if err != nil {
			return scriptRef{}, err
		}
		if script.ApprovalStatus != types.ApprovalApproved {
			return scriptRef{}, apierrors.NewBusinessRuleViolation(
				fmt.Sprintf("custom script %s is not approved", script.Id))
		}
		ref := scriptRef{name: script.Name, path: script.FilePath, processType: script.ProcessType}
		cache[node.CustomScriptId.String] = ref
		return ref, nil
	}
}
