/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package collector ingests worker results: each result commits as one store
// transaction that records the output, releases downstream dependencies and
// cancels data-dependent descendants of a failed node.
package collector

import (
	"context"
	"encoding/json"
	"strings"

	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	"github.com/miniflowhq/miniflow/pkg/idgen"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the collector consumes.
type Store interface {
	ListDownstream(ctx context.Context, executionID, nodeID string) ([]*client.Fanout, error)
	ListInputsForExecution(ctx context.Context, executionID string) ([]*client.ExecutionInput, error)
	ApplyIngest(ctx context.Context, out *client.ExecutionOutput, downstream []string, cancelled []*client.ExecutionOutput) error
}

// Notifier is poked after every committed ingest so terminal detection runs.
type Notifier interface {
	Poke(executionID string)
}

// Collector turns worker results into committed execution state.
type Collector struct {
	store    Store
	notifier Notifier
}

// New builds a collector.
func New(store Store, notifier Notifier) *Collector {
	return &Collector{store: store, notifier: notifier}
}

// Run drains the results channel until ctx is cancelled. Ingest failures are
// logged and dropped; the claim lease re-queues the affected input.
func (c *Collector) Run(ctx context.Context, results <-chan *runtime.Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-results:
			if err := c.Ingest(ctx, result); err != nil {
				klog.ErrorS(err, "failed to ingest result",
					"execution", result.ExecutionId, "node", result.NodeId)
			}
		}
	}
}

// Ingest commits one result. Delivery is idempotent per (execution, node): a
// duplicate commits nothing. On a FAILED result every remaining input whose
// params reference the failed node is cancelled, together with everything
// downstream of a cancelled input through the recorded fanout; branches that
// carry no data dependency on the failure keep running.
func (c *Collector) Ingest(ctx context.Context, result *runtime.Result) error {
	links, err := c.store.ListDownstream(ctx, result.ExecutionId, result.NodeId)
	if err != nil {
		return err
	}
	downstream := make([]string, 0, len(links))
	for _, link := range links {
		downstream = append(downstream, link.DownstreamNodeId)
	}

	var cancelled []*client.ExecutionOutput
	if result.Status == types.OutputFailed {
		cancelled, err = c.cancelDescendants(ctx, result.ExecutionId, result.NodeId)
		if err != nil {
			return err
		}
	}

	out, err := toOutput(result)
	if err != nil {
		return err
	}
	if err := c.store.ApplyIngest(ctx, out, downstream, cancelled); err != nil {
		return err
	}
	klog.V(2).InfoS("result ingested", "execution", result.ExecutionId,
		"node", result.NodeId, "status", result.Status, "cancelled", len(cancelled))
	if c.notifier != nil {
		c.notifier.Poke(result.ExecutionId)
	}
	return nil
}

// cancelDescendants computes the CANCELLED output rows for a failed node:
// first every remaining input referencing ${node:<failed>…}, then the
// transitive fanout closure of those.
func (c *Collector) cancelDescendants(ctx context.Context, executionID, failedNodeID string) ([]*client.ExecutionOutput, error) {
	inputs, err := c.store.ListInputsForExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	remaining := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		remaining[input.NodeId] = true
	}

	dead := map[string]bool{}
	var frontier []string
	for _, input := range inputs {
		if referencesNode(input.Params, failedNodeID) {
			dead[input.NodeId] = true
			frontier = append(frontier, input.NodeId)
		}
	}
	for len(frontier) > 0 {
		nodeID := frontier[0]
		frontier = frontier[1:]
		links, err := c.store.ListDownstream(ctx, executionID, nodeID)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			next := link.DownstreamNodeId
			if remaining[next] && !dead[next] {
				dead[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	cancelled := make([]*client.ExecutionOutput, 0, len(dead))
	for nodeID := range dead {
		cancelled = append(cancelled, &client.ExecutionOutput{
			Id:           idgen.New(idgen.PrefixExecutionOutput),
			ExecutionId:  executionID,
			NodeId:       nodeID,
			Status:       types.NodeCancelled,
			ErrorMessage: "upstream node " + failedNodeID + " failed",
		})
	}
	return cancelled, nil
}

// referencesNode reports whether a raw params document carries a node
// reference to the given id.
func referencesNode(params, nodeID string) bool {
	return strings.Contains(params, "${node:"+nodeID)
}

func toOutput(result *runtime.Result) (*client.ExecutionOutput, error) {
	out := &client.ExecutionOutput{
		Id:           idgen.New(idgen.PrefixExecutionOutput),
		ExecutionId:  result.ExecutionId,
		NodeId:       result.NodeId,
		Status:       result.Status,
		Duration:     result.Duration,
		ErrorMessage: result.ErrorMessage,
	}
	if result.ResultData != nil {
		data, err := json.Marshal(result.ResultData)
		if err != nil {
			return nil, err
		}
		out.ResultData = string(data)
	}
	if len(result.ErrorDetails) > 0 {
		details, err := json.Marshal(result.ErrorDetails)
		if err != nil {
			return nil, err
		}
		out.ErrorDetails = string(details)
	}
	return out, nil
}
