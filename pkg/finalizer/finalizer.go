/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package finalizer detects terminal executions, aggregates their node
// results and closes them atomically.
package finalizer

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the finalizer consumes.
type Store interface {
	GetExecution(ctx context.Context, id string) (*client.Execution, error)
	ListInputsForExecution(ctx context.Context, executionID string) ([]*client.ExecutionInput, error)
	ListOutputsForExecution(ctx context.Context, executionID string) ([]*client.ExecutionOutput, error)
	FinalizeExecution(ctx context.Context, executionID, status, results string, startedAt time.Time) error
	ListRunningPastDeadline(ctx context.Context, cutoff time.Time) ([]*client.Execution, error)
}

// Finalizer closes executions. Pokes arrive from the collector after every
// ingest; a periodic sweep catches deadline overruns, cycles and lost
// results.
type Finalizer struct {
	store    Store
	deadline time.Duration
	sweep    time.Duration
	pokes    chan string
}

// New builds a finalizer with the execution deadline and sweep interval.
func New(store Store, deadline, sweep time.Duration) *Finalizer {
	return &Finalizer{
		store:    store,
		deadline: deadline,
		sweep:    sweep,
		pokes:    make(chan string, 256),
	}
}

// Poke schedules a terminal-state evaluation. Never blocks; a dropped poke
// is recovered by the sweep.
func (f *Finalizer) Poke(executionID string) {
	select {
	case f.pokes <- executionID:
	default:
	}
}

// Run drains pokes and runs the deadline sweep until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case executionID := <-f.pokes:
			if err := f.Evaluate(ctx, executionID); err != nil {
				klog.ErrorS(err, "failed to evaluate execution", "execution", executionID)
			}
		case <-ticker.C:
			f.Sweep(ctx)
		}
	}
}

// Sweep finalizes RUNNING executions past the deadline as TIMEOUT.
func (f *Finalizer) Sweep(ctx context.Context) {
	execs, err := f.store.ListRunningPastDeadline(ctx, time.Now().Add(-f.deadline))
	if err != nil {
		klog.ErrorS(err, "deadline sweep failed")
		return
	}
	for _, exec := range execs {
		if err := f.Evaluate(ctx, exec.Id); err != nil {
			klog.ErrorS(err, "failed to evaluate deadlined execution", "execution", exec.Id)
		}
	}
}

// Evaluate closes the execution if it is terminal and returns without effect
// otherwise. Terminal conditions: explicit cancel, every planned node has an
// output, execution deadline exceeded, or no remaining input can ever become
// ready.
func (f *Finalizer) Evaluate(ctx context.Context, executionID string) error {
	exec, err := f.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if types.IsTerminalExecution(exec.Status) {
		return nil
	}
	outputs, err := f.store.ListOutputsForExecution(ctx, executionID)
	if err != nil {
		return err
	}
	inputs, err := f.store.ListInputsForExecution(ctx, executionID)
	if err != nil {
		return err
	}

	switch {
	case exec.IsCancelRequested:
		// Recorded results of a cancelled execution stay out of the aggregate.
		return f.finalize(ctx, exec, types.ExecutionCancelled, "{}")
	case int64(len(outputs)) >= exec.PlannedNodes && exec.PlannedNodes > 0:
		status := types.ExecutionCompleted
		for _, out := range outputs {
			if out.Status != types.OutputSuccess {
				status = types.ExecutionFailed
				break
			}
		}
		return f.finalize(ctx, exec, status, aggregate(outputs, inputs, types.NodeUnreached))
	case deadlineExceeded(exec, f.deadline):
		return f.finalize(ctx, exec, types.ExecutionTimeout, aggregate(outputs, inputs, types.NodeUnreached))
	case stuck(inputs, outputs, exec.PlannedNodes):
		return f.finalize(ctx, exec, types.ExecutionFailed, aggregate(outputs, inputs, types.NodeUnreached))
	default:
		return nil
	}
}

func (f *Finalizer) finalize(ctx context.Context, exec *client.Execution, status, results string) error {
	startedAt := exec.CreatedAt
	if exec.StartedAt.Valid {
		startedAt = exec.StartedAt.Time
	}
	if err := f.store.FinalizeExecution(ctx, exec.Id, status, results, startedAt); err != nil {
		return err
	}
	klog.InfoS("execution finalized", "execution", exec.Id, "workflow", exec.WorkflowId,
		"status", status)
	oteltrace.SpanFromContext(ctx).AddEvent("execution finalized",
		oteltrace.WithAttributes(
			attribute.String("execution.id", exec.Id),
			attribute.String("execution.status", status)))
	return nil
}

func deadlineExceeded(exec *client.Execution, deadline time.Duration) bool {
	if !exec.StartedAt.Valid {
		return false
	}
	return time.Since(exec.StartedAt.Time) > deadline
}

// stuck reports that outputs are still missing while nothing can progress:
// every planned node is accounted for by an output or a WAITING input, and no
// input is READY or IN_FLIGHT. A planned node with neither an output nor an
// input row is dispatched with its result still in flight, so the execution
// is live. Covers the all-branches-unreachable case left after collector-side
// cancellation, and planner cycles.
func stuck(inputs []*client.ExecutionInput, outputs []*client.ExecutionOutput, planned int64) bool {
	if planned == 0 || int64(len(outputs)) >= planned {
		return false
	}
	if len(inputs) == 0 {
		return false
	}
	if int64(len(outputs))+int64(len(inputs)) != planned {
		return false
	}
	for _, input := range inputs {
		if input.State != types.InputWaiting {
			return false
		}
	}
	return true
}

// aggregate renders the final results document: recorded outputs verbatim,
// plus a synthesized entry for every node still holding an input.
func aggregate(outputs []*client.ExecutionOutput, inputs []*client.ExecutionInput, missingStatus string) string {
	results := map[string]types.NodeResult{}
	for _, out := range outputs {
		entry := types.NodeResult{
			Status:       out.Status,
			Duration:     out.Duration,
			ErrorMessage: out.ErrorMessage,
		}
		if data, err := out.Result(); err == nil {
			entry.ResultData = data
		}
		if out.ErrorDetails != "" {
			details := map[string]any{}
			if err := json.Unmarshal([]byte(out.ErrorDetails), &details); err == nil {
				entry.ErrorDetails = details
			}
		}
		results[out.NodeId] = entry
	}
	for _, input := range inputs {
		if _, ok := results[input.NodeId]; !ok {
			results[input.NodeId] = types.NodeResult{Status: missingStatus}
		}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
