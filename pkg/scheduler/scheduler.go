/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package scheduler drains READY execution inputs: claim, resolve, dispatch,
// acknowledge. Loops coordinate solely through the store, so any number of
// them can run in one process or across processes.
package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/reference"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the scheduler consumes.
type Store interface {
	ClaimReadyInputs(ctx context.Context, batch int) ([]*client.ExecutionInput, error)
	DeleteInput(ctx context.Context, executionID, nodeID string) error
	GetExecution(ctx context.Context, id string) (*client.Execution, error)
	ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error)
}

// Resolver resolves one node's parameters into concrete values.
type Resolver interface {
	Resolve(ctx context.Context, in reference.Input) (map[string]any, error)
}

// Ingestor accepts synthetic results for nodes that never reach a worker.
type Ingestor interface {
	Ingest(ctx context.Context, result *runtime.Result) error
}

// Options tune one scheduler loop.
type Options struct {
	BatchSize   int
	PollFloor   time.Duration
	PollCeiling time.Duration
	ClaimLease  time.Duration
	SweepEvery  time.Duration
}

// Scheduler is one claim-resolve-dispatch loop.
type Scheduler struct {
	store    Store
	resolver Resolver
	runtime  runtime.Runtime
	ingestor Ingestor
	opts     Options
}

// New builds a scheduler loop.
func New(store Store, resolver Resolver, rt runtime.Runtime, ingestor Ingestor, opts Options) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.PollFloor <= 0 {
		opts.PollFloor = 100 * time.Millisecond
	}
	if opts.PollCeiling < opts.PollFloor {
		opts.PollCeiling = 5 * time.Second
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 5 * time.Minute
	}
	return &Scheduler{store: store, resolver: resolver, runtime: rt, ingestor: ingestor, opts: opts}
}

// Run iterates until ctx is cancelled. Polling backs off exponentially on
// empty claims and snaps back to the floor on work.
func (s *Scheduler) Run(ctx context.Context) error {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = s.opts.PollFloor
	poll.MaxInterval = s.opts.PollCeiling
	poll.MaxElapsedTime = 0
	poll.Reset()
	for {
		dispatched, err := s.Tick(ctx)
		if err != nil {
			klog.ErrorS(err, "scheduler tick failed")
		}
		if dispatched > 0 {
			poll.Reset()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll.NextBackOff()):
		}
	}
}

// RunSweeper periodically re-queues IN_FLIGHT inputs whose claim outlived
// the lease. One sweeper per process is enough regardless of loop count.
func (s *Scheduler) RunSweeper(ctx context.Context) error {
	every := s.opts.SweepEvery
	if every <= 0 {
		every = s.opts.ClaimLease / 2
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			released, err := s.store.ReleaseExpiredClaims(ctx, s.opts.ClaimLease)
			if err != nil {
				klog.ErrorS(err, "claim sweep failed")
			} else if released > 0 {
				klog.InfoS("expired claims released", "count", released)
			}
		}
	}
}

// Tick claims one batch and dispatches it, returning how many inputs were
// handed to the runtime.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	claimed, err := s.store.ClaimReadyInputs(ctx, s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	executions := map[string]*client.Execution{}
	for _, input := range claimed {
		exec, ok := executions[input.ExecutionId]
		if !ok {
			exec, err = s.store.GetExecution(ctx, input.ExecutionId)
			if err != nil {
				klog.ErrorS(err, "claimed input with no execution", "input", input.Id)
				continue
			}
			executions[input.ExecutionId] = exec
		}
		if s.dispatchOne(ctx, exec, input) {
			dispatched++
		}
	}
	return dispatched, nil
}

// dispatchOne drives one claimed input to the runtime boundary. Inputs of a
// cancel-marked execution are discarded without dispatch; resolution
// failures turn into synthetic FAILED results through the collector so the
// graph reacts exactly as it would to a worker failure.
func (s *Scheduler) dispatchOne(ctx context.Context, exec *client.Execution, input *client.ExecutionInput) bool {
	if exec.IsCancelRequested || types.IsTerminalExecution(exec.Status) {
		if err := s.store.DeleteInput(ctx, input.ExecutionId, input.NodeId); err != nil {
			klog.ErrorS(err, "failed to discard cancelled input", "input", input.Id)
		}
		return false
	}

	params, err := s.resolveParams(ctx, exec, input)
	if err != nil {
		s.failInput(ctx, input, err)
		return false
	}

	err = s.runtime.Dispatch(ctx, &runtime.Dispatch{
		ExecutionId:    input.ExecutionId,
		WorkspaceId:    exec.WorkspaceId,
		WorkflowId:     exec.WorkflowId,
		NodeId:         input.NodeId,
		ScriptPath:     input.ScriptPath,
		ProcessType:    input.ProcessType,
		Params:         params,
		MaxRetries:     input.MaxRetries,
		TimeoutSeconds: input.TimeoutSeconds,
	})
	if err != nil {
		// Not acknowledged: the row stays IN_FLIGHT and the claim lease
		// returns it to READY.
		klog.ErrorS(err, "dispatch not acknowledged", "execution", input.ExecutionId, "node", input.NodeId)
		return false
	}
	if err := s.store.DeleteInput(ctx, input.ExecutionId, input.NodeId); err != nil {
		klog.ErrorS(err, "failed to delete dispatched input", "input", input.Id)
	}
	return true
}

func (s *Scheduler) resolveParams(ctx context.Context, exec *client.Execution, input *client.ExecutionInput) (map[string]any, error) {
	paramSet, err := input.ParamSet()
	if err != nil {
		return nil, apierrors.NewInternalError("input carries malformed params")
	}
	triggerData, err := exec.TriggerPayload()
	if err != nil {
		return nil, apierrors.NewInternalError("execution carries malformed trigger data")
	}
	return s.resolver.Resolve(ctx, reference.Input{
		WorkspaceID: exec.WorkspaceId,
		ExecutionID: exec.Id,
		TriggerData: triggerData,
		Params:      paramSet,
	})
}

// failInput records a synthetic FAILED output through the collector's ingest
// path, which also deletes the input and cancels data dependents.
func (s *Scheduler) failInput(ctx context.Context, input *client.ExecutionInput, cause error) {
	details := map[string]any{"code": apierrors.GetErrorCode(cause)}
	if extra := apierrors.DetailsOf(cause); len(extra) > 0 {
		for k, v := range extra {
			details[k] = v
		}
	}
	result := &runtime.Result{
		ExecutionId:  input.ExecutionId,
		NodeId:       input.NodeId,
		Status:       types.OutputFailed,
		ErrorMessage: cause.Error(),
		ErrorDetails: details,
	}
	if err := s.ingestor.Ingest(ctx, result); err != nil {
		klog.ErrorS(err, "failed to record resolution failure",
			"execution", input.ExecutionId, "node", input.NodeId)
	}
}
