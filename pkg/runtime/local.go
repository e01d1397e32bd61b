/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// ProcessPython is the only process type the embedded worker runs.
const ProcessPython = "python"

const defaultTimeout = 60 * time.Second

// LocalRuntime runs dispatched scripts in-process through a bounded worker
// pool. Scripts receive their params as JSON on stdin and report result JSON
// on stdout. Results flow into the sink channel consumed by the collector.
type LocalRuntime struct {
	pythonBin   string
	scriptsRoot string
	jobs        chan *Dispatch
	results     chan<- *Result
	workers     int
}

// NewLocal builds an embedded worker pool. The results channel is owned by
// the caller and fed from every worker.
func NewLocal(workers int, pythonBin, scriptsRoot string, results chan<- *Result) *LocalRuntime {
	if workers <= 0 {
		workers = 1
	}
	return &LocalRuntime{
		pythonBin:   pythonBin,
		scriptsRoot: scriptsRoot,
		jobs:        make(chan *Dispatch, workers),
		results:     results,
		workers:     workers,
	}
}

// Dispatch enqueues one node for execution. Returning nil acknowledges
// receipt; the enqueue blocks when every worker is busy.
func (r *LocalRuntime) Dispatch(ctx context.Context, d *Dispatch) error {
	select {
	case r.jobs <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks draining the job queue with the worker pool until ctx is
// cancelled.
func (r *LocalRuntime) Run(ctx context.Context) error {
	done := make(chan struct{})
	for i := 0; i < r.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-r.jobs:
					r.deliver(ctx, r.execute(ctx, d))
				}
			}
		}()
	}
	for i := 0; i < r.workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (r *LocalRuntime) deliver(ctx context.Context, result *Result) {
	select {
	case r.results <- result:
	case <-ctx.Done():
	}
}

// execute runs one dispatch to completion, retrying up to max_retries times
// with exponential pacing. Per-attempt wall clock is bounded by
// timeout_seconds.
func (r *LocalRuntime) execute(ctx context.Context, d *Dispatch) *Result {
	start := time.Now()
	if d.ProcessType != "" && d.ProcessType != ProcessPython {
		return r.failed(d, start, apierrors.ScriptMissing,
			fmt.Sprintf("unrecognized process type %q", d.ProcessType))
	}
	path := d.ScriptPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.scriptsRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		return r.failed(d, start, apierrors.ScriptMissing,
			fmt.Sprintf("script %s not found", d.ScriptPath))
	}

	stdin, err := json.Marshal(d.Params)
	if err != nil {
		return r.failed(d, start, apierrors.InternalError, "params are not encodable")
	}

	attempts := d.MaxRetries + 1
	pace := backoff.NewExponentialBackOff()
	var lastErr error
	for attempt := int64(0); attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(pace.NextBackOff()):
			case <-ctx.Done():
				return r.failed(d, start, apierrors.InternalError, "worker shutting down")
			}
		}
		out, err := r.runOnce(ctx, path, stdin, d.TimeoutSeconds)
		if err == nil {
			var data any
			if len(bytes.TrimSpace(out)) > 0 {
				if err := json.Unmarshal(out, &data); err != nil {
					data = string(bytes.TrimSpace(out))
				}
			}
			return &Result{
				ExecutionId: d.ExecutionId,
				NodeId:      d.NodeId,
				Status:      types.OutputSuccess,
				ResultData:  data,
				Duration:    time.Since(start).Seconds(),
			}
		}
		lastErr = err
		klog.V(2).InfoS("script attempt failed", "execution", d.ExecutionId,
			"node", d.NodeId, "attempt", attempt+1, "err", err)
	}
	return r.failed(d, start, apierrors.InternalError, lastErr.Error())
}

func (r *LocalRuntime) runOnce(ctx context.Context, path string, stdin []byte, timeoutSeconds int64) ([]byte, error) {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, r.pythonBin, path)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (r *LocalRuntime) failed(d *Dispatch, start time.Time, code, message string) *Result {
	return &Result{
		ExecutionId:  d.ExecutionId,
		NodeId:       d.NodeId,
		Status:       types.OutputFailed,
		Duration:     time.Since(start).Seconds(),
		ErrorMessage: message,
		ErrorDetails: map[string]any{"code": code},
	}
}
