/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
)

// CronStore is the slice of the store client the cron runner consumes.
type CronStore interface {
	ListRunnableScheduledTriggers(ctx context.Context) ([]*client.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*client.Trigger, error)
	GetWorkflow(ctx context.Context, id string) (*client.Workflow, error)
}

// CronRunner fires SCHEDULED triggers of ACTIVE workflows. The registered
// entry set is reloaded from the store on an interval, so trigger and
// workflow state changes take effect within one reload period.
type CronRunner struct {
	store     CronStore
	validator *Validator
	cron      *cron.Cron
	reload    time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

// NewCronRunner builds a runner reloading every interval.
func NewCronRunner(store CronStore, validator *Validator, reload time.Duration) *CronRunner {
	return &CronRunner{
		store:     store,
		validator: validator,
		cron:      cron.New(),
		reload:    reload,
		entries:   map[string]cron.EntryID{},
		specs:     map[string]string{},
	}
}

// Run blocks until ctx is cancelled, reloading the entry set periodically.
func (r *CronRunner) Run(ctx context.Context) error {
	r.Reload(ctx)
	r.cron.Start()
	ticker := time.NewTicker(r.reload)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-r.cron.Stop().Done()
			return ctx.Err()
		case <-ticker.C:
			r.Reload(ctx)
		}
	}
}

// Reload synchronizes the registered cron entries with the store: new and
// rescheduled triggers are (re)registered, stale ones removed.
func (r *CronRunner) Reload(ctx context.Context) {
	triggers, err := r.store.ListRunnableScheduledTriggers(ctx)
	if err != nil {
		klog.ErrorS(err, "failed to list scheduled triggers")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, trigger := range triggers {
		spec := trigger.CronExpression()
		if spec == "" {
			klog.InfoS("scheduled trigger has no cron expression, skipped", "trigger", trigger.Id)
			continue
		}
		seen[trigger.Id] = true
		if r.specs[trigger.Id] == spec {
			continue
		}
		if id, ok := r.entries[trigger.Id]; ok {
			r.cron.Remove(id)
		}
		triggerID := trigger.Id
		entryID, err := r.cron.AddFunc(spec, func() { r.fire(triggerID) })
		if err != nil {
			klog.ErrorS(err, "invalid cron expression", "trigger", trigger.Id, "spec", spec)
			continue
		}
		r.entries[trigger.Id] = entryID
		r.specs[trigger.Id] = spec
	}
	for id, entryID := range r.entries {
		if !seen[id] {
			r.cron.Remove(entryID)
			delete(r.entries, id)
			delete(r.specs, id)
		}
	}
}

// fire starts one execution for a scheduled trigger with the mapping's
// defaults as payload. Start re-checks the run gate and the plan feature at
// fire time; failures are logged and never retried here.
func (r *CronRunner) fire(triggerID string) {
	ctx := context.Background()
	trigger, err := r.store.GetTrigger(ctx, triggerID)
	if err != nil {
		klog.ErrorS(err, "scheduled trigger vanished", "trigger", triggerID)
		return
	}
	wf, err := r.store.GetWorkflow(ctx, trigger.WorkflowId)
	if err != nil {
		klog.ErrorS(err, "workflow of scheduled trigger vanished", "trigger", triggerID)
		return
	}
	mapping, err := trigger.Mapping()
	if err != nil {
		klog.ErrorS(err, "scheduled trigger carries a malformed mapping", "trigger", triggerID)
		return
	}
	exec, err := r.validator.Start(ctx, wf.WorkspaceId, wf.Id, triggerID, DefaultPayload(mapping))
	if err != nil {
		klog.ErrorS(err, "scheduled fire rejected", "trigger", triggerID)
		return
	}
	klog.InfoS("scheduled fire", "trigger", triggerID, "execution", exec.Id)
}
