/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package quota enforces per-workspace plan limits and answers feature-flag
// probes. Counter reads run inside the caller's transaction under row-level
// locking, so the check guards the mutation it admits.
package quota

import (
	"context"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Store is the slice of the store client the accountant consumes.
type Store interface {
	GetWorkspacePlan(ctx context.Context, workspaceID string) (types.PlanLimits, error)
	WorkspaceCounter(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string) (int64, error)
}

// Accountant checks plan limits before create operations.
type Accountant struct {
	store Store
}

// New builds an accountant over the store.
func New(store Store) *Accountant {
	return &Accountant{store: store}
}

// CheckCreate fails with QUOTA_EXCEEDED when one more unit of resource would
// push the workspace past its plan limit. The counter read runs on tx so the
// lock survives until the admitted mutation commits. A negative limit means
// unlimited.
func (a *Accountant) CheckCreate(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string) error {
	return a.CheckCreateN(ctx, tx, workspaceID, resource, 1)
}

// CheckCreateN is CheckCreate for n units at once, used by storage accounting
// where a single upload consumes many bytes.
func (a *Accountant) CheckCreateN(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string, n int64) error {
	plan, err := a.store.GetWorkspacePlan(ctx, workspaceID)
	if err != nil {
		return err
	}
	limit := plan.LimitFor(resource)
	if limit < 0 {
		return nil
	}
	current, err := a.store.WorkspaceCounter(ctx, tx, workspaceID, resource)
	if err != nil {
		return err
	}
	if current+n > limit {
		klog.V(2).InfoS("quota exceeded", "workspace", workspaceID,
			"resource", resource, "current", current, "limit", limit)
		return apierrors.NewQuotaExceeded(resource, current, limit)
	}
	return nil
}

// Allows answers a (workspace, feature) capability probe.
func (a *Accountant) Allows(ctx context.Context, workspaceID, feature string) (bool, error) {
	plan, err := a.store.GetWorkspacePlan(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return plan.Allows(feature), nil
}
