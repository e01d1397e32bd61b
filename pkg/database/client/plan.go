/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
)

const TPlan = "plans"

var (
	getPlanByTierCmd = fmt.Sprintf(`SELECT * FROM %s WHERE tier = ? LIMIT 1`, TPlan)
	insertPlanCmd    = fmt.Sprintf(`INSERT INTO %s (id, tier, max_members, max_workflows,
		max_custom_scripts, max_storage_bytes, max_file_size_bytes, max_api_keys,
		max_monthly_executions, max_concurrent_executions, api_rate_limit_per_minute,
		api_rate_limit_per_hour, api_rate_limit_per_day, can_use_webhooks,
		can_use_scheduling, can_use_custom_scripts, can_use_api_access, can_export_data,
		created_at, updated_at)
		VALUES (:id, :tier, :max_members, :max_workflows, :max_custom_scripts,
		:max_storage_bytes, :max_file_size_bytes, :max_api_keys, :max_monthly_executions,
		:max_concurrent_executions, :api_rate_limit_per_minute, :api_rate_limit_per_hour,
		:api_rate_limit_per_day, :can_use_webhooks, :can_use_scheduling,
		:can_use_custom_scripts, :can_use_api_access, :can_export_data,
		:created_at, :updated_at)`, TPlan)
)

// GetPlanByTier returns the plan catalog row for a tier.
func (c *Client) GetPlanByTier(ctx context.Context, tier string) (*Plan, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := db.GetContext(ctx, &plan, c.rebind(getPlanByTierCmd), tier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("plan", tier)
		}
		klog.ErrorS(err, "failed to select plan", "tier", tier)
		return nil, err
	}
	return &plan, nil
}

// InsertPlan seeds one plan catalog row. Existing tiers are left untouched so
// setup stays idempotent.
func (c *Client) InsertPlan(ctx context.Context, plan *Plan) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err := c.GetPlanByTier(ctx, plan.Tier); err == nil {
		return nil
	} else if !apierrors.IsNotFound(err) {
		return err
	}
	plan.CreatedAt, plan.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertPlanCmd, plan); err != nil {
		klog.ErrorS(err, "failed to insert plan", "tier", plan.Tier)
		return err
	}
	return nil
}
