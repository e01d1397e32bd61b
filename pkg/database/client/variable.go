/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"
)

const TVariable = "variables"

var (
	listVariablesByIdsCmd = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = ? AND id IN (?) AND is_deleted = ?`, TVariable)
	insertVariableCmd     = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, key_name, value, is_secret,
		is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :key_name, :value, :is_secret, :is_deleted, :created_at, :updated_at)`, TVariable)
)

// ListVariablesByIds fetches one batch of variables for reference
// resolution. Missing ids are simply absent from the result.
func (c *Client) ListVariablesByIds(ctx context.Context, workspaceID string, ids []string) ([]*Variable, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	query, args, err := sqlx.In(listVariablesByIdsCmd, workspaceID, ids, false)
	if err != nil {
		return nil, err
	}
	var variables []*Variable
	if err := db.SelectContext(ctx, &variables, c.rebind(query), args...); err != nil {
		klog.ErrorS(err, "failed to select variables", "workspace", workspaceID, "count", len(ids))
		return nil, err
	}
	return variables, nil
}

// InsertVariable writes one variable row. Secret values must already be
// sealed by the caller.
func (c *Client) InsertVariable(ctx context.Context, variable *Variable) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	variable.CreatedAt, variable.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertVariableCmd, variable); err != nil {
		klog.ErrorS(err, "failed to insert variable", "id", variable.Id, "workspace", variable.WorkspaceId)
		return err
	}
	return nil
}
