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

const (
	TScript       = "scripts"
	TCustomScript = "custom_scripts"
)

var (
	getScriptCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TScript)
	getScriptByNameCmd = fmt.Sprintf(`SELECT * FROM %s WHERE name = ? AND is_deleted = ? LIMIT 1`, TScript)
	getCustomScriptCmd = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TCustomScript)
	insertScriptCmd    = fmt.Sprintf(`INSERT INTO %s (id, name, content, file_path, process_type,
		required_packages, input_schema, output_schema, is_deleted, created_at, updated_at)
		VALUES (:id, :name, :content, :file_path, :process_type, :required_packages,
		:input_schema, :output_schema, :is_deleted, :created_at, :updated_at)`, TScript)
)

// GetScript returns one live global script by id.
func (c *Client) GetScript(ctx context.Context, id string) (*Script, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var script Script
	if err := db.GetContext(ctx, &script, c.rebind(getScriptCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("script", id)
		}
		klog.ErrorS(err, "failed to select script", "id", id)
		return nil, err
	}
	return &script, nil
}

// GetScriptByName returns one live global script by its unique name.
func (c *Client) GetScriptByName(ctx context.Context, name string) (*Script, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var script Script
	if err := db.GetContext(ctx, &script, c.rebind(getScriptByNameCmd), name, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("script", name)
		}
		klog.ErrorS(err, "failed to select script by name", "name", name)
		return nil, err
	}
	return &script, nil
}

// GetCustomScript returns one live workspace-scoped script by id.
func (c *Client) GetCustomScript(ctx context.Context, id string) (*CustomScript, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var script CustomScript
	if err := db.GetContext(ctx, &script, c.rebind(getCustomScriptCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("custom script", id)
		}
		klog.ErrorS(err, "failed to select custom script", "id", id)
		return nil, err
	}
	return &script, nil
}

// InsertScript seeds one global script row. Existing names are left
// untouched so setup stays idempotent.
func (c *Client) InsertScript(ctx context.Context, script *Script) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err := c.GetScriptByName(ctx, script.Name); err == nil {
		return nil
	} else if !apierrors.IsNotFound(err) {
		return err
	}
	script.CreatedAt, script.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertScriptCmd, script); err != nil {
		klog.ErrorS(err, "failed to insert script", "name", script.Name)
		return err
	}
	return nil
}
