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

const TAPIKey = "api_keys"

var (
	getAPIKeyByHashCmd = fmt.Sprintf(`SELECT * FROM %s WHERE key_hash = ? AND is_deleted = ? LIMIT 1`, TAPIKey)
	countAPIKeysCmd    = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workspace_id = ? AND is_deleted = ?`, TAPIKey)
	touchAPIKeyCmd     = fmt.Sprintf(`UPDATE %s SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ? WHERE id = ?`, TAPIKey)

	insertAPIKeyCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, name, key_hash, key_hint,
		permissions, allowed_ips, expires_at, is_active, usage_count, last_used_at,
		is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :name, :key_hash, :key_hint, :permissions, :allowed_ips,
		:expires_at, :is_active, :usage_count, :last_used_at, :is_deleted, :created_at, :updated_at)`, TAPIKey)
)

// GetAPIKeyByHash looks an API key up by its HMAC hash.
func (c *Client) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var key APIKey
	if err := db.GetContext(ctx, &key, c.rebind(getAPIKeyByHashCmd), hash, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFoundWithMessage("api key not found")
		}
		klog.ErrorS(err, "failed to select api key by hash")
		return nil, err
	}
	return &key, nil
}

// TouchAPIKeyUsage bumps usage_count and last_used_at after a successful
// validation. Failures are logged, not surfaced; usage accounting never
// blocks a request.
func (c *Client) TouchAPIKeyUsage(ctx context.Context, id string) {
	db, err := c.getDB()
	if err != nil {
		return
	}
	if _, err := db.ExecContext(ctx, c.rebind(touchAPIKeyCmd), now(), now(), id); err != nil {
		klog.ErrorS(err, "failed to touch api key usage", "id", id)
	}
}

// InsertAPIKey writes one api key row.
func (c *Client) InsertAPIKey(ctx context.Context, key *APIKey) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	key.CreatedAt, key.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertAPIKeyCmd, key); err != nil {
		klog.ErrorS(err, "failed to insert api key", "id", key.Id)
		return err
	}
	return nil
}
