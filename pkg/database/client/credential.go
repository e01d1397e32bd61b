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

const (
	TCredential = "credentials"
	TDatabase   = "database_connections"
	TFile       = "files"
)

var (
	listCredentialsByIdsCmd = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = ? AND id IN (?) AND is_deleted = ?`, TCredential)
	listDatabasesByIdsCmd   = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = ? AND id IN (?) AND is_deleted = ?`, TDatabase)
	listFilesByIdsCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = ? AND id IN (?) AND is_deleted = ?`, TFile)

	insertCredentialCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, name, type, data,
		secret_fields, is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :name, :type, :data, :secret_fields, :is_deleted,
		:created_at, :updated_at)`, TCredential)
	insertDatabaseCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, name, engine, host, port,
		username, password, database_name, options, is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :name, :engine, :host, :port, :username, :password,
		:database_name, :options, :is_deleted, :created_at, :updated_at)`, TDatabase)
	insertFileCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, name, path, size_bytes,
		content_type, is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :name, :path, :size_bytes, :content_type, :is_deleted,
		:created_at, :updated_at)`, TFile)
)

func selectByIds[T any](ctx context.Context, c *Client, cmd, workspaceID string, ids []string) ([]*T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	query, args, err := sqlx.In(cmd, workspaceID, ids, false)
	if err != nil {
		return nil, err
	}
	var rows []*T
	if err := db.SelectContext(ctx, &rows, c.rebind(query), args...); err != nil {
		klog.ErrorS(err, "failed to select batch", "workspace", workspaceID, "count", len(ids))
		return nil, err
	}
	return rows, nil
}

// ListCredentialsByIds fetches one batch of credentials for reference
// resolution.
func (c *Client) ListCredentialsByIds(ctx context.Context, workspaceID string, ids []string) ([]*Credential, error) {
	return selectByIds[Credential](ctx, c, listCredentialsByIdsCmd, workspaceID, ids)
}

// ListDatabasesByIds fetches one batch of database-connection descriptors.
func (c *Client) ListDatabasesByIds(ctx context.Context, workspaceID string, ids []string) ([]*DatabaseConnection, error) {
	return selectByIds[DatabaseConnection](ctx, c, listDatabasesByIdsCmd, workspaceID, ids)
}

// ListFilesByIds fetches one batch of file metadata rows.
func (c *Client) ListFilesByIds(ctx context.Context, workspaceID string, ids []string) ([]*File, error) {
	return selectByIds[File](ctx, c, listFilesByIdsCmd, workspaceID, ids)
}

// InsertCredential writes one credential row. Secret fields in data must
// already be sealed by the caller.
func (c *Client) InsertCredential(ctx context.Context, credential *Credential) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	credential.CreatedAt, credential.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertCredentialCmd, credential); err != nil {
		klog.ErrorS(err, "failed to insert credential", "id", credential.Id)
		return err
	}
	return nil
}

// InsertDatabaseConnection writes one descriptor row with a sealed password.
func (c *Client) InsertDatabaseConnection(ctx context.Context, conn *DatabaseConnection) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	conn.CreatedAt, conn.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertDatabaseCmd, conn); err != nil {
		klog.ErrorS(err, "failed to insert database connection", "id", conn.Id)
		return err
	}
	return nil
}

// InsertFile writes one file metadata row.
func (c *Client) InsertFile(ctx context.Context, file *File) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	file.CreatedAt, file.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertFileCmd, file); err != nil {
		klog.ErrorS(err, "failed to insert file", "id", file.Id)
		return err
	}
	return nil
}
