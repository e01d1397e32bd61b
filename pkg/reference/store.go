/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database/client"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/secretbox"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// StoreFetcher resolves reference state out of the persistent store,
// decrypting secret payloads through the secret box on the way out.
type StoreFetcher struct {
	store *client.Client
	box   *secretbox.Box
}

// NewStoreFetcher builds the production Fetcher.
func NewStoreFetcher(store *client.Client, box *secretbox.Box) *StoreFetcher {
	return &StoreFetcher{store: store, box: box}
}

// BatchVariables fetches one batch of variables and decrypts the secret
// ones. Plaintext never reaches the logs.
func (f *StoreFetcher) BatchVariables(ctx context.Context, workspaceID string, ids []string) (map[string]string, error) {
	rows, err := f.store.ListVariablesByIds(ctx, workspaceID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		value := row.Value
		if row.IsSecret {
			plain, err := f.box.Open(row.Value)
			if err != nil {
				klog.ErrorS(err, "failed to open secret variable", "id", row.Id)
				return nil, err
			}
			value = string(plain)
		}
		out[row.Id] = value
	}
	return out, nil
}

// BatchCredentials fetches one batch of credentials, opening every field
// listed in secret_fields.
func (f *StoreFetcher) BatchCredentials(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error) {
	rows, err := f.store.ListCredentialsByIds(ctx, workspaceID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		data := map[string]any{}
		if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
			return nil, fmt.Errorf("credential %s carries malformed data: %w", row.Id, err)
		}
		var secretFields []string
		if err := json.Unmarshal([]byte(row.SecretFields), &secretFields); err != nil {
			return nil, fmt.Errorf("credential %s carries malformed secret_fields: %w", row.Id, err)
		}
		for _, field := range secretFields {
			token, ok := data[field].(string)
			if !ok {
				continue
			}
			plain, err := f.box.Open(token)
			if err != nil {
				klog.ErrorS(err, "failed to open credential field", "id", row.Id, "field", field)
				return nil, err
			}
			data[field] = string(plain)
		}
		data["name"] = row.Name
		data["type"] = row.Type
		out[row.Id] = data
	}
	return out, nil
}

// BatchDatabases fetches one batch of connection descriptors with decrypted
// passwords.
func (f *StoreFetcher) BatchDatabases(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error) {
	rows, err := f.store.ListDatabasesByIds(ctx, workspaceID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		password := row.Password
		if password != "" {
			plain, err := f.box.Open(password)
			if err != nil {
				klog.ErrorS(err, "failed to open database password", "id", row.Id)
				return nil, err
			}
			password = string(plain)
		}
		options := map[string]any{}
		if row.Options != "" {
			if err := json.Unmarshal([]byte(row.Options), &options); err != nil {
				return nil, fmt.Errorf("database %s carries malformed options: %w", row.Id, err)
			}
		}
		out[row.Id] = map[string]any{
			"name":     row.Name,
			"engine":   row.Engine,
			"host":     row.Host,
			"port":     row.Port,
			"username": row.Username,
			"password": password,
			"database": row.DatabaseName,
			"options":  options,
		}
	}
	return out, nil
}

// BatchFiles fetches one batch of file objects. The content field carries
// the raw bytes of the on-disk artifact.
func (f *StoreFetcher) BatchFiles(ctx context.Context, workspaceID string, ids []string) (map[string]map[string]any, error) {
	rows, err := f.store.ListFilesByIds(ctx, workspaceID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		content, err := os.ReadFile(row.Path)
		if err != nil {
			return nil, fmt.Errorf("reading file %s at %s: %w", row.Id, row.Path, err)
		}
		out[row.Id] = map[string]any{
			"content": content,
			"metadata": map[string]any{
				"name":         row.Name,
				"size":         row.SizeBytes,
				"content_type": row.ContentType,
			},
		}
	}
	return out, nil
}

// NodeOutput returns the decoded SUCCESS result of an upstream node.
func (f *StoreFetcher) NodeOutput(ctx context.Context, executionID, nodeID string) (any, bool, error) {
	out, err := f.store.GetOutput(ctx, executionID, nodeID)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if out.Status != types.OutputSuccess {
		return nil, false, nil
	}
	result, err := out.Result()
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}
