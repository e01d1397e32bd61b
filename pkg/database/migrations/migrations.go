/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package migrations embeds the goose schema migrations per dialect.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/miniflowhq/miniflow/pkg/config"
)

//go:embed sqlite/*.sql postgres/*.sql mysql/*.sql
var files embed.FS

// ForDialect returns the migration file system and goose dialect name for the
// configured backend.
func ForDialect(dbType string) (fs.FS, string, error) {
	switch dbType {
	case config.DBSqlite:
		sub, err := fs.Sub(files, "sqlite")
		return sub, "sqlite3", err
	case config.DBPostgres:
		sub, err := fs.Sub(files, "postgres")
		return sub, "postgres", err
	case config.DBMysql:
		sub, err := fs.Sub(files, "mysql")
		return sub, "mysql", err
	default:
		return nil, "", fmt.Errorf("unsupported db type %q", dbType)
	}
}
