/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package database connects the configured persistence backend and carries
// the driver-specific glue shared by the store client.
package database

import (
	"database/sql"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/miniflowhq/miniflow/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBConfig bundles the connection parameters consumed by Connect.
type DBConfig struct {
	Type           string
	DSN            string
	MaxOpenConns   int
	MaxIdleConns   int
	MaxLifetime    time.Duration
	RequestTimeout time.Duration
}

// ConfigFromProfile builds a DBConfig from the loaded configuration profile.
func ConfigFromProfile() *DBConfig {
	return &DBConfig{
		Type:           config.GetDBType(),
		DSN:            config.GetDBDSN(),
		MaxOpenConns:   config.GetDBMaxOpenConns(),
		MaxIdleConns:   config.GetDBMaxIdleConns(),
		MaxLifetime:    config.GetDBMaxLifetime(),
		RequestTimeout: config.GetDBRequestTimeout(),
	}
}

// DriverName maps the configured backend onto the registered sql driver.
func (c *DBConfig) DriverName() (string, error) {
	switch c.Type {
	case config.DBSqlite:
		return "sqlite3", nil
	case config.DBPostgres:
		return "postgres", nil
	case config.DBMysql:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported db type %q", c.Type)
	}
}

// Placeholder returns the squirrel placeholder format for the backend.
func (c *DBConfig) Placeholder() sqrl.PlaceholderFormat {
	if c.Type == config.DBPostgres {
		return sqrl.Dollar
	}
	return sqrl.Question
}

// SupportsRowLock reports whether SELECT ... FOR UPDATE is available. Sqlite
// serializes writers at the file level instead.
func (c *DBConfig) SupportsRowLock() bool {
	return c.Type != config.DBSqlite
}

// Connect opens the pool and verifies it with a ping.
func Connect(cfg *DBConfig) (*sqlx.DB, error) {
	driver, err := cfg.DriverName()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting %s store: %w", cfg.Type, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	return db, nil
}

// ParseNullString unwraps a nullable column into its zero-defaulted value.
func ParseNullString(str sql.NullString) string {
	if str.Valid {
		return str.String
	}
	return ""
}

// ParseNullTime unwraps a nullable timestamp column.
func ParseNullTime(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}

// NullTime wraps t, treating the zero time as NULL.
func NullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// NullString wraps s, treating "" as NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
