/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package client is the store layer: one sqlx client with per-entity query
// files. Queries are written with ? placeholders and rebound per driver so
// the same statements serve sqlite, postgresql and mysql.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/database"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
)

var (
	once     sync.Once
	instance *Client
)

// Client wraps the connection pool and the driver-specific glue.
type Client struct {
	db  *sqlx.DB
	cfg *database.DBConfig
}

// NewClient builds the process-wide client from the loaded configuration
// profile. Initialization happens once; a failed first attempt leaves the
// instance nil for all callers.
func NewClient() *Client {
	once.Do(func() {
		cfg := database.ConfigFromProfile()
		db, err := database.Connect(cfg)
		if err != nil {
			klog.ErrorS(err, "failed to connect store", "type", cfg.Type)
			return
		}
		instance = &Client{db: db, cfg: cfg}
		klog.InfoS("store client initialized", "type", cfg.Type,
			"maxOpenConns", cfg.MaxOpenConns, "requestTimeout", cfg.RequestTimeout)
	})
	return instance
}

// New builds a client over an existing pool. Intended for tests and setup.
func New(db *sqlx.DB, cfg *database.DBConfig) *Client {
	return &Client{db: db, cfg: cfg}
}

// Close releases the pool.
func (c *Client) Close() {
	if err := c.db.Close(); err != nil {
		klog.ErrorS(err, "failed to close store connection")
	}
}

// DB exposes the underlying pool for migrations and setup.
func (c *Client) DB() *sqlx.DB { return c.db }

func (c *Client) getDB() (*sqlx.DB, error) {
	if c == nil || c.db == nil {
		return nil, apierrors.NewInternalError("store client is not initialized")
	}
	return c.db.Unsafe(), nil
}

// requestCtx bounds a store call with the configured request timeout.
func (c *Client) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg != nil && c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	return ctx, func() {}
}

// queryer abstracts the pool and an open transaction for reads, so counter
// lookups can run under the lock of an enclosing transaction.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// reader returns tx when one is open, the pool otherwise.
func (c *Client) reader(tx *sqlx.Tx) (queryer, error) {
	if tx != nil {
		return tx.Unsafe(), nil
	}
	return c.getDB()
}

// withTx runs fn inside a transaction, rolling back on error.
func (c *Client) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx, cancel := c.requestCtx(ctx)
	defer cancel()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			klog.ErrorS(rbErr, "failed to roll back transaction")
		}
		return err
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders for the active driver.
func (c *Client) rebind(query string) string {
	if c.db == nil {
		return query
	}
	return c.db.Rebind(query)
}

// now returns the UTC wall clock used for created_at/updated_at columns.
func now() time.Time { return time.Now().UTC() }
