/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package setup prepares a deployment: schema migrations, the plan catalog,
// the bundled global scripts, and a reachability check of the optional Redis
// backend. Every step is idempotent so setup can run before each start.
package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/config"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	"github.com/miniflowhq/miniflow/pkg/database/migrations"
	"github.com/miniflowhq/miniflow/pkg/idgen"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/types"
)

// Run executes every setup step against the connected store.
func Run(ctx context.Context, c *client.Client) error {
	if err := Migrate(c); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if err := SeedPlans(ctx, c); err != nil {
		return fmt.Errorf("seeding plan catalog: %w", err)
	}
	if err := SeedScripts(ctx, c); err != nil {
		return fmt.Errorf("seeding global scripts: %w", err)
	}
	if err := CheckRedis(ctx); err != nil {
		return fmt.Errorf("checking redis: %w", err)
	}
	if err := os.MkdirAll(config.GetFilesRoot(), 0o755); err != nil {
		return fmt.Errorf("creating files root: %w", err)
	}
	klog.InfoS("setup complete", "db", config.GetDBType())
	return nil
}

// Migrate applies the embedded goose migrations for the configured dialect.
func Migrate(c *client.Client) error {
	fsys, dialect, err := migrations.ForDialect(config.GetDBType())
	if err != nil {
		return err
	}
	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(c.DB().DB, ".")
}

// SeedPlans writes the plan catalog. Existing tiers are left untouched.
func SeedPlans(ctx context.Context, c *client.Client) error {
	for _, plan := range planCatalog() {
		if err := c.InsertPlan(ctx, plan); err != nil {
			return err
		}
	}
	return nil
}

// SeedScripts registers the bundled global scripts and materializes their
// files under the scripts root so the local runtime can execute them.
func SeedScripts(ctx context.Context, c *client.Client) error {
	root := config.GetScriptsRoot()
	for _, script := range globalScripts() {
		path := filepath.Join(root, script.FilePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(script.Content), 0o644); err != nil {
			return err
		}
		if err := c.InsertScript(ctx, script); err != nil {
			return err
		}
	}
	return nil
}

// CheckRedis pings the configured Redis backend. A deployment without Redis
// passes; one that names an unreachable host fails fast here instead of at
// the first rate-limited request.
func CheckRedis(ctx context.Context) error {
	addr := config.GetRedisAddr()
	if addr == "" {
		klog.InfoS("redis not configured, skipping reachability check")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.GetRedisPassword(),
		DB:       config.GetRedisDB(),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s unreachable: %w", addr, err)
	}
	klog.InfoS("redis reachable", "addr", addr)
	return nil
}

// planCatalog returns the seeded tiers, cheapest first.
func planCatalog() []*client.Plan {
	return []*client.Plan{
		{
			Id: idgen.New(idgen.PrefixPlan), Tier: types.PlanFreemium,
			MaxMembers: 3, MaxWorkflows: 5, MaxCustomScripts: 0,
			MaxStorageBytes: 100 << 20, MaxFileSizeBytes: 5 << 20, MaxAPIKeys: 2,
			MaxMonthlyExecutions: 500, MaxConcurrentExecutions: 2,
			APIRateLimitPerMinute: 100, APIRateLimitPerHour: 2000, APIRateLimitPerDay: 10000,
			CanUseAPIAccess: true,
		},
		{
			Id: idgen.New(idgen.PrefixPlan), Tier: types.PlanStarter,
			MaxMembers: 5, MaxWorkflows: 20, MaxCustomScripts: 5,
			MaxStorageBytes: 1 << 30, MaxFileSizeBytes: 10 << 20, MaxAPIKeys: 5,
			MaxMonthlyExecutions: 5000, MaxConcurrentExecutions: 5,
			APIRateLimitPerMinute: 300, APIRateLimitPerHour: 10000, APIRateLimitPerDay: 50000,
			CanUseWebhooks: true, CanUseCustomScripts: true, CanUseAPIAccess: true,
		},
		{
			Id: idgen.New(idgen.PrefixPlan), Tier: types.PlanPro,
			MaxMembers: 10, MaxWorkflows: 100, MaxCustomScripts: 20,
			MaxStorageBytes: 10 << 30, MaxFileSizeBytes: 50 << 20, MaxAPIKeys: 10,
			MaxMonthlyExecutions: 50000, MaxConcurrentExecutions: 20,
			APIRateLimitPerMinute: 600, APIRateLimitPerHour: 30000, APIRateLimitPerDay: 200000,
			CanUseWebhooks: true, CanUseScheduling: true, CanUseCustomScripts: true,
			CanUseAPIAccess: true,
		},
		{
			Id: idgen.New(idgen.PrefixPlan), Tier: types.PlanBusiness,
			MaxMembers: 25, MaxWorkflows: 500, MaxCustomScripts: 100,
			MaxStorageBytes: 100 << 30, MaxFileSizeBytes: 200 << 20, MaxAPIKeys: 25,
			MaxMonthlyExecutions: 250000, MaxConcurrentExecutions: 50,
			APIRateLimitPerMinute: 1200, APIRateLimitPerHour: 60000, APIRateLimitPerDay: 500000,
			CanUseWebhooks: true, CanUseScheduling: true, CanUseCustomScripts: true,
			CanUseAPIAccess: true, CanExportData: true,
		},
		{
			Id: idgen.New(idgen.PrefixPlan), Tier: types.PlanEnterprise,
			MaxMembers: 1000, MaxWorkflows: 10000, MaxCustomScripts: 1000,
			MaxStorageBytes: 1 << 40, MaxFileSizeBytes: 1 << 30, MaxAPIKeys: 100,
			MaxMonthlyExecutions: 5000000, MaxConcurrentExecutions: 200,
			APIRateLimitPerMinute: 6000, APIRateLimitPerHour: 200000, APIRateLimitPerDay: 2000000,
			CanUseWebhooks: true, CanUseScheduling: true, CanUseCustomScripts: true,
			CanUseAPIAccess: true, CanExportData: true,
		},
	}
}

const noopScript = `import json
import sys

params = json.load(sys.stdin)
print(json.dumps({"ok": True, "in": params}))
`

const echoScript = `import json
import sys

print(json.dumps(json.load(sys.stdin)))
`

// globalScripts returns the bundled scripts every deployment carries.
func globalScripts() []*client.Script {
	return []*client.Script{
		{
			Id:               idgen.New(idgen.PrefixScript),
			Name:             "noop",
			Content:          noopScript,
			FilePath:         filepath.Join("builtin", "noop.py"),
			ProcessType:      runtime.ProcessPython,
			RequiredPackages: "[]",
			InputSchema:      "{}",
			OutputSchema:     `{"type":"object","properties":{"ok":{"type":"boolean"},"in":{"type":"object"}}}`,
		},
		{
			Id:               idgen.New(idgen.PrefixScript),
			Name:             "echo",
			Content:          echoScript,
			FilePath:         filepath.Join("builtin", "echo.py"),
			ProcessType:      runtime.ProcessPython,
			RequiredPackages: "[]",
			InputSchema:      "{}",
			OutputSchema:     "{}",
		},
	}
}

// gooseLogger routes goose output through klog.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) {
	klog.ErrorS(fmt.Errorf(format, v...), "migration failed")
	os.Exit(1)
}

func (gooseLogger) Printf(format string, v ...any) {
	klog.InfoS(fmt.Sprintf(format, v...))
}
