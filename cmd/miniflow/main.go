/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/auth"
	"github.com/miniflowhq/miniflow/pkg/collector"
	"github.com/miniflowhq/miniflow/pkg/config"
	"github.com/miniflowhq/miniflow/pkg/database/client"
	"github.com/miniflowhq/miniflow/pkg/finalizer"
	"github.com/miniflowhq/miniflow/pkg/handlers"
	"github.com/miniflowhq/miniflow/pkg/planner"
	"github.com/miniflowhq/miniflow/pkg/quota"
	"github.com/miniflowhq/miniflow/pkg/ratelimit"
	"github.com/miniflowhq/miniflow/pkg/reference"
	"github.com/miniflowhq/miniflow/pkg/runtime"
	"github.com/miniflowhq/miniflow/pkg/scheduler"
	"github.com/miniflowhq/miniflow/pkg/secretbox"
	"github.com/miniflowhq/miniflow/pkg/server"
	"github.com/miniflowhq/miniflow/pkg/setup"
	"github.com/miniflowhq/miniflow/pkg/trace"
	"github.com/miniflowhq/miniflow/pkg/trigger"
	"github.com/miniflowhq/miniflow/pkg/workflow"
)

const usage = `miniflow <command>

Commands:
  setup       apply schema migrations and seed the catalog
  run         start the server and the execution loops
  quickstart  write a .env with generated secrets
  help        print this text
`

func main() {
	klog.InitFlags(nil)
	configDir := flag.String("config", "configs", "directory holding config.<env>.ini profiles")
	flag.Parse()
	defer klog.Flush()

	cmd := flag.Arg(0)
	if cmd == "" || cmd == "help" {
		fmt.Print(usage)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "setup":
		err = runSetup(ctx, *configDir)
	case "run":
		err = runServer(ctx, *configDir)
	case "quickstart":
		err = runQuickstart()
	default:
		fmt.Print(usage)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		klog.ErrorS(err, "miniflow exited", "command", cmd)
		klog.Flush()
		os.Exit(1)
	}
}

func runSetup(ctx context.Context, configDir string) error {
	if err := config.LoadProfile(configDir); err != nil {
		return err
	}
	store := client.NewClient()
	if store == nil {
		return fmt.Errorf("store connection failed")
	}
	defer store.Close()
	return setup.Run(ctx, store)
}

func runServer(ctx context.Context, configDir string) error {
	if err := config.LoadProfile(configDir); err != nil {
		return err
	}

	shutdownTrace, err := trace.Init(ctx)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTrace(context.Background()); err != nil {
			klog.ErrorS(err, "failed to flush trace exporter")
		}
	}()

	store := client.NewClient()
	if store == nil {
		return fmt.Errorf("store connection failed")
	}
	defer store.Close()

	box, err := secretbox.New([]byte(config.GetEncryptionKey()), config.GetEncryptionKeyID())
	if err != nil {
		return fmt.Errorf("initializing secret box: %w", err)
	}

	results := make(chan *runtime.Result, config.GetCollectorQueueSize())
	localRuntime := runtime.NewLocal(config.GetRuntimeWorkers(),
		config.GetRuntimePythonBin(), config.GetScriptsRoot(), results)

	fin := finalizer.New(store, config.GetExecutionDeadline(), config.GetFinalizerSweepInterval())
	coll := collector.New(store, fin)
	resolver := reference.NewResolver(reference.NewStoreFetcher(store, box))
	sched := scheduler.New(store, resolver, localRuntime, coll, scheduler.Options{
		BatchSize:   config.GetSchedulerBatchSize(),
		PollFloor:   config.GetSchedulerPollFloor(),
		PollCeiling: config.GetSchedulerPollCeiling(),
		ClaimLease:  config.GetClaimLease(),
	})

	accountant := quota.New(store)
	validator := trigger.New(store, accountant, planner.New(store))
	cronRunner := trigger.NewCronRunner(store, validator, config.GetCronReloadInterval())
	machine := workflow.New(store)
	authn := auth.New(store)
	limiter := ratelimit.NewFromConfig()

	h := handlers.New(store, validator, machine, accountant, coll, fin, authn)
	srv := server.New(h, authn, limiter, store)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return localRuntime.Run(ctx) })
	g.Go(func() error { return coll.Run(ctx, results) })
	g.Go(func() error { return fin.Run(ctx) })
	g.Go(func() error { return cronRunner.Run(ctx) })
	g.Go(func() error { return sched.RunSweeper(ctx) })
	for i := 0; i < config.GetSchedulerLoops(); i++ {
		g.Go(func() error { return sched.Run(ctx) })
	}

	klog.InfoS("miniflow started", "env", config.AppEnv(),
		"schedulerLoops", config.GetSchedulerLoops())
	return g.Wait()
}

// runQuickstart prompts for the handful of choices a first deployment needs
// and writes them to .env alongside freshly generated secrets.
func runQuickstart() error {
	if _, err := os.Stat(".env"); err == nil {
		return fmt.Errorf(".env already exists, refusing to overwrite")
	}

	reader := bufio.NewReader(os.Stdin)
	dbType := prompt(reader, "Database type [sqlite/postgresql/mysql]", config.DBSqlite)
	dsn := ""
	if dbType == config.DBSqlite {
		dsn = prompt(reader, "SQLite file path", "data/miniflow.db")
	} else {
		dsn = prompt(reader, "Database DSN", "")
	}
	redisHost := prompt(reader, "Redis host (empty disables rate limiting)", "")

	var lines []string
	lines = append(lines,
		"DB_TYPE="+dbType,
		"DB_DSN="+dsn,
		"JWT_SECRET_KEY="+freshKey(),
		"ENCRYPTION_KEY="+freshKey(),
	)
	if redisHost != "" {
		lines = append(lines, "REDIS_HOST="+redisHost)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(".env", []byte(content), 0o600); err != nil {
		return err
	}
	fmt.Println("wrote .env, export its variables and run `miniflow setup`")
	return nil
}

func prompt(reader *bufio.Reader, label, fallback string) string {
	if fallback != "" {
		fmt.Printf("%s [%s]: ", label, fallback)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}

func freshKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
