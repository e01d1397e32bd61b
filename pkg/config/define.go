/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// server
	serverPrefix = "server."
	serverBind   = serverPrefix + "bind"
	serverPort   = serverPrefix + "port"
	serverDocs   = serverPrefix + "expose_docs"

	// db
	dbPrefix               = "db."
	dbType                 = dbPrefix + "type"
	dbDSN                  = dbPrefix + "dsn"
	dbMaxOpenConns         = dbPrefix + "max_open_conns"
	dbMaxIdleConns         = dbPrefix + "max_idle_conns"
	dbMaxLifetimeSecond    = dbPrefix + "max_life_time_second"
	dbConnectTimeoutSecond = dbPrefix + "connect_timeout_second"
	dbRequestTimeoutSecond = dbPrefix + "request_timeout_second"

	// jwt
	jwtPrefix              = "jwt."
	jwtSecretKey           = jwtPrefix + "secret_key"
	jwtAlgorithm           = jwtPrefix + "algorithm"
	jwtAccessExpireMinute  = jwtPrefix + "access_expire_minute"
	jwtRefreshExpireMinute = jwtPrefix + "refresh_expire_minute"

	// crypto
	cryptoPrefix = "crypto."
	cryptoKey    = cryptoPrefix + "encryption_key"
	cryptoKeyID  = cryptoPrefix + "key_id"

	// redis
	redisPrefix   = "redis."
	redisHost     = redisPrefix + "host"
	redisPort     = redisPrefix + "port"
	redisPassword = redisPrefix + "password"
	redisDB       = redisPrefix + "db"

	// ratelimit fallbacks for user/IP subjects
	rateLimitPrefix    = "ratelimit."
	rateLimitPerMinute = rateLimitPrefix + "per_minute"
	rateLimitPerHour   = rateLimitPrefix + "per_hour"
	rateLimitPerDay    = rateLimitPrefix + "per_day"

	// scheduler (input handler)
	schedulerPrefix           = "scheduler."
	schedulerLoops            = schedulerPrefix + "loops"
	schedulerBatchSize        = schedulerPrefix + "batch_size"
	schedulerPollFloorMs      = schedulerPrefix + "poll_floor_ms"
	schedulerPollCeilingMs    = schedulerPrefix + "poll_ceiling_ms"
	schedulerClaimLeaseSecond = schedulerPrefix + "claim_lease_second"

	// collector (output handler)
	collectorPrefix    = "collector."
	collectorQueueSize = collectorPrefix + "queue_size"

	// execution
	executionPrefix         = "execution."
	executionDeadlineSecond = executionPrefix + "deadline_second"
	finalizerSweepSecond    = executionPrefix + "sweep_interval_second"

	// files
	filesPrefix         = "files."
	filesMaxUploadBytes = filesPrefix + "max_upload_bytes"
	filesRoot           = filesPrefix + "root"

	// runtime (embedded local worker)
	runtimePrefix      = "runtime."
	runtimeWorkers     = runtimePrefix + "workers"
	runtimePythonBin   = runtimePrefix + "python_bin"
	runtimeScriptsRoot = runtimePrefix + "scripts_root"

	// tracing
	tracePrefix   = "trace."
	traceEnable   = tracePrefix + "enable"
	traceEndpoint = tracePrefix + "endpoint"

	// cron trigger runner
	cronPrefix               = "cron."
	cronReloadIntervalSecond = cronPrefix + "reload_interval_second"
)
