/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package config loads the process configuration: an .ini profile selected by
// APP_ENV, with a fixed set of environment variables overriding file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Recognized environments.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvTest  = "test"
	EnvProd  = "prod"
)

// Supported persistence backends.
const (
	DBSqlite   = "sqlite"
	DBPostgres = "postgresql"
	DBMysql    = "mysql"
)

// minKeyBytes is the floor for JWT_SECRET_KEY and ENCRYPTION_KEY.
const minKeyBytes = 32

// envOverrides maps environment variables onto configuration keys. These
// always win over the profile file.
var envOverrides = map[string]string{
	"DB_TYPE":        dbType,
	"DB_DSN":         dbDSN,
	"JWT_SECRET_KEY": jwtSecretKey,
	"JWT_ALGORITHM":  jwtAlgorithm,
	"ENCRYPTION_KEY": cryptoKey,
	"REDIS_HOST":     redisHost,
	"REDIS_PORT":     redisPort,
}

// AppEnv returns the active environment, defaulting to local.
func AppEnv() string {
	switch env := os.Getenv("APP_ENV"); env {
	case EnvLocal, EnvDev, EnvTest, EnvProd:
		return env
	default:
		return EnvLocal
	}
}

// LoadProfile reads configs/config.<env>.ini from configDir and applies the
// environment-variable overrides.
func LoadProfile(configDir string) error {
	path := filepath.Join(configDir, fmt.Sprintf("config.%s.ini", AppEnv()))
	viper.SetConfigFile(path)
	viper.SetConfigType("ini")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading profile %s: %w", path, err)
	}
	applyEnvOverrides()
	return Validate()
}

// SetValue overrides a configuration value. Intended for tests.
func SetValue(key string, value any) {
	viper.Set(key, value)
}

func applyEnvOverrides() {
	for env, key := range envOverrides {
		if val := os.Getenv(env); val != "" {
			viper.Set(key, val)
		}
	}
}

// Validate enforces startup invariants on the loaded configuration.
func Validate() error {
	switch GetDBType() {
	case DBSqlite, DBPostgres, DBMysql:
	default:
		return fmt.Errorf("db type %q is not one of sqlite, postgresql, mysql", GetDBType())
	}
	if len(GetJWTSecretKey()) < minKeyBytes {
		return fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes", minKeyBytes)
	}
	if len(GetEncryptionKey()) < minKeyBytes {
		return fmt.Errorf("ENCRYPTION_KEY must be at least %d bytes", minKeyBytes)
	}
	return nil
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getInt64(key string, defaultValue int64) int64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt64(key)
}

// GetServerBind returns the address:port the HTTP server listens on.
func GetServerBind() string {
	return fmt.Sprintf("%s:%d", getString(serverBind, "0.0.0.0"), getInt(serverPort, 8080))
}

// IsDocsExposed reports whether interactive docs are mounted. Only the local
// and dev profiles expose them by default.
func IsDocsExposed() bool {
	return getBool(serverDocs, AppEnv() == EnvLocal || AppEnv() == EnvDev)
}

// GetDBType returns the persistence backend.
func GetDBType() string {
	return getString(dbType, DBSqlite)
}

// GetDBDSN returns the data source name for the configured backend.
func GetDBDSN() string {
	return getString(dbDSN, "miniflow.db")
}

func GetDBMaxOpenConns() int { return getInt(dbMaxOpenConns, 20) }
func GetDBMaxIdleConns() int { return getInt(dbMaxIdleConns, 5) }

func GetDBMaxLifetime() time.Duration {
	return time.Duration(getInt(dbMaxLifetimeSecond, 1800)) * time.Second
}

func GetDBConnectTimeout() time.Duration {
	return time.Duration(getInt(dbConnectTimeoutSecond, 10)) * time.Second
}

func GetDBRequestTimeout() time.Duration {
	return time.Duration(getInt(dbRequestTimeoutSecond, 30)) * time.Second
}

// GetJWTSecretKey returns the HMAC key for bearer tokens and API-key hashing.
func GetJWTSecretKey() string {
	return getString(jwtSecretKey, "")
}

// GetJWTAlgorithm returns the accepted JWT signing algorithm.
func GetJWTAlgorithm() string {
	return getString(jwtAlgorithm, "HS256")
}

func GetJWTAccessExpire() time.Duration {
	return time.Duration(getInt(jwtAccessExpireMinute, 60)) * time.Minute
}

func GetJWTRefreshExpire() time.Duration {
	return time.Duration(getInt(jwtRefreshExpireMinute, 60*24*14)) * time.Minute
}

// GetEncryptionKey returns the secret-box master key.
func GetEncryptionKey() string {
	return getString(cryptoKey, "")
}

// GetEncryptionKeyID tags new ciphertexts for rotation detection.
func GetEncryptionKeyID() string {
	return getString(cryptoKeyID, "k1")
}

// GetRedisAddr returns host:port of the rate-limit counter store, or "" when
// rate limiting is disabled.
func GetRedisAddr() string {
	host := getString(redisHost, "")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", host, getInt(redisPort, 6379))
}

func GetRedisPassword() string { return getString(redisPassword, "") }
func GetRedisDB() int          { return getInt(redisDB, 0) }

// Fallback rate-limit thresholds for user and client-IP subjects. API-key
// subjects take their thresholds from the workspace plan.
func GetRateLimitPerMinute() int64 { return getInt64(rateLimitPerMinute, 120) }
func GetRateLimitPerHour() int64   { return getInt64(rateLimitPerHour, 3000) }
func GetRateLimitPerDay() int64    { return getInt64(rateLimitPerDay, 30000) }

func GetSchedulerLoops() int     { return getInt(schedulerLoops, 2) }
func GetSchedulerBatchSize() int { return getInt(schedulerBatchSize, 10) }

func GetSchedulerPollFloor() time.Duration {
	return time.Duration(getInt(schedulerPollFloorMs, 100)) * time.Millisecond
}

func GetSchedulerPollCeiling() time.Duration {
	return time.Duration(getInt(schedulerPollCeilingMs, 5000)) * time.Millisecond
}

// GetClaimLease bounds how long an IN_FLIGHT claim may go unacknowledged
// before it is swept back to READY.
func GetClaimLease() time.Duration {
	return time.Duration(getInt(schedulerClaimLeaseSecond, 300)) * time.Second
}

func GetCollectorQueueSize() int { return getInt(collectorQueueSize, 256) }

// GetExecutionDeadline is the execution-level wall-clock limit enforced by
// the finalizer sweep.
func GetExecutionDeadline() time.Duration {
	return time.Duration(getInt(executionDeadlineSecond, 3600)) * time.Second
}

func GetFinalizerSweepInterval() time.Duration {
	return time.Duration(getInt(finalizerSweepSecond, 30)) * time.Second
}

func GetMaxUploadBytes() int64 { return getInt64(filesMaxUploadBytes, 10<<20) }
func GetFilesRoot() string     { return getString(filesRoot, "data/files") }

func GetRuntimeWorkers() int      { return getInt(runtimeWorkers, 4) }
func GetRuntimePythonBin() string { return getString(runtimePythonBin, "python3") }
func GetScriptsRoot() string      { return getString(runtimeScriptsRoot, "data/scripts") }

func IsTraceEnabled() bool     { return getBool(traceEnable, false) }
func GetTraceEndpoint() string { return getString(traceEndpoint, "localhost:4317") }

func GetCronReloadInterval() time.Duration {
	return time.Duration(getInt(cronReloadIntervalSecond, 60)) * time.Second
}
