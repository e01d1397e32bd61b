/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package ratelimit implements sliding-window request accounting over Redis.
// Each subject keeps one sorted set of event timestamps per window; a Lua
// script makes the prune-count-add sequence an atomic
// increment-if-below-threshold, so the hot path takes no lock.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/config"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
)

// Subject kinds, in precedence order.
const (
	KindAPIKey = "apikey"
	KindUser   = "user"
	KindIP     = "ip"
)

// Subject identifies who a request is accounted against.
type Subject struct {
	Kind string
	ID   string
}

// SubjectFor picks the accounting subject: API-key id, else user id, else
// client IP.
func SubjectFor(apiKeyID, userID, ip string) Subject {
	switch {
	case apiKeyID != "":
		return Subject{Kind: KindAPIKey, ID: apiKeyID}
	case userID != "":
		return Subject{Kind: KindUser, ID: userID}
	default:
		return Subject{Kind: KindIP, ID: ip}
	}
}

// Limits carries the thresholds per window. Zero disables a window.
type Limits struct {
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

// FallbackLimits returns the profile thresholds used for user and IP
// subjects. API-key subjects take their thresholds from the workspace plan.
func FallbackLimits() Limits {
	return Limits{
		PerMinute: config.GetRateLimitPerMinute(),
		PerHour:   config.GetRateLimitPerHour(),
		PerDay:    config.GetRateLimitPerDay(),
	}
}

// Limiter admits or rejects one request for a subject.
type Limiter interface {
	Allow(ctx context.Context, subject Subject, limits Limits) error
}

// window lengths in microseconds, minute/hour/day. Mirrored in the script.
var windowMicros = [3]int64{
	int64(time.Minute / time.Microsecond),
	int64(time.Hour / time.Microsecond),
	int64(24 * time.Hour / time.Microsecond),
}

var windowNames = [3]string{"minute", "hour", "day"}

// allowScript atomically prunes the three windows, rejects when any is at
// its threshold, and records the event in all of them otherwise. Returns
// {admitted, retry_after_seconds}.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local windows = {tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])}
local limits = {tonumber(ARGV[5]), tonumber(ARGV[6]), tonumber(ARGV[7])}
for i = 1, 3 do
  if limits[i] > 0 then
    redis.call('ZREMRANGEBYSCORE', KEYS[i], 0, now - windows[i])
    local count = redis.call('ZCARD', KEYS[i])
    if count >= limits[i] then
      local retry = 1
      local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
      if oldest[2] then
        retry = math.ceil((tonumber(oldest[2]) + windows[i] - now) / 1000000)
        if retry < 1 then retry = 1 end
      end
      return {0, retry}
    end
  end
end
for i = 1, 3 do
  if limits[i] > 0 then
    redis.call('ZADD', KEYS[i], now, ARGV[8])
    redis.call('PEXPIRE', KEYS[i], math.ceil(windows[i] / 1000))
  end
end
return {1, 0}
`)

// RedisLimiter is the production limiter.
type RedisLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisLimiter builds a limiter over an existing Redis client.
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

// NewFromConfig returns the Redis-backed limiter, or an always-admitting one
// when no Redis host is configured.
func NewFromConfig() Limiter {
	addr := config.GetRedisAddr()
	if addr == "" {
		klog.InfoS("rate limiting disabled, no redis host configured")
		return disabledLimiter{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.GetRedisPassword(),
		DB:       config.GetRedisDB(),
	})
	return NewRedisLimiter(rdb)
}

// Allow admits the request or fails with RATE_LIMITED carrying retry_after.
func (l *RedisLimiter) Allow(ctx context.Context, subject Subject, limits Limits) error {
	keys := make([]string, 0, 3)
	for _, window := range windowNames {
		keys = append(keys, fmt.Sprintf("rl:%s:%s:%s", subject.Kind, subject.ID, window))
	}
	member := make([]byte, 8)
	_, _ = rand.Read(member)
	nowMicro := l.now().UnixMicro()
	args := []any{
		nowMicro,
		windowMicros[0], windowMicros[1], windowMicros[2],
		limits.PerMinute, limits.PerHour, limits.PerDay,
		fmt.Sprintf("%d-%s", nowMicro, hex.EncodeToString(member)),
	}
	res, err := allowScript.Run(ctx, l.rdb, keys, args...).Int64Slice()
	if err != nil {
		// the limiter never turns an accounting outage into an outage
		klog.ErrorS(err, "rate-limit check failed, admitting request",
			"kind", subject.Kind)
		return nil
	}
	if len(res) == 2 && res[0] == 0 {
		return apierrors.NewRateLimited(time.Duration(res[1]) * time.Second)
	}
	return nil
}

// disabledLimiter admits everything.
type disabledLimiter struct{}

func (disabledLimiter) Allow(context.Context, Subject, Limits) error { return nil }
