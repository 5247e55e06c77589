// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// RateGate is the registry's own hourly admission gate, independent of the
// safety validator's history-derived limits.
type RateGate interface {
	// Allow records one attempt for the type and reports whether it is
	// within the hourly limit.
	Allow(ctx context.Context, actionType actions.Type) (bool, error)
	// Counts returns the current per-type counts in the active window.
	Counts() map[actions.Type]int
}

// hourlyLimits caps dispatches per action type per clock hour
var hourlyLimits = map[actions.Type]int{
	actions.TypeAlert:           100,
	actions.TypeAPICall:         50,
	actions.TypeDataUpdate:      200,
	actions.TypeWorkflowTrigger: 30,
}

const defaultHourlyLimit = 50

func hourlyLimitFor(actionType actions.Type) int {
	if limit, ok := hourlyLimits[actionType]; ok {
		return limit
	}
	return defaultHourlyLimit
}

// BucketGate counts dispatches per action type, resetting at the top of
// each hour.
type BucketGate struct {
	mu     sync.Mutex
	counts map[actions.Type]int
	hour   time.Time
	now    func() time.Time
}

// NewBucketGate creates an in-memory hourly gate
func NewBucketGate() *BucketGate {
	return &BucketGate{
		counts: make(map[actions.Type]int),
		now:    time.Now,
	}
}

func (g *BucketGate) Allow(_ context.Context, actionType actions.Type) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hour := g.now().Truncate(time.Hour)
	if !hour.Equal(g.hour) {
		g.hour = hour
		g.counts = make(map[actions.Type]int)
	}

	if g.counts[actionType] >= hourlyLimitFor(actionType) {
		return false, nil
	}
	g.counts[actionType]++
	return true, nil
}

func (g *BucketGate) Counts() map[actions.Type]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[actions.Type]int, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out
}

// RedisGate enforces the hourly limits with a Redis sorted-set sliding
// window so multiple instances share one budget. Redis errors fail open;
// the action proceeds and the error is logged.
type RedisGate struct {
	client *redis.Client
	prefix string
	log    *logger.Logger

	mu     sync.Mutex
	counts map[actions.Type]int
}

// NewRedisGate connects to Redis and verifies the connection
func NewRedisGate(redisURL string) (*RedisGate, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisGate{
		client: client,
		prefix: "actiongate",
		log:    logger.New("registry-rate-gate"),
		counts: make(map[actions.Type]int),
	}, nil
}

func (g *RedisGate) Allow(ctx context.Context, actionType actions.Type) (bool, error) {
	now := time.Now()
	key := fmt.Sprintf("%s:%s", g.prefix, actionType)

	pipe := g.client.Pipeline()

	// Drop entries older than one hour, count what remains, then record
	// this attempt.
	minScore := now.Add(-time.Hour).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Hour)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		g.log.Warn("", "", "redis rate gate unavailable, failing open", map[string]interface{}{
			"action_type": string(actionType),
			"error":       err.Error(),
		})
		return true, nil
	}

	count := int(cmds[1].(*redis.IntCmd).Val())
	g.mu.Lock()
	g.counts[actionType] = count
	g.mu.Unlock()

	return count < hourlyLimitFor(actionType), nil
}

func (g *RedisGate) Counts() map[actions.Type]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[actions.Type]int, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out
}

// Close releases the Redis connection
func (g *RedisGate) Close() error {
	return g.client.Close()
}
