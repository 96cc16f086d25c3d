// Package cache stores search results in Redis. Concurrent identical
// queries are computed once, and every index mutation drops all cached
// results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/digitalroastery/weblounge-sub005/internal/search/engine"
	"github.com/digitalroastery/weblounge-sub005/internal/search/parser"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
	pkgredis "github.com/digitalroastery/weblounge-sub005/pkg/redis"
	"github.com/digitalroastery/weblounge-sub005/pkg/resilience"
)

const keyPrefix = "cri:search:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache caches engine results. Cache failures never fail a query: the
// result is computed directly and the store is bypassed while the circuit
// breaker is open.
type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, q engine.Query) (*engine.Result, bool) {
	key := BuildKey(q)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == "" {
		if err != nil {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result engine.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveCache(true)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveCache(false)
}

func (c *QueryCache) Set(ctx context.Context, q engine.Query, result *engine.Result) {
	key := BuildKey(q)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result of q or computes and caches it.
// The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q engine.Query,
	compute func() (*engine.Result, error),
) (*engine.Result, bool, error) {
	if result, ok := c.Get(ctx, q); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(q), func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*engine.Result), false, nil
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey derives the cache key of q. Queries that differ only in term
// order, case or duplicate criteria share a key.
func BuildKey(q engine.Query) string {
	q.Types = sortedSet(q.Types)
	q.WithoutTypes = sortedSet(q.WithoutTypes)
	q.Subjects = sortedSet(q.Subjects)
	q.Text = normalizeText(q.Text)
	data, _ := json.Marshal(q)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func sortedSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeText(text string) string {
	plan := parser.Parse(text)
	if plan.Empty() {
		return strings.TrimSpace(text)
	}
	terms := sortedSet(plan.Terms)
	parts := []string{plan.Type.String(), strings.Join(terms, ",")}
	if len(plan.ExcludeTerms) > 0 {
		parts = append(parts, "NOT:"+strings.Join(sortedSet(plan.ExcludeTerms), ","))
	}
	return strings.Join(parts, "|")
}
