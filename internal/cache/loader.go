package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader serves reports from a Store and computes them on a miss. Identical
// concurrent misses share one computation. Store errors are logged and the
// report is computed as if the entry were absent.
type Loader struct {
	store   Store
	prefix  string
	ttl     time.Duration
	budget  time.Duration
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	generations map[string]uint64
}

// NewLoader creates a loader. m may be nil.
func NewLoader(store Store, cfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) *Loader {
	return &Loader{
		store:       store,
		prefix:      cfg.KeyPrefix,
		ttl:         cfg.TTL,
		budget:      cfg.RequestBudget,
		logger:      logger,
		metrics:     m,
		generations: make(map[string]uint64),
	}
}

func (l *Loader) generation(owner string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generations[owner]
}

// GetOrCompute decodes the cached report for key into dst, or runs compute
// under the request budget, stores its JSON encoding and decodes that into
// dst. It reports whether the value came from the store. A caller whose ctx
// ends returns early; the shared computation keeps running for the others.
func (l *Loader) GetOrCompute(ctx context.Context, key Key, dst any, compute func(ctx context.Context) (any, error)) (bool, error) {
	storeKey := key.Encode(l.prefix)

	data, ok, err := l.store.Get(ctx, storeKey)
	switch {
	case err != nil:
		l.metrics.RecordCache(key.Report, "error")
		l.logger.Warn("cache read failed", zap.String("key", storeKey), zap.Error(err))
	case ok:
		if err := json.Unmarshal(data, dst); err == nil {
			l.metrics.RecordCache(key.Report, "hit")
			return true, nil
		}
		l.logger.Warn("discarding undecodable cache entry", zap.String("key", storeKey))
	}
	l.metrics.RecordCache(key.Report, "miss")

	gen := l.generation(key.Owner)
	ch := l.group.DoChan(storeKey+"@"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		// the computation is shared, so it outlives any single caller
		cctx := context.WithoutCancel(ctx)
		if l.budget > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(cctx, l.budget)
			defer cancel()
		} else if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			cctx, cancel = context.WithDeadline(cctx, deadline)
			defer cancel()
		}

		res, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}

		// a write during the computation makes the result stale
		if l.generation(key.Owner) != gen {
			return encoded, nil
		}
		if err := l.store.Set(cctx, storeKey, encoded, l.ttl); err != nil {
			l.metrics.RecordCache(key.Report, "error")
			l.logger.Warn("cache write failed", zap.String("key", storeKey), zap.Error(err))
		}
		return encoded, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if res.Err != nil {
		return false, res.Err
	}
	if err := json.Unmarshal(res.Val.([]byte), dst); err != nil {
		return false, fmt.Errorf("failed to decode report: %w", err)
	}
	return false, nil
}

// Invalidate drops every cached report of owner. trigger labels the metric.
func (l *Loader) Invalidate(ctx context.Context, owner, trigger string) {
	l.mu.Lock()
	l.generations[owner]++
	l.mu.Unlock()

	l.metrics.RecordInvalidation(trigger)
	if err := l.store.InvalidateOwner(ctx, owner); err != nil {
		l.logger.Warn("cache invalidation failed",
			zap.String("owner", owner),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
	}
}
