package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radiusdt/revshare/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const prefix = "revshare:report"

func testConfig() config.CacheConfig {
	return config.CacheConfig{TTL: time.Hour, RequestBudget: time.Second, KeyPrefix: prefix}
}

type report struct {
	Owner string `json:"owner"`
	Value int    `json:"value"`
}

func TestKey_Encode(t *testing.T) {
	base := Key{Owner: "o1", Report: ReportPurchase, Period: "2024"}
	encoded := base.Encode(prefix)
	assert.True(t, strings.HasPrefix(encoded, "revshare:report:o1:purchase:"))

	variants := []Key{
		{Owner: "o1", Report: ReportPurchase, Period: "2024", ImportantOnly: true},
		{Owner: "o1", Report: ReportPurchase, Period: "2024", Search: "alpha"},
		{Owner: "o1", Report: ReportPurchase, Period: "2023"},
		{Owner: "o1", Report: ReportMonthly, Period: "2024"},
		{Owner: "o2", Report: ReportPurchase, Period: "2024"},
	}
	seen := map[string]bool{encoded: true}
	for _, k := range variants {
		e := k.Encode(prefix)
		assert.False(t, seen[e], "key collision for %+v", k)
		seen[e] = true
	}
}

func TestKey_SearchNormalization(t *testing.T) {
	a := Key{Owner: "o1", Report: ReportPurchase, Period: "2024", Search: " Alpha ,beta,, "}
	b := Key{Owner: "o1", Report: ReportPurchase, Period: "2024", Search: "alpha,BETA"}
	c := Key{Owner: "o1", Report: ReportPurchase, Period: "2024", Search: "beta,alpha"}

	assert.Equal(t, a.Encode(prefix), b.Encode(prefix))
	assert.NotEqual(t, a.Encode(prefix), c.Encode(prefix))
	assert.Equal(t, []string{"alpha", "beta"}, NormalizeTerms(" Alpha ,beta,, "))
	assert.Empty(t, NormalizeTerms(" , "))
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(prefix)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_SweepsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(prefix)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, []byte("v"), time.Minute))
	}
	require.NoError(t, s.Set(ctx, "keep", []byte("v"), time.Hour))
	assert.Equal(t, 4, s.Len())

	// expired keys that are never read again still go away
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Set(ctx, "d", []byte("v"), time.Minute))
	assert.Equal(t, 2, s.Len())

	_, ok, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_InvalidateOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(prefix)
	k1 := Key{Owner: "o1", Report: ReportSummary, Period: "a"}.Encode(prefix)
	k2 := Key{Owner: "o1", Report: ReportMonthly, Period: "b"}.Encode(prefix)
	k3 := Key{Owner: "o10", Report: ReportSummary, Period: "a"}.Encode(prefix)
	for _, k := range []string{k1, k2, k3} {
		require.NoError(t, s.Set(ctx, k, []byte("{}"), time.Hour))
	}

	require.NoError(t, s.InvalidateOwner(ctx, "o1"))
	_, ok, _ := s.Get(ctx, k1)
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, k2)
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, k3)
	assert.True(t, ok, "another owner sharing a key prefix must survive")
}

func TestLoader_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(prefix), testConfig(), zap.NewNop(), nil)
	key := Key{Owner: "o1", Report: ReportSummary, Period: "2024-01-01..2024-01-31"}

	calls := 0
	compute := func(context.Context) (any, error) {
		calls++
		return &report{Owner: "o1", Value: 42}, nil
	}

	var first report
	cached, err := l.GetOrCompute(ctx, key, &first, compute)
	require.NoError(t, err)
	assert.False(t, cached)

	var second report
	cached, err = l.GetOrCompute(ctx, key, &second, compute)
	require.NoError(t, err)
	assert.True(t, cached)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 42, second.Value)
}

func TestLoader_InvalidateRecomputes(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(prefix), testConfig(), zap.NewNop(), nil)
	key := Key{Owner: "o1", Report: ReportMonthly, Period: "2024"}

	value := 1
	compute := func(context.Context) (any, error) { return &report{Value: value}, nil }

	var r report
	_, err := l.GetOrCompute(ctx, key, &r, compute)
	require.NoError(t, err)

	value = 2
	l.Invalidate(ctx, "o1", "group_update")
	cached, err := l.GetOrCompute(ctx, key, &r, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, r.Value)
}

func TestLoader_SingleFlight(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(prefix), testConfig(), zap.NewNop(), nil)
	key := Key{Owner: "o1", Report: ReportPool, Period: "x"}

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &report{Value: 7}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]report, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.GetOrCompute(ctx, key, &results[i], compute)
		}(i)
	}
	// let the callers pile up on the in-flight computation
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 7, results[i].Value)
	}
	// callers arriving after the first finished are served from the store
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoader_ComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(prefix)
	l := NewLoader(store, testConfig(), zap.NewNop(), nil)
	key := Key{Owner: "o1", Report: ReportSummary}

	boom := errors.New("boom")
	var r report
	_, err := l.GetOrCompute(ctx, key, &r, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestLoader_Budget(t *testing.T) {
	cfg := testConfig()
	cfg.RequestBudget = 10 * time.Millisecond
	l := NewLoader(NewMemoryStore(prefix), cfg, zap.NewNop(), nil)

	var r report
	_, err := l.GetOrCompute(context.Background(), Key{Owner: "o1", Report: ReportSummary}, &r, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_CallerLeavesEarly(t *testing.T) {
	store := NewMemoryStore(prefix)
	l := NewLoader(store, testConfig(), zap.NewNop(), nil)
	key := Key{Owner: "o1", Report: ReportSummary, Period: "2024"}

	started := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})
	compute := func(ctx context.Context) (any, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &report{Value: 9}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		var r report
		_, err := l.GetOrCompute(firstCtx, key, &r, compute)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	var second report
	go func() {
		_, err := l.GetOrCompute(context.Background(), key, &second, compute)
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 9, second.Value)
	assert.Equal(t, 1, store.Len())
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenStore) InvalidateOwner(context.Context, string) error {
	return errors.New("connection refused")
}

func TestLoader_StoreFailureDegrades(t *testing.T) {
	l := NewLoader(brokenStore{}, testConfig(), zap.NewNop(), nil)

	var r report
	cached, err := l.GetOrCompute(context.Background(), Key{Owner: "o1", Report: ReportSummary}, &r, func(context.Context) (any, error) {
		return &report{Value: 3}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 3, r.Value)

	l.Invalidate(context.Background(), "o1", "test")
}
