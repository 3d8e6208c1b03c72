package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricer.com/pkg/option"
	"pricer.com/pkg/valuation"
)

var (
	_ Store            = (*QuoteCache)(nil)
	_ valuation.Valuer = (*CachedValuer)(nil)
)

// =============================================================================
// 测试替身
// =============================================================================

type memStore struct {
	mu      sync.Mutex
	reports map[string]*valuation.Report
	getErr  error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{reports: make(map[string]*valuation.Report)}
}

func (s *memStore) Get(_ context.Context, key string) (*valuation.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	r, ok := s.reports[key]
	return r, ok, nil
}

func (s *memStore) Put(_ context.Context, key string, r *valuation.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.reports[key] = r
	return nil
}

type countingValuer struct {
	calls int
	err   error
}

func (v *countingValuer) Value(_ context.Context, req valuation.Request) (*valuation.Report, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return &valuation.Report{
		RunID:  int64(v.calls),
		Symbol: req.Contract.Symbol,
		Kind:   option.Call,
		Prices: map[valuation.Method]decimal.Decimal{
			valuation.MethodClosedForm: decimal.RequireFromString("10.4506"),
		},
	}, nil
}

func testRequest(strike float64) valuation.Request {
	return valuation.Request{
		Contract: valuation.Contract{Symbol: "ETH-C", Kind: option.Call, Spot: 100, Strike: strike, Rate: 0.05, Volatility: 0.2, Maturity: 1},
		Methods:  []valuation.Method{valuation.MethodClosedForm},
	}
}

// =============================================================================
// CachedValuer
// =============================================================================

func TestCachedValuer_HitAndMiss(t *testing.T) {
	inner := &countingValuer{}
	v := NewCachedValuer(inner, newMemStore())
	ctx := context.Background()

	first, err := v.Value(ctx, testRequest(100))
	require.NoError(t, err)
	second, err := v.Value(ctx, testRequest(100))
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first.RunID, second.RunID)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)

	// 不同执行价是不同的 key
	_, err = v.Value(ctx, testRequest(110))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, CacheStats{Hits: 1, Misses: 2}, v.Stats())
}

func TestCachedValuer_StoreErrorsDoNotFail(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("redis down")
	store.putErr = errors.New("redis down")
	inner := &countingValuer{}
	v := NewCachedValuer(inner, store)

	for i := 0; i < 2; i++ {
		report, err := v.Value(context.Background(), testRequest(100))
		require.NoError(t, err)
		assert.NotNil(t, report)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCachedValuer_Errors(t *testing.T) {
	boom := errors.New("boom")
	store := newMemStore()
	v := NewCachedValuer(&countingValuer{err: boom}, store)

	_, err := v.Value(context.Background(), testRequest(100))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.reports)

	req := testRequest(100)
	req.Methods = []valuation.Method{"nope"}
	_, err = v.Value(context.Background(), req)
	assert.ErrorIs(t, err, valuation.ErrUnknownMethod)
}

// =============================================================================
// QuoteCache (需要 Redis)
// =============================================================================

// setupRedis 初始化 Redis 连接并清空测试数据
func setupRedis(t *testing.T) *QuoteCache {
	// 假设本地 Redis 运行在 localhost:6379
	c := NewQuoteCache("localhost:6379", time.Minute)

	if err := c.Ping(context.Background()); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}

	c.client.FlushDB(context.Background())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQuoteCache_PutGetInvalidate(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	report := &valuation.Report{
		RunID:  42,
		Symbol: "ETH-C",
		Kind:   option.Call,
		Prices: map[valuation.Method]decimal.Decimal{valuation.MethodLattice: decimal.RequireFromString("10.4406")},
	}
	require.NoError(t, c.Put(ctx, "k1", report))
	require.NoError(t, c.Put(ctx, "k2", report))

	got, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), got.RunID)
	require.Equal(t, "10.4406", got.Prices[valuation.MethodLattice].String())

	ttl, err := c.client.PTTL(ctx, quoteKeyPrefix+"k1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	n, err := c.InvalidateSymbol(ctx, "ETH-C")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, ok, err = c.Get(ctx, "k2")
	require.NoError(t, err)
	require.False(t, ok)
}
