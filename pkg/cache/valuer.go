// 文件: pkg/cache/valuer.go
// 带缓存的估值服务 (cache-aside)

package cache

import (
	"context"
	"log"
	"sync/atomic"

	"pricer.com/pkg/valuation"
)

// Store 报告缓存接口，QuoteCache 是 Redis 实现
type Store interface {
	Get(ctx context.Context, key string) (*valuation.Report, bool, error)
	Put(ctx context.Context, key string, report *valuation.Report) error
}

// CachedValuer 先查缓存，未命中再估值并回填
// 缓存读写失败只记录日志，不影响估值结果
type CachedValuer struct {
	next  valuation.Valuer
	store Store

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedValuer 包装一个估值服务
func NewCachedValuer(next valuation.Valuer, store Store) *CachedValuer {
	return &CachedValuer{next: next, store: store}
}

// Value 实现 valuation.Valuer
func (v *CachedValuer) Value(ctx context.Context, req valuation.Request) (*valuation.Report, error) {
	key, err := req.Key()
	if err != nil {
		return nil, err
	}

	report, ok, err := v.store.Get(ctx, key)
	if err != nil {
		log.Printf("[Cache] get error: key=%s, err=%v", key, err)
	}
	if ok {
		v.hits.Add(1)
		hit := *report
		hit.Cached = true
		return &hit, nil
	}
	v.misses.Add(1)

	report, err = v.next.Value(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := v.store.Put(ctx, key, report); err != nil {
		log.Printf("[Cache] put error: key=%s, err=%v", key, err)
	}
	return report, nil
}

// CacheStats 命中统计
type CacheStats struct {
	Hits   int64
	Misses int64
}

// Stats 获取统计
func (v *CachedValuer) Stats() CacheStats {
	return CacheStats{Hits: v.hits.Load(), Misses: v.misses.Load()}
}
