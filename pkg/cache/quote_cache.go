// 文件: pkg/cache/quote_cache.go
// 估值报告缓存 (Redis)
//
// Key 设计:
//   pricer:quote:{requestKey}   -> 报告 JSON，带 TTL
//   pricer:quotes:{symbol}      -> ZSET，member 为 requestKey，score 为写入时间，用于按合约批量失效

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricer.com/pkg/valuation"
)

const (
	quoteKeyPrefix = "pricer:quote:"
	indexKeyPrefix = "pricer:quotes:"

	DefaultTTL = 30 * time.Second
)

// QuoteCache 报告缓存
type QuoteCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQuoteCache 创建缓存，ttl <= 0 时使用 DefaultTTL
func NewQuoteCache(addr string, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &QuoteCache{client: rdb, ttl: ttl}
}

// Ping 检查连接
func (c *QuoteCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *QuoteCache) Close() error {
	return c.client.Close()
}

// luaPut 写入报告并登记到合约索引
// KEYS[1]: quoteKey
// KEYS[2]: indexKey
// ARGV[1]: reportJSON
// ARGV[2]: ttl (ms)
// ARGV[3]: requestKey
// ARGV[4]: score (unix ms)
const luaPut = `
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[3])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return 1
`

// Put 写入报告
func (c *QuoteCache) Put(ctx context.Context, key string, report *valuation.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return c.client.Eval(ctx, luaPut,
		[]string{quoteKeyPrefix + key, indexKeyPrefix + report.Symbol},
		data, c.ttl.Milliseconds(), key, time.Now().UnixMilli()).Err()
}

// Get 读取报告，未命中返回 (nil, false, nil)
func (c *QuoteCache) Get(ctx context.Context, key string) (*valuation.Report, bool, error) {
	data, err := c.client.Get(ctx, quoteKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report valuation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, true, nil
}

// luaInvalidate 删除某个合约的全部缓存
// KEYS[1]: indexKey
// ARGV[1]: quoteKeyPrefix
const luaInvalidate = `
	local members = redis.call('ZRANGE', KEYS[1], 0, -1)
	for _, m in ipairs(members) do
		redis.call('DEL', ARGV[1] .. m)
	end
	redis.call('DEL', KEYS[1])
	return #members
`

// InvalidateSymbol 合约参数变化（行情更新）时清空该合约的缓存，返回删除的条数
func (c *QuoteCache) InvalidateSymbol(ctx context.Context, symbol string) (int64, error) {
	return c.client.Eval(ctx, luaInvalidate, []string{indexKeyPrefix + symbol}, quoteKeyPrefix).Int64()
}
