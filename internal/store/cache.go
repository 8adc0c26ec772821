package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/database"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	// countsKeyPrefix 是每个比赛票数Hash的键前缀，字段为参赛者ID
	countsKeyPrefix = "contest:counts:"
	// warmField 标记Hash已经从数据库完整加载，没有参赛者的比赛也能被缓存
	warmField = "_warm"
	// countsTTL 限制多实例部署时缓存与数据库之间的最大偏差时间
	countsTTL = 10 * time.Minute
)

// incrIfWarm 只在Hash已经完整加载时才增加计数，避免产生只含部分参赛者的Hash
var incrIfWarm = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
local v = redis.call("HINCRBY", KEYS[1], ARGV[1], ARGV[2])
if v < 0 then
	redis.call("HSET", KEYS[1], ARGV[1], 0)
end
return 1
`)

// CounterCache 在Redis中缓存每个比赛的票数。
// 任何Redis操作失败都会让对应的比赛缓存失效，下一次读取会从数据库重建。
// Redis不健康时所有操作直接跳过。
type CounterCache struct {
	rdb     *redis.Client
	metrics *metrics.MetricService
}

// NewCounterCache 创建票数缓存，rdb为nil时缓存始终未命中
func NewCounterCache(rdb *redis.Client, ms *metrics.MetricService) *CounterCache {
	return &CounterCache{rdb: rdb, metrics: ms}
}

func countsKey(contestID string) string {
	return countsKeyPrefix + contestID
}

func (c *CounterCache) available() bool {
	return c.rdb != nil && database.IsRedisHealthy()
}

// Counts 返回缓存的票数。未命中、Redis不可用或数据损坏时第二个返回值为false。
func (c *CounterCache) Counts(ctx context.Context, contestID string) (map[string]int64, bool) {
	if !c.available() {
		return nil, false
	}
	raw, err := c.rdb.HGetAll(ctx, countsKey(contestID)).Result()
	if err != nil {
		c.fail(ctx, contestID, "读取票数缓存", err)
		return nil, false
	}
	if _, ok := raw[warmField]; !ok {
		return nil, false
	}

	counts := make(map[string]int64, len(raw)-1)
	for field, value := range raw {
		if field == warmField {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			c.fail(ctx, contestID, "解析票数缓存", fmt.Errorf("字段 %s: %w", field, err))
			return nil, false
		}
		counts[field] = n
	}
	return counts, true
}

// Warm 用数据库中的票数完整替换比赛的缓存
func (c *CounterCache) Warm(ctx context.Context, contestID string, counts map[string]int64) {
	if !c.available() {
		return
	}
	key := countsKey(contestID)
	values := make(map[string]any, len(counts)+1)
	values[warmField] = 1
	for id, n := range counts {
		values[id] = n
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, countsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.fail(ctx, contestID, "写入票数缓存", err)
	}
}

// Incr 在缓存已加载时调整参赛者的票数
func (c *CounterCache) Incr(ctx context.Context, contestID, contestantID string, delta int64) {
	if !c.available() {
		return
	}
	if err := incrIfWarm.Run(ctx, c.rdb, []string{countsKey(contestID)}, contestantID, delta).Err(); err != nil {
		c.fail(ctx, contestID, "更新票数缓存", err)
	}
}

// Invalidate 删除比赛的缓存
func (c *CounterCache) Invalidate(ctx context.Context, contestID string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, countsKey(contestID)).Err()
}

// Flush 删除所有比赛的票数缓存，在Redis重启或恢复后调用
func (c *CounterCache) Flush(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	var deleted int
	iter := c.rdb.Scan(ctx, 0, countsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("删除票数缓存 %s 失败: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("扫描票数缓存失败: %w", err)
	}
	logging.Log.Infof("已清空 %d 个比赛的票数缓存", deleted)
	return nil
}

func (c *CounterCache) fail(ctx context.Context, contestID, op string, err error) {
	c.metrics.CacheErrors.Inc()
	entry := logging.Log.WithField("contest", contestID).WithError(err)
	if delErr := c.Invalidate(ctx, contestID); delErr != nil {
		entry.Errorf("%s失败，且无法使缓存失效: %v", op, delErr)
		return
	}
	entry.Warnf("%s失败，缓存已失效", op)
}
