package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/gatekeeper/internal/cache"
)

// ResultCache 相似度搜索结果缓存. 过期条目绝不返回.
//
// 键由 ResultCacheKey 生成, 按订单分区; Invalidate 清除该订单以及
// 不带订单过滤的查询结果.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]ScoredChunk, bool, error)
	Set(ctx context.Context, key string, results []ScoredChunk, ttl time.Duration) error
	Invalidate(ctx context.Context, orderID string) error
}

const unscopedCacheScope = "all"

// ResultCacheKey 在搜索键前加上订单分区
func ResultCacheKey(orderID, searchKey string) string {
	return cacheScope(orderID) + ":" + searchKey
}

// cacheScope 订单 ID 取哈希, 避免特殊字符进入 Redis 匹配模式
func cacheScope(orderID string) string {
	if orderID == "" {
		return unscopedCacheScope
	}
	sum := sha256.Sum256([]byte(orderID))
	return hex.EncodeToString(sum[:8])
}

// invalidatedScopes 某订单的数据变化时需要失效的分区
func invalidatedScopes(orderID string) []string {
	if orderID == "" {
		return []string{unscopedCacheScope}
	}
	return []string{cacheScope(orderID), unscopedCacheScope}
}

// ====== 进程内缓存 ======

type resultEntry struct {
	results   []ScoredChunk
	expiresAt time.Time
}

// MemoryResultCache 基于 map 的 TTL 缓存, 超过容量时先清理过期条目再淘汰最早过期的条目.
type MemoryResultCache struct {
	mu         sync.Mutex
	entries    map[string]resultEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryResultCache 创建进程内结果缓存, maxEntries <= 0 时默认 1024.
func NewMemoryResultCache(maxEntries int) *MemoryResultCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryResultCache{
		entries:    make(map[string]resultEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get 读取未过期的结果
func (c *MemoryResultCache) Get(_ context.Context, key string) ([]ScoredChunk, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return cloneScored(e.results), true, nil
}

// Set 写入结果
func (c *MemoryResultCache) Set(_ context.Context, key string, results []ScoredChunk, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = resultEntry{results: cloneScored(results), expiresAt: now.Add(ttl)}
	return nil
}

// Invalidate 删除订单分区与无订单分区的条目
func (c *MemoryResultCache) Invalidate(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, scope := range invalidatedScopes(orderID) {
		prefix := scope + ":"
		for k := range c.entries {
			if strings.HasPrefix(k, prefix) {
				delete(c.entries, k)
			}
		}
	}
	return nil
}

// Len 返回条目数 (含尚未清理的过期条目)
func (c *MemoryResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryResultCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func cloneScored(in []ScoredChunk) []ScoredChunk {
	out := make([]ScoredChunk, len(in))
	for i, r := range in {
		out[i] = ScoredChunk{Chunk: cloneChunk(r.Chunk), Score: r.Score}
	}
	return out
}

// ====== Redis 缓存 ======

const redisResultKeyPrefix = "search:"

// RedisResultCache 基于 internal/cache.Manager 的共享结果缓存, 过期由 Redis TTL 保证.
// 缓存的结果不含向量数据.
type RedisResultCache struct {
	manager *cache.Manager
}

// NewRedisResultCache 创建 Redis 结果缓存
func NewRedisResultCache(manager *cache.Manager) *RedisResultCache {
	return &RedisResultCache{manager: manager}
}

// Get 读取结果
func (c *RedisResultCache) Get(ctx context.Context, key string) ([]ScoredChunk, bool, error) {
	var results []ScoredChunk
	if err := c.manager.GetJSON(ctx, redisResultKeyPrefix+key, &results); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return results, true, nil
}

// Set 写入结果
func (c *RedisResultCache) Set(ctx context.Context, key string, results []ScoredChunk, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	slim := make([]ScoredChunk, len(results))
	for i, r := range results {
		slim[i] = r
		slim[i].Chunk.Embedding = nil
	}
	return c.manager.SetJSON(ctx, redisResultKeyPrefix+key, slim, ttl)
}

// Invalidate 删除订单分区与无订单分区的键
func (c *RedisResultCache) Invalidate(ctx context.Context, orderID string) error {
	for _, scope := range invalidatedScopes(orderID) {
		if _, err := c.manager.DeletePattern(ctx, redisResultKeyPrefix+scope+":*"); err != nil {
			return err
		}
	}
	return nil
}
