package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/llm/tokenizer"
)

// ChainConfig 配置嵌入调用链.
type ChainConfig struct {
	CallTimeout    time.Duration // 单次提供者调用超时
	BatchDelay     time.Duration // 批量生成时两次调用的最小间隔
	CacheSize      int           // LRU 容量, 0 表示禁用缓存
	CacheTTL       time.Duration
	MaxInputChars  int // 字符预算, MaxInputTokens 为 0 时生效
	MaxInputTokens int // token 预算
}

// DefaultChainConfig 返回默认调用链配置.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		CallTimeout:   30 * time.Second,
		BatchDelay:    100 * time.Millisecond,
		CacheSize:     2048,
		CacheTTL:      24 * time.Hour,
		MaxInputChars: 8000,
	}
}

// Result 是批量生成中单个输入的结果, Vector 为 nil 表示失败.
type Result struct {
	Vector []float64
	Model  string
}

// Chain 按偏好顺序依次尝试嵌入提供者, 首个成功的结果即为返回值.
//
// 失败不会以错误形式返回: 所有提供者都失败时返回 nil 向量,
// 由调用方决定如何降级. Chain 可被多个 goroutine 并发使用.
type Chain struct {
	providers  []Provider
	tokenizers map[string]tokenizer.Tokenizer
	cfg        ChainConfig
	cache      *vectorCache
	group      singleflight.Group
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewChain 创建嵌入调用链.
func NewChain(providers []Provider, cfg ChainConfig, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	c := &Chain{
		providers:  providers,
		tokenizers: make(map[string]tokenizer.Tokenizer),
		cfg:        cfg,
		cache:      newVectorCache(cfg.CacheSize, cfg.CacheTTL),
		logger:     logger.With(zap.String("component", "embedding_chain")),
	}
	if cfg.MaxInputTokens > 0 {
		for _, p := range providers {
			c.tokenizers[p.Name()] = tokenizer.ForModel(p.Model())
		}
	}
	return c
}

// WithMetrics 设置指标收集器.
func (c *Chain) WithMetrics(m *metrics.Collector) *Chain {
	c.metrics = m
	return c
}

// GenerateEmbedding 为检索查询生成向量, 返回向量与生成它的模型名称.
// 文本为空或全部提供者失败时返回 (nil, "").
func (c *Chain) GenerateEmbedding(ctx context.Context, text string) ([]float64, string) {
	return c.generate(ctx, text, InputTypeQuery, true)
}

// GenerateEmbeddingNoCache 与 GenerateEmbedding 相同, 但既不读也不写缓存.
func (c *Chain) GenerateEmbeddingNoCache(ctx context.Context, text string) ([]float64, string) {
	return c.generate(ctx, text, InputTypeQuery, false)
}

// GenerateDocumentEmbedding 为待入库的文本生成向量. 区分查询与文档的提供者
// (如 Gemini 的 RETRIEVAL_DOCUMENT) 会按文档优化.
func (c *Chain) GenerateDocumentEmbedding(ctx context.Context, text string) ([]float64, string) {
	return c.generate(ctx, text, InputTypeDocument, true)
}

// GenerateEmbeddingsBatch 顺序为每个待入库文本生成文档向量, 调用之间按 BatchDelay 限速.
// 输出与输入一一对应; ctx 取消后剩余输出保持为空.
func (c *Chain) GenerateEmbeddingsBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))

	limit := rate.Inf
	if c.cfg.BatchDelay > 0 {
		limit = rate.Every(c.cfg.BatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, text := range texts {
		if normalizeText(text) == "" {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			c.logger.Warn("batch embedding interrupted",
				zap.Int("completed", i),
				zap.Int("total", len(texts)),
				zap.Error(err))
			break
		}
		vec, model := c.GenerateDocumentEmbedding(ctx, text)
		results[i] = Result{Vector: vec, Model: model}
	}
	return results
}

// IsAvailable 至少有一个提供者可用时返回 true.
func (c *Chain) IsAvailable() bool {
	return len(c.available()) > 0
}

// ClearCache 清空向量缓存.
func (c *Chain) ClearCache() {
	c.cache.Clear()
}

// Dimensions 返回首个可用提供者的向量维度, 无可用提供者时返回 0.
func (c *Chain) Dimensions() int {
	if avail := c.available(); len(avail) > 0 {
		return avail[0].Dimensions()
	}
	return 0
}

func (c *Chain) available() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if isAvailable(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Chain) generate(ctx context.Context, text string, inputType InputType, useCache bool) ([]float64, string) {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil, ""
	}

	providers := c.available()
	if len(providers) == 0 {
		c.logger.Warn("no embedding provider available")
		return nil, ""
	}

	if !useCache {
		res := c.callProviders(ctx, providers, normalized, inputType, false)
		return res.Vector, res.Model
	}

	for _, p := range providers {
		if entry, ok := c.cache.Get(cacheKey(p.Name(), inputType, normalized)); ok {
			c.metrics.RecordCacheHit("embedding")
			return copyVector(entry.vector), entry.model
		}
	}
	c.metrics.RecordCacheMiss("embedding")

	// 相同文本的并发未命中只调用一次提供者
	v, _, _ := c.group.Do(string(inputType)+"\x00"+normalized, func() (any, error) {
		return c.callProviders(ctx, providers, normalized, inputType, true), nil
	})
	res := v.(Result)
	return copyVector(res.Vector), res.Model
}

func (c *Chain) callProviders(ctx context.Context, providers []Provider, normalized string, inputType InputType, store bool) Result {
	for _, p := range providers {
		if ctx.Err() != nil {
			c.logger.Warn("embedding aborted", zap.Error(ctx.Err()))
			return Result{}
		}

		input := c.truncate(p, normalized)

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		vec, err := embedOne(callCtx, p, input, inputType)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			c.metrics.RecordEmbedding(p.Name(), "error", elapsed)
			c.logger.Warn("embedding provider failed",
				zap.String("provider", p.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			continue
		}
		if len(vec) == 0 {
			c.metrics.RecordEmbedding(p.Name(), "empty", elapsed)
			c.logger.Warn("embedding provider returned empty vector",
				zap.String("provider", p.Name()))
			continue
		}

		c.metrics.RecordEmbedding(p.Name(), "success", elapsed)
		if store {
			c.cache.Set(cacheKey(p.Name(), inputType, normalized), cachedVector{vector: copyVector(vec), model: p.Model()})
		}
		return Result{Vector: vec, Model: p.Model()}
	}

	c.logger.Warn("all embedding providers failed", zap.Int("providers", len(providers)))
	return Result{}
}

func embedOne(ctx context.Context, p Provider, input string, inputType InputType) ([]float64, error) {
	if inputType != InputTypeDocument {
		return p.EmbedQuery(ctx, input)
	}
	vecs, err := p.EmbedDocuments(ctx, []string{input})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}

// truncate 按 token 预算或字符预算截断输入.
func (c *Chain) truncate(p Provider, text string) string {
	if c.cfg.MaxInputTokens > 0 {
		if tok, ok := c.tokenizers[p.Name()]; ok {
			out, truncated := tokenizer.Truncate(tok, text, c.cfg.MaxInputTokens)
			if truncated {
				c.logger.Debug("embedding input truncated by tokens",
					zap.String("provider", p.Name()),
					zap.Int("max_tokens", c.cfg.MaxInputTokens))
			}
			return out
		}
	}
	if c.cfg.MaxInputChars > 0 {
		return tokenizer.TruncateRunes(text, c.cfg.MaxInputChars)
	}
	return text
}

func copyVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
