package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/internal/metrics"
)

const (
	DefaultExcerptLength   = 600
	DefaultRetrieveTimeout = 10 * time.Second
	excerptEllipsis        = "..."

	// 去重会丢弃部分结果, 向搜索多取一些候选
	retrievalOverfetch = 2
)

// displayNameKeys 按优先级解析展示名称的元数据键
var displayNameKeys = []string{"display_name", "file_name", "filename", "title"}

// Embedder 为查询生成向量, 失败时返回 nil. embedding.Chain 实现了该接口.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, string)
}

// Searcher 相似度搜索接口. SimilaritySearch 实现了该接口.
type Searcher interface {
	Search(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error)
}

// RetrieverConfig 检索配置
type RetrieverConfig struct {
	Limit         int
	MinSimilarity float64
	ExcerptLength int
	Timeout       time.Duration
}

// DefaultRetrieverConfig 返回默认检索配置
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Limit:         DefaultSearchLimit,
		MinSimilarity: DefaultMinSimilarity,
		ExcerptLength: DefaultExcerptLength,
		Timeout:       DefaultRetrieveTimeout,
	}
}

// RetrieveOptions 单次检索参数. 零值字段使用 RetrieverConfig 中的默认值;
// MinSimilarity 取负数表示不设阈值.
type RetrieveOptions struct {
	OrderID       string
	Category      string
	Limit         int
	MinSimilarity float64
}

// Retriever 将原始查询转换为排序后的上下文条目
//
// 检索增强是尽力而为的: 任何下游失败都降级为空结果, 不会返回错误.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	config   RetrieverConfig
	metrics  *metrics.Collector
	otel     *retrievalInstruments
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetriever 创建检索器
func NewRetriever(embedder Embedder, searcher Searcher, config RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultSearchLimit
	}
	if config.ExcerptLength <= 0 {
		config.ExcerptLength = DefaultExcerptLength
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRetrieveTimeout
	}
	r := &Retriever{
		embedder: embedder,
		searcher: searcher,
		config:   config,
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "retriever")),
		now:      time.Now,
	}
	inst, err := newRetrievalInstruments(otel.Meter(instrumentationName))
	if err != nil {
		r.logger.Warn("otel retrieval instruments unavailable", zap.Error(err))
	}
	r.otel = inst
	return r
}

// WithMetrics 设置指标收集器
func (r *Retriever) WithMetrics(m *metrics.Collector) *Retriever {
	r.metrics = m
	return r
}

// RetrieveSemanticContext 检索与查询最相关的上下文条目, 按分数降序.
func (r *Retriever) RetrieveSemanticContext(ctx context.Context, query string, opts RetrieveOptions) (items []ContextItem) {
	items = []ContextItem{}
	if NormalizeText(query) == "" {
		return items
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = r.config.Limit
	}
	minSimilarity := opts.MinSimilarity
	switch {
	case minSimilarity == 0:
		minSimilarity = r.config.MinSimilarity
	case minSimilarity < 0:
		minSimilarity = -1
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "rag.RetrieveSemanticContext", trace.WithAttributes(
		attribute.String("order_id", opts.OrderID),
		attribute.Int("limit", limit),
		attribute.Float64("min_similarity", minSimilarity),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	status := "success"
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("semantic retrieval panicked",
				zap.String("order_id", opts.OrderID),
				zap.Any("panic", p))
			span.SetStatus(codes.Error, "panic")
			items, status = []ContextItem{}, "panic"
		}
		span.SetAttributes(attribute.Int("results", len(items)))
		elapsed := time.Since(start)
		r.metrics.RecordRetrieval(status, elapsed, len(items))
		r.otel.record(ctx, status, elapsed, len(items))
	}()

	vec, model := r.embedder.GenerateEmbedding(ctx, query)
	if vec == nil {
		status = "no_embedding"
		r.logger.Warn("query embedding unavailable, skipping semantic context",
			zap.String("order_id", opts.OrderID))
		return items
	}
	span.SetAttributes(attribute.String("embedding_model", model))

	results, err := r.searcher.Search(ctx, vec, SearchOptions{
		Limit:         limit * retrievalOverfetch,
		MinSimilarity: minSimilarity,
		SearchFilter:  SearchFilter{OrderID: opts.OrderID, Category: opts.Category},
	})
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("similarity search failed, skipping semantic context",
			zap.String("order_id", opts.OrderID),
			zap.Error(err))
		return items
	}

	results = DedupeResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	retrievedAt := r.now().UTC()
	for _, res := range results {
		items = append(items, r.buildContextItem(res, retrievedAt))
	}
	return items
}

// DedupeResults 按内容哈希去重, 保留先出现 (分数更高) 的结果.
// 同一段文本可能以不同文档的身份存在多份, 例如重复上传或重新扫描.
func DedupeResults(results []ScoredChunk) []ScoredChunk {
	seen := make(map[string]struct{}, len(results))
	out := make([]ScoredChunk, 0, len(results))
	for _, res := range results {
		hash := res.Chunk.TextHash
		if hash == "" {
			hash = TextHash(res.Chunk.Text)
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, res)
	}
	return out
}

func (r *Retriever) buildContextItem(res ScoredChunk, retrievedAt time.Time) ContextItem {
	c := res.Chunk
	return ContextItem{
		OrderID:        c.OrderID,
		DocumentID:     c.SourceDocumentID,
		DisplayName:    ResolveDisplayName(c.Metadata, c.SourceDocumentID),
		Category:       c.SourceCategory,
		Score:          RoundScore(res.Score),
		Excerpt:        Excerpt(c.Text, r.config.ExcerptLength),
		EmbeddingModel: c.EmbeddingModel,
		ChunkID:        c.ChunkID,
		RetrievedAt:    retrievedAt,
	}
}

// ResolveDisplayName 从元数据解析展示名称, 缺失时返回 fallback.
func ResolveDisplayName(metadata map[string]any, fallback string) string {
	for _, key := range displayNameKeys {
		if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return fallback
}

// RoundScore 保留 4 位小数
func RoundScore(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// Excerpt 截取至多 maxLen 个字符, 截断时追加省略号.
func Excerpt(text string, maxLen int) string {
	trimmed := strings.TrimSpace(text)
	if maxLen <= 0 || utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimRightFunc(string(runes[:maxLen]), func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }) + excerptEllipsis
}

// FormatContext 将检索结果渲染为带编号的提示词片段, 无结果时返回空字符串.
func FormatContext(items []ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (score %.4f", i+1, item.DisplayName, item.Score)
		if item.Category != "" {
			fmt.Fprintf(&b, ", %s", item.Category)
		}
		b.WriteString(")\n")
		b.WriteString(item.Excerpt)
	}
	return b.String()
}
