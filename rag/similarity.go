package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/internal/metrics"
)

// 搜索默认值
const (
	DefaultSearchLimit      = 5
	DefaultMinSimilarity    = 0.35
	DefaultPoolSize         = 200
	DefaultNumCandidates    = 200
	DefaultSearchCacheTTL   = 15 * time.Minute
	cacheKeySampleDims      = 16
	numCandidatesPerResult  = 20
	strategyNameNative      = "native"
	strategyNameBruteForce  = "brute_force"
	strategyNameResultCache = "cache"
)

// CosineSimilarity 计算余弦相似度. 任一向量范数为零或长度不一致时返回 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SearchStrategy 相似度搜索策略
type SearchStrategy interface {
	Name() string
	Search(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error)
}

// rankResults 过滤低于阈值的结果, 按分数稳定降序排序并截断.
func rankResults(results []ScoredChunk, minSimilarity float64, limit int) []ScoredChunk {
	kept := results[:0]
	for _, r := range results {
		if r.Score >= minSimilarity {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// ====== 原生索引策略 ======

// NativeIndexStrategy 委托给后端的原生向量索引
type NativeIndexStrategy struct {
	searcher      NativeSearcher
	numCandidates int
}

// NewNativeIndexStrategy 创建原生索引策略, numCandidates <= 0 时取默认值.
func NewNativeIndexStrategy(searcher NativeSearcher, numCandidates int) *NativeIndexStrategy {
	if numCandidates <= 0 {
		numCandidates = DefaultNumCandidates
	}
	return &NativeIndexStrategy{searcher: searcher, numCandidates: numCandidates}
}

func (s *NativeIndexStrategy) Name() string { return strategyNameNative }

// Search 执行原生搜索; 候选池至少为 limit 的 20 倍.
func (s *NativeIndexStrategy) Search(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error) {
	n := opts.NumCandidates
	if n <= 0 {
		n = s.numCandidates
	}
	if floor := opts.Limit * numCandidatesPerResult; n < floor {
		n = floor
	}
	opts.NumCandidates = n

	results, err := s.searcher.NativeSearch(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return rankResults(results, opts.MinSimilarity, opts.Limit), nil
}

// ====== 暴力搜索策略 ======

// BruteForceStrategy 加载有界候选池并在进程内计算余弦相似度
type BruteForceStrategy struct {
	store    VectorStore
	poolSize int
	logger   *zap.Logger
}

// NewBruteForceStrategy 创建暴力搜索策略
func NewBruteForceStrategy(store VectorStore, poolSize int, logger *zap.Logger) *BruteForceStrategy {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BruteForceStrategy{store: store, poolSize: poolSize, logger: logger}
}

func (s *BruteForceStrategy) Name() string { return strategyNameBruteForce }

// Search 对候选池逐一打分
func (s *BruteForceStrategy) Search(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error) {
	candidates, err := s.store.Candidates(ctx, opts.SearchFilter, s.poolSize)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(query) {
			s.logger.Warn("skip candidate with mismatched embedding",
				zap.String("source_document_id", c.SourceDocumentID),
				zap.String("chunk_id", c.ChunkID),
				zap.Int("dims", len(c.Embedding)),
				zap.Int("query_dims", len(query)))
			continue
		}
		results = append(results, ScoredChunk{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	return rankResults(results, opts.MinSimilarity, opts.Limit), nil
}

// ====== 组合搜索 ======

// SearchConfig 相似度搜索配置
type SearchConfig struct {
	UseNative     bool          // 后端支持时优先使用原生索引
	NumCandidates int           // 原生索引候选池
	PoolSize      int           // 暴力搜索候选池
	CacheTTL      time.Duration // 结果缓存有效期
}

// DefaultSearchConfig 返回默认搜索配置
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		UseNative:     true,
		NumCandidates: DefaultNumCandidates,
		PoolSize:      DefaultPoolSize,
		CacheTTL:      DefaultSearchCacheTTL,
	}
}

// SimilaritySearch 先查结果缓存, 再尝试原生索引, 出错或无结果时回退到暴力搜索.
type SimilaritySearch struct {
	native   SearchStrategy
	fallback SearchStrategy
	cache    ResultCache
	cacheTTL time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewSimilaritySearch 创建相似度搜索. store 实现 NativeSearcher 且 cfg.UseNative 时启用原生路径.
func NewSimilaritySearch(store VectorStore, cfg SearchConfig, logger *zap.Logger) *SimilaritySearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultSearchCacheTTL
	}
	logger = logger.With(zap.String("component", "similarity_search"))

	s := &SimilaritySearch{
		fallback: NewBruteForceStrategy(store, cfg.PoolSize, logger),
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}
	if ns, ok := store.(NativeSearcher); ok && cfg.UseNative {
		s.native = NewNativeIndexStrategy(ns, cfg.NumCandidates)
	}
	return s
}

// NewSimilaritySearchWithStrategies 使用自定义策略创建相似度搜索, native 可为 nil.
func NewSimilaritySearchWithStrategies(native, fallback SearchStrategy, logger *zap.Logger) *SimilaritySearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimilaritySearch{
		native:   native,
		fallback: fallback,
		cacheTTL: DefaultSearchCacheTTL,
		logger:   logger,
	}
}

// WithCache 设置结果缓存
func (s *SimilaritySearch) WithCache(cache ResultCache, ttl time.Duration) *SimilaritySearch {
	s.cache = cache
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// WithMetrics 设置指标收集器
func (s *SimilaritySearch) WithMetrics(m *metrics.Collector) *SimilaritySearch {
	s.metrics = m
	return s
}

// Search 返回按分数非递增排列的至多 Limit 个结果.
func (s *SimilaritySearch) Search(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error) {
	if len(query) == 0 {
		return []ScoredChunk{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}

	key := ResultCacheKey(opts.OrderID, SearchCacheKey(query, opts))
	if cached, ok := s.cacheGet(ctx, key); ok {
		return cached, nil
	}

	if s.native != nil {
		start := time.Now()
		results, err := s.native.Search(ctx, query, opts)
		switch {
		case err != nil:
			s.metrics.RecordSearch(s.native.Name(), "error", time.Since(start))
			s.logger.Warn("native vector search failed, falling back",
				zap.String("order_id", opts.OrderID),
				zap.Error(err))
		case len(results) == 0:
			s.metrics.RecordSearch(s.native.Name(), "empty", time.Since(start))
			s.logger.Debug("native vector search returned no results, falling back",
				zap.String("order_id", opts.OrderID))
		default:
			s.metrics.RecordSearch(s.native.Name(), "success", time.Since(start))
			s.cacheSet(ctx, key, results)
			return results, nil
		}
	}

	start := time.Now()
	results, err := s.fallback.Search(ctx, query, opts)
	if err != nil {
		s.metrics.RecordSearch(s.fallback.Name(), "error", time.Since(start))
		return nil, err
	}
	s.metrics.RecordSearch(s.fallback.Name(), "success", time.Since(start))

	if len(results) > 0 {
		s.cacheSet(ctx, key, results)
	}
	return results, nil
}

// InvalidateOrder 订单的分块变化后清除相关的缓存结果
func (s *SimilaritySearch) InvalidateOrder(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		s.logger.Warn("search cache invalidate failed",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func (s *SimilaritySearch) cacheGet(ctx context.Context, key string) ([]ScoredChunk, bool) {
	if s.cache == nil {
		return nil, false
	}
	results, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("search cache get failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		s.metrics.RecordCacheMiss("search")
		return nil, false
	}
	s.metrics.RecordCacheHit("search")
	s.metrics.RecordSearch(strategyNameResultCache, "success", 0)
	return results, true
}

func (s *SimilaritySearch) cacheSet(ctx context.Context, key string, results []ScoredChunk) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, results, s.cacheTTL); err != nil {
		s.logger.Warn("search cache set failed", zap.Error(err))
	}
}

// SearchCacheKey 由查询向量前 16 维、limit、阈值与过滤条件计算缓存键.
func SearchCacheKey(query []float64, opts SearchOptions) string {
	var b strings.Builder
	n := len(query)
	if n > cacheKeySampleDims {
		n = cacheKeySampleDims
	}
	for i := 0; i < n; i++ {
		b.WriteString(strconv.FormatFloat(query[i], 'g', -1, 64))
		b.WriteByte(',')
	}
	b.WriteString("|dims=")
	b.WriteString(strconv.Itoa(len(query)))
	b.WriteString("|limit=")
	b.WriteString(strconv.Itoa(opts.Limit))
	b.WriteString("|min=")
	b.WriteString(strconv.FormatFloat(opts.MinSimilarity, 'g', -1, 64))
	b.WriteString("|order=")
	b.WriteString(opts.OrderID)
	b.WriteString("|category=")
	b.WriteString(opts.Category)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
