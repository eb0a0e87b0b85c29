// Config → 检索核心桥接层。
//
// 将全局 config.Config 组装为可直接使用的写入与检索组件。
package rag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/llm/embedding"
)

// VectorStoreType 标识向量存储后端
type VectorStoreType string

const (
	VectorStoreMemory VectorStoreType = "memory"
	VectorStoreMongo  VectorStoreType = "mongo"
	VectorStoreSQL    VectorStoreType = "sql"
)

// ResolveStoreType 按配置选择后端: Mongo 优先, 其次关系型数据库, 最后内存.
func ResolveStoreType(cfg *config.Config, hasDB bool) VectorStoreType {
	switch {
	case cfg.Mongo.URI != "":
		return VectorStoreMongo
	case hasDB:
		return VectorStoreSQL
	default:
		return VectorStoreMemory
	}
}

// Service 检索核心的运行时组件
type Service struct {
	StoreType  VectorStoreType
	Store      VectorStore
	Embeddings *embedding.Chain
	Search     *SimilaritySearch
	Retriever  *Retriever
	Ingestor   *Ingestor

	closers []func(context.Context) error
}

// Close 释放后端连接
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceOption 配置 NewServiceFromConfig
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	db      *gorm.DB
	store   VectorStore
	cache   ResultCache
	tx      TxRunner
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = l }
}

// WithMetricsCollector 设置指标收集器
func WithMetricsCollector(m *metrics.Collector) ServiceOption {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithDB 提供关系型数据库连接, 未配置 Mongo 时使用
func WithDB(db *gorm.DB) ServiceOption {
	return func(o *serviceOptions) { o.db = db }
}

// WithTxRunner 替换 SQL 存储的事务执行方式, 例如带死锁重试的连接池事务
func WithTxRunner(r TxRunner) ServiceOption {
	return func(o *serviceOptions) { o.tx = r }
}

// WithStore 直接指定存储, 跳过按配置创建
func WithStore(s VectorStore) ServiceOption {
	return func(o *serviceOptions) { o.store = s }
}

// WithResultCache 指定结果缓存, 默认为进程内缓存
func WithResultCache(c ResultCache) ServiceOption {
	return func(o *serviceOptions) { o.cache = c }
}

// NewServiceFromConfig 一键组装 嵌入链 → 存储 → 相似度搜索 → 检索/写入.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	providers, err := embedding.ProvidersFromConfig(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding providers: %w", err)
	}
	chain := embedding.NewChain(providers, embedding.ChainConfigFromConfig(cfg.Embedding), logger).
		WithMetrics(o.metrics)

	svc := &Service{Embeddings: chain}

	switch {
	case o.store != nil:
		svc.Store, svc.StoreType = o.store, storeTypeOf(o.store)
	default:
		svc.StoreType = ResolveStoreType(cfg, o.db != nil)
		switch svc.StoreType {
		case VectorStoreMongo:
			store, closeFn, err := ConnectMongo(ctx, cfg.Mongo, chain.Dimensions(), logger)
			if err != nil {
				return nil, err
			}
			svc.closers = append(svc.closers, closeFn)
			if err := store.EnsureIndexes(ctx); err != nil {
				logger.Warn("ensure mongo indexes failed", zap.Error(err))
			}
			svc.Store = store.WithMetrics(o.metrics)
		case VectorStoreSQL:
			sqlStore := NewSQLVectorStore(o.db, logger).WithMetrics(o.metrics)
			if o.tx != nil {
				sqlStore.WithTxRunner(o.tx)
			}
			svc.Store = sqlStore
		default:
			logger.Warn("no persistent store configured, using in-memory vectors")
			svc.Store = NewInMemoryVectorStore(logger)
		}
	}

	svc.Search = NewSimilaritySearch(svc.Store, SearchConfig{
		UseNative:     cfg.Mongo.NativeSearch,
		NumCandidates: cfg.Retrieval.NumCandidates,
		PoolSize:      cfg.Retrieval.FallbackPoolSize,
		CacheTTL:      cfg.Retrieval.CacheTTL,
	}, logger).WithMetrics(o.metrics)
	if cfg.Retrieval.CacheTTL > 0 {
		resultCache := o.cache
		if resultCache == nil {
			resultCache = NewMemoryResultCache(0)
		}
		svc.Search.WithCache(resultCache, cfg.Retrieval.CacheTTL)
	}

	svc.Retriever = NewRetriever(chain, svc.Search, RetrieverConfig{
		Limit:         cfg.Retrieval.Limit,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		ExcerptLength: cfg.Retrieval.ExcerptLength,
		Timeout:       cfg.Retrieval.Timeout,
	}, logger).WithMetrics(o.metrics)

	svc.Ingestor = NewIngestor(svc.Store, chain, IngestConfig{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
	}, logger).WithMetrics(o.metrics).WithCacheInvalidator(svc.Search)

	logger.Info("retrieval service assembled",
		zap.String("store", string(svc.StoreType)),
		zap.Int("embedding_providers", len(providers)),
		zap.Bool("result_cache", cfg.Retrieval.CacheTTL > 0))
	return svc, nil
}

func storeTypeOf(s VectorStore) VectorStoreType {
	switch s.(type) {
	case *MongoVectorStore:
		return VectorStoreMongo
	case *SQLVectorStore:
		return VectorStoreSQL
	default:
		return VectorStoreMemory
	}
}
