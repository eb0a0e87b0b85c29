// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
//
// 所有 Record* 方法对 nil 接收者安全, 未配置指标时调用方无需判空.
type Collector struct {
	// 嵌入指标
	embeddingRequestsTotal   *prometheus.CounterVec
	embeddingRequestDuration *prometheus.HistogramVec

	// 检索指标
	searchRequestsTotal    *prometheus.CounterVec
	searchDuration         *prometheus.HistogramVec
	retrievalRequestsTotal *prometheus.CounterVec
	retrievalDuration      prometheus.Histogram
	retrievalItems         prometheus.Histogram

	// 存储指标
	vectorUpsertsTotal *prometheus.CounterVec
	vectorDeletesTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器, 注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建注册到指定 Registerer 的指标收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 嵌入指标
	c.embeddingRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider calls",
		},
		[]string{"provider", "status"},
	)

	c.embeddingRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// 检索指标
	c.searchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of similarity searches by strategy",
		},
		[]string{"strategy", "status"},
	)

	c.searchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Similarity search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	c.retrievalRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total number of semantic context retrievals",
		},
		[]string{"status"},
	)

	c.retrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Semantic context retrieval duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	c.retrievalItems = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_items",
			Help:      "Number of context items returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// 存储指标
	c.vectorUpsertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_upserts_total",
			Help:      "Total number of vector records written",
		},
		[]string{"kind"}, // kind: chunk, event
	)

	c.vectorDeletesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_deletes_total",
			Help:      "Total number of vector records deleted",
		},
		[]string{"kind"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🧮 嵌入指标记录
// =============================================================================

// RecordEmbedding 记录一次嵌入服务调用, status 为 success/error/empty
func (c *Collector) RecordEmbedding(provider, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.embeddingRequestsTotal.WithLabelValues(provider, status).Inc()
	c.embeddingRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 🔍 检索指标记录
// =============================================================================

// RecordSearch 记录一次相似度搜索
func (c *Collector) RecordSearch(strategy, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.searchRequestsTotal.WithLabelValues(strategy, status).Inc()
	c.searchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordRetrieval 记录一次上下文检索
func (c *Collector) RecordRetrieval(status string, duration time.Duration, items int) {
	if c == nil {
		return
	}
	c.retrievalRequestsTotal.WithLabelValues(status).Inc()
	c.retrievalDuration.Observe(duration.Seconds())
	c.retrievalItems.Observe(float64(items))
}

// =============================================================================
// 📦 存储指标记录
// =============================================================================

// RecordUpsert 记录写入的向量记录数
func (c *Collector) RecordUpsert(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.vectorUpsertsTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordDelete 记录删除的向量记录数
func (c *Collector) RecordDelete(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.vectorDeletesTotal.WithLabelValues(kind).Add(float64(n))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
