package rag

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/llm/embedding"
	"github.com/BaSui01/gatekeeper/types"
)

// BatchEmbedder 支持批量生成的嵌入器, embedding.Chain 实现了该接口.
type BatchEmbedder interface {
	Embedder
	GenerateEmbeddingsBatch(ctx context.Context, texts []string) []embedding.Result
}

// IngestConfig 文档写入配置
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultIngestConfig 返回默认写入配置
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// IngestRequest 单个文档的写入请求
type IngestRequest struct {
	OrderID    string
	DocumentID string
	Text       string
	Category   string
	Metadata   map[string]any
}

// IngestResult 写入结果
type IngestResult struct {
	DocumentID string
	Chunks     int   // 切分出的分块数
	Embedded   int   // 成功生成向量并写入的分块数
	Pruned     int64 // 清理掉的旧版本分块数
	Vectors    []ChunkVector
}

// EventRequest 订单事件登记请求
type EventRequest struct {
	OrderID            string
	EventID            string
	Summary            string
	EventType          string
	EventTimestamp     time.Time
	Metadata           map[string]any
	RelatedDocumentIDs []string
}

// CacheInvalidator 订单分块变化后清除检索结果缓存, SimilaritySearch 实现该接口
type CacheInvalidator interface {
	InvalidateOrder(ctx context.Context, orderID string)
}

// Ingestor 负责 切分 → 批量嵌入 → 写入 的文档处理流程
type Ingestor struct {
	store       VectorStore
	embedder    BatchEmbedder
	chunker     *SentenceChunker
	config      IngestConfig
	invalidator CacheInvalidator
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewIngestor 创建写入器
func NewIngestor(store VectorStore, embedder BatchEmbedder, config IngestConfig, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ChunkSize = ClampChunkSize(config.ChunkSize)
	config.ChunkOverlap = ClampOverlap(config.ChunkOverlap, config.ChunkSize)
	return &Ingestor{
		store:    store,
		embedder: embedder,
		chunker:  NewSentenceChunker(nil),
		config:   config,
		logger:   logger.With(zap.String("component", "ingestor")),
	}
}

// WithMetrics 设置指标收集器
func (i *Ingestor) WithMetrics(m *metrics.Collector) *Ingestor {
	i.metrics = m
	return i
}

// WithCacheInvalidator 写入或删除分块后清除对应订单的结果缓存
func (i *Ingestor) WithCacheInvalidator(c CacheInvalidator) *Ingestor {
	i.invalidator = c
	return i
}

func (i *Ingestor) invalidate(ctx context.Context, orderID string) {
	if i.invalidator != nil {
		i.invalidator.InvalidateOrder(ctx, orderID)
	}
}

// WithChunker 替换默认的分块器
func (i *Ingestor) WithChunker(c *SentenceChunker) *Ingestor {
	if c != nil {
		i.chunker = c
	}
	return i
}

// IngestDocument 切分文档文本, 为每个分块生成向量并写入存储.
//
// 全部分块都成功嵌入时, 会清理该文档上一版本遗留的多余分块;
// 部分失败时保留旧分块, 以免丢失可检索内容.
func (i *Ingestor) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := validateDocumentUpsert(req.OrderID, req.DocumentID); err != nil {
		return nil, err
	}

	result := &IngestResult{DocumentID: req.DocumentID}
	pieces := i.chunker.Split(req.Text, i.config.ChunkSize, i.config.ChunkOverlap)
	result.Chunks = len(pieces)
	if len(pieces) == 0 {
		i.logger.Info("document has no text, nothing to ingest",
			zap.String("document_id", req.DocumentID))
		return result, nil
	}

	embedded := i.embedder.GenerateEmbeddingsBatch(ctx, pieces)
	inputs := make([]ChunkInput, 0, len(pieces))
	for idx, piece := range pieces {
		if idx >= len(embedded) || embedded[idx].Vector == nil {
			continue
		}
		index := idx
		inputs = append(inputs, ChunkInput{
			ChunkIndex:     &index,
			Text:           piece,
			Embedding:      embedded[idx].Vector,
			EmbeddingModel: embedded[idx].Model,
			SourceCategory: req.Category,
			Metadata:       maps.Clone(req.Metadata),
		})
	}

	if len(inputs) == 0 {
		return result, types.Errorf(types.ErrProviderUnavailable,
			"no embedding produced for document %s", req.DocumentID).WithRetryable(true)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	vectors, err := i.store.UpsertDocumentVectors(ctx, req.OrderID, req.DocumentID, inputs)
	// 部分写入同样会改变检索结果
	defer i.invalidate(context.WithoutCancel(ctx), req.OrderID)
	if err != nil {
		return result, err
	}
	result.Vectors = vectors
	result.Embedded = len(vectors)
	i.metrics.RecordUpsert("chunk", len(vectors))

	if len(inputs) == len(pieces) {
		keep := make([]string, 0, len(vectors))
		for _, v := range vectors {
			keep = append(keep, v.ChunkID)
		}
		pruned, err := i.store.PruneDocumentVectors(ctx, req.DocumentID, keep)
		if err != nil {
			// 写入已成功, 清理失败只记录
			i.logger.Warn("prune stale chunks failed",
				zap.String("document_id", req.DocumentID),
				zap.Error(err))
		} else {
			result.Pruned = pruned
			i.metrics.RecordDelete("chunk", int(pruned))
		}
	} else {
		i.logger.Warn("some chunks failed to embed",
			zap.String("document_id", req.DocumentID),
			zap.Int("chunks", len(pieces)),
			zap.Int("embedded", len(inputs)))
	}

	i.logger.Info("document ingested",
		zap.String("order_id", req.OrderID),
		zap.String("document_id", req.DocumentID),
		zap.Int("chunks", result.Chunks),
		zap.Int("embedded", result.Embedded),
		zap.Int64("pruned", result.Pruned))
	return result, nil
}

// DeleteDocument 删除文档的全部分块
func (i *Ingestor) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	if documentID == "" {
		return 0, types.NewError(types.ErrInvalidRequest, "source_document_id is required")
	}
	// 删除前取得所属订单, 用于清除结果缓存
	var orderID string
	if i.invalidator != nil {
		existing, err := i.store.ListDocumentVectors(ctx, DocumentFilter{SourceDocumentID: documentID}, 1)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			orderID = existing[0].OrderID
		}
	}

	n, err := i.store.DeleteDocumentVectors(ctx, documentID)
	if err != nil {
		return 0, err
	}
	i.metrics.RecordDelete("chunk", int(n))
	if n > 0 {
		i.invalidate(ctx, orderID)
	}
	return n, nil
}

// RegisterEvent 为订单事件摘要生成向量并登记.
// 摘要为空或嵌入不可用时返回 (nil, nil).
func (i *Ingestor) RegisterEvent(ctx context.Context, req EventRequest) (*EventVector, error) {
	if err := validateEventInput(EventInput{OrderID: req.OrderID, EventID: req.EventID}); err != nil {
		return nil, err
	}
	if NormalizeText(req.Summary) == "" {
		return nil, nil
	}

	// 事件摘要会被入库检索, 按文档向量生成
	res := i.embedder.GenerateEmbeddingsBatch(ctx, []string{req.Summary})[0]
	vec, model := res.Vector, res.Model
	if vec == nil {
		i.logger.Warn("event embedding unavailable, skip registration",
			zap.String("order_id", req.OrderID),
			zap.String("event_id", req.EventID))
		return nil, nil
	}

	rec, err := i.store.RegisterOrderEventVector(ctx, EventInput{
		OrderID:            req.OrderID,
		EventID:            req.EventID,
		Summary:            req.Summary,
		Embedding:          vec,
		EmbeddingModel:     model,
		EventType:          req.EventType,
		EventTimestamp:     req.EventTimestamp,
		Metadata:           req.Metadata,
		RelatedDocumentIDs: req.RelatedDocumentIDs,
	})
	if err != nil {
		return nil, err
	}
	if rec != nil {
		i.metrics.RecordUpsert("event", 1)
	}
	return rec, nil
}
