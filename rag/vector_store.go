package rag

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/types"
)

// VectorStore 分块与事件向量的持久化接口
//
// 所有写操作都是单记录的 "先按身份查找, 再按内容哈希查找, 然后更新或插入",
// 中途放弃是安全的, 重试幂等.
type VectorStore interface {
	// 写入文档分块, 返回受影响的记录 (与输入顺序一致)
	UpsertDocumentVectors(ctx context.Context, orderID, sourceDocumentID string, chunks []ChunkInput) ([]ChunkVector, error)

	// 按订单/文档过滤列出分块, 按 chunk_index 升序
	ListDocumentVectors(ctx context.Context, filter DocumentFilter, limit int) ([]ChunkVector, error)

	// 删除文档的全部分块
	DeleteDocumentVectors(ctx context.Context, sourceDocumentID string) (int64, error)

	// 删除文档中 ChunkID 不在 keep 内的分块, 用于新版本写入后清理旧尾部
	PruneDocumentVectors(ctx context.Context, sourceDocumentID string, keepChunkIDs []string) (int64, error)

	// 登记订单事件向量
	RegisterOrderEventVector(ctx context.Context, in EventInput) (*EventVector, error)

	// 列出订单事件, 按 event_timestamp 降序
	ListOrderEventVectors(ctx context.Context, orderID string, limit int) ([]EventVector, error)

	// 按事件 ID 删除
	DeleteOrderEventVector(ctx context.Context, eventID string) (bool, error)

	// 按过滤条件加载至多 poolSize 个最近更新的候选分块, 供暴力搜索使用
	Candidates(ctx context.Context, filter SearchFilter, poolSize int) ([]ChunkVector, error)
}

// NativeSearcher 是拥有原生向量索引的后端实现的可选接口. 使用类型断言检测:
//
//	if ns, ok := store.(NativeSearcher); ok { ns.NativeSearch(ctx, q, opts) }
type NativeSearcher interface {
	NativeSearch(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error)
}

// ====== 公共写入逻辑 ======

func validateDocumentUpsert(orderID, sourceDocumentID string) error {
	if orderID == "" {
		return types.NewError(types.ErrInvalidRequest, "order_id is required")
	}
	if sourceDocumentID == "" {
		return types.NewError(types.ErrInvalidRequest, "source_document_id is required")
	}
	return nil
}

func validateEventInput(in EventInput) error {
	if in.OrderID == "" {
		return types.NewError(types.ErrInvalidRequest, "order_id is required")
	}
	if in.EventID == "" {
		return types.NewError(types.ErrInvalidRequest, "event_id is required")
	}
	return nil
}

// buildChunk 由输入构造待写入的记录, 文本为空或缺少向量时返回 false.
func buildChunk(orderID, sourceDocumentID string, in ChunkInput, position int, logger *zap.Logger) (ChunkVector, bool) {
	if NormalizeText(in.Text) == "" || len(in.Embedding) == 0 {
		logger.Debug("skip chunk without text or embedding",
			zap.String("source_document_id", sourceDocumentID),
			zap.String("chunk_id", in.ChunkID),
			zap.Int("position", position))
		return ChunkVector{}, false
	}

	index := position
	if in.ChunkIndex != nil {
		index = *in.ChunkIndex
	}
	chunkID := in.ChunkID
	if chunkID == "" {
		chunkID = DefaultChunkID(sourceDocumentID, index)
	}

	return ChunkVector{
		ChunkID:          chunkID,
		SourceDocumentID: sourceDocumentID,
		OrderID:          orderID,
		Text:             in.Text,
		TextHash:         TextHash(in.Text),
		ChunkIndex:       index,
		Embedding:        copyFloats(in.Embedding),
		EmbeddingModel:   in.EmbeddingModel,
		SourceCategory:   in.SourceCategory,
		Metadata:         in.Metadata,
		RelevanceScore:   in.RelevanceScore,
	}, true
}

// mergeChunk 用新内容覆盖已有记录的可变字段; 身份 (ChunkID) 与 CreatedAt 保持不变.
func mergeChunk(existing, incoming ChunkVector) ChunkVector {
	incoming.ChunkID = existing.ChunkID
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = storeNow(existing.UpdatedAt)
	return incoming
}

// buildEvent 由输入构造事件记录, 摘要为空或缺少向量时返回 false.
func buildEvent(in EventInput, logger *zap.Logger) (EventVector, bool) {
	if NormalizeText(in.Summary) == "" || len(in.Embedding) == 0 {
		logger.Debug("skip event without summary or embedding",
			zap.String("order_id", in.OrderID),
			zap.String("event_id", in.EventID))
		return EventVector{}, false
	}
	ts := in.EventTimestamp
	if ts.IsZero() {
		ts = storeNow(ts)
	}
	return EventVector{
		EventID:            in.EventID,
		OrderID:            in.OrderID,
		Summary:            in.Summary,
		TextHash:           TextHash(in.Summary),
		EventType:          in.EventType,
		EventTimestamp:     ts.UTC(),
		Embedding:          copyFloats(in.Embedding),
		EmbeddingModel:     in.EmbeddingModel,
		Metadata:           in.Metadata,
		RelatedDocumentIDs: in.RelatedDocumentIDs,
	}, true
}

func mergeEvent(existing, incoming EventVector) EventVector {
	incoming.EventID = existing.EventID
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = storeNow(existing.UpdatedAt)
	return incoming
}

func copyFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func keepSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ====== 内存向量存储（用于测试和小规模部署）======

type chunkEntry struct {
	rec ChunkVector
	seq uint64
}

type eventEntry struct {
	rec EventVector
	seq uint64
}

// InMemoryVectorStore 内存向量存储
type InMemoryVectorStore struct {
	chunks map[string]map[string]*chunkEntry // source_document_id -> chunk_id
	events map[string]map[string]*eventEntry // order_id -> event_id
	seq    uint64
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		chunks: make(map[string]map[string]*chunkEntry),
		events: make(map[string]map[string]*eventEntry),
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// UpsertDocumentVectors 写入文档分块
func (s *InMemoryVectorStore) UpsertDocumentVectors(ctx context.Context, orderID, sourceDocumentID string, chunks []ChunkInput) ([]ChunkVector, error) {
	if err := validateDocumentUpsert(orderID, sourceDocumentID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.chunks[sourceDocumentID]
	if doc == nil {
		doc = make(map[string]*chunkEntry)
		s.chunks[sourceDocumentID] = doc
	}

	out := make([]ChunkVector, 0, len(chunks))
	for i, in := range chunks {
		rec, ok := buildChunk(orderID, sourceDocumentID, in, i, s.logger)
		if !ok {
			continue
		}

		existing := doc[rec.ChunkID]
		if existing == nil {
			existing = findChunkByHash(doc, rec.TextHash)
		}

		if existing != nil {
			existing.rec = mergeChunk(existing.rec, rec)
			out = append(out, cloneChunk(existing.rec))
			continue
		}

		now := storeNow(timeZero)
		rec.CreatedAt, rec.UpdatedAt = now, now
		s.seq++
		doc[rec.ChunkID] = &chunkEntry{rec: rec, seq: s.seq}
		out = append(out, cloneChunk(rec))
	}
	return out, nil
}

func findChunkByHash(doc map[string]*chunkEntry, hash string) *chunkEntry {
	var found *chunkEntry
	for _, e := range doc {
		if e.rec.TextHash == hash && (found == nil || e.seq < found.seq) {
			found = e
		}
	}
	return found
}

// ListDocumentVectors 列出分块
func (s *InMemoryVectorStore) ListDocumentVectors(ctx context.Context, filter DocumentFilter, limit int) ([]ChunkVector, error) {
	entries := s.filterChunks(filter.OrderID, filter.SourceDocumentID, "")

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rec.ChunkIndex != entries[j].rec.ChunkIndex {
			return entries[i].rec.ChunkIndex < entries[j].rec.ChunkIndex
		}
		return entries[i].seq < entries[j].seq
	})

	return collectChunks(entries, limit), nil
}

// DeleteDocumentVectors 删除文档分块
func (s *InMemoryVectorStore) DeleteDocumentVectors(ctx context.Context, sourceDocumentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.chunks[sourceDocumentID]))
	delete(s.chunks, sourceDocumentID)
	return n, nil
}

// PruneDocumentVectors 删除不在保留集合内的分块
func (s *InMemoryVectorStore) PruneDocumentVectors(ctx context.Context, sourceDocumentID string, keepChunkIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := keepSet(keepChunkIDs)
	var n int64
	for id := range s.chunks[sourceDocumentID] {
		if _, ok := keep[id]; !ok {
			delete(s.chunks[sourceDocumentID], id)
			n++
		}
	}
	return n, nil
}

// RegisterOrderEventVector 登记事件
func (s *InMemoryVectorStore) RegisterOrderEventVector(ctx context.Context, in EventInput) (*EventVector, error) {
	if err := validateEventInput(in); err != nil {
		return nil, err
	}
	rec, ok := buildEvent(in, s.logger)
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.events[in.OrderID]
	if order == nil {
		order = make(map[string]*eventEntry)
		s.events[in.OrderID] = order
	}

	existing := order[rec.EventID]
	if existing == nil {
		for _, e := range order {
			if e.rec.TextHash == rec.TextHash && (existing == nil || e.seq < existing.seq) {
				existing = e
			}
		}
	}

	if existing != nil {
		existing.rec = mergeEvent(existing.rec, rec)
		out := cloneEvent(existing.rec)
		return &out, nil
	}

	now := storeNow(timeZero)
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.seq++
	order[rec.EventID] = &eventEntry{rec: rec, seq: s.seq}
	out := cloneEvent(rec)
	return &out, nil
}

// ListOrderEventVectors 列出订单事件, 最新的在前
func (s *InMemoryVectorStore) ListOrderEventVectors(ctx context.Context, orderID string, limit int) ([]EventVector, error) {
	if orderID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "order_id is required")
	}

	s.mu.RLock()
	entries := make([]*eventEntry, 0, len(s.events[orderID]))
	for _, e := range s.events[orderID] {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].rec.EventTimestamp, entries[j].rec.EventTimestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].seq > entries[j].seq
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]EventVector, len(entries))
	for i, e := range entries {
		out[i] = cloneEvent(e.rec)
	}
	return out, nil
}

// DeleteOrderEventVector 删除事件
func (s *InMemoryVectorStore) DeleteOrderEventVector(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := false
	for _, order := range s.events {
		if _, ok := order[eventID]; ok {
			delete(order, eventID)
			deleted = true
		}
	}
	return deleted, nil
}

// Candidates 按最近更新时间倒序加载候选分块, 候选池总是包含最新写入的内容
func (s *InMemoryVectorStore) Candidates(ctx context.Context, filter SearchFilter, poolSize int) ([]ChunkVector, error) {
	entries := s.filterChunks(filter.OrderID, "", filter.Category)
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].rec.UpdatedAt, entries[j].rec.UpdatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].seq > entries[j].seq
	})
	return collectChunks(entries, poolSize), nil
}

// Count 返回分块总数
func (s *InMemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, doc := range s.chunks {
		n += len(doc)
	}
	return n
}

func (s *InMemoryVectorStore) filterChunks(orderID, sourceDocumentID, category string) []*chunkEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*chunkEntry
	for docID, doc := range s.chunks {
		if sourceDocumentID != "" && docID != sourceDocumentID {
			continue
		}
		for _, e := range doc {
			if orderID != "" && e.rec.OrderID != orderID {
				continue
			}
			if category != "" && e.rec.SourceCategory != category {
				continue
			}
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries
}

func collectChunks(entries []*chunkEntry, limit int) []ChunkVector {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]ChunkVector, len(entries))
	for i, e := range entries {
		out[i] = cloneChunk(e.rec)
	}
	return out
}

func cloneChunk(c ChunkVector) ChunkVector {
	c.Embedding = copyFloats(c.Embedding)
	return c
}

func cloneEvent(e EventVector) EventVector {
	e.Embedding = copyFloats(e.Embedding)
	return e
}
