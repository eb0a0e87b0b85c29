package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/types"
)

// =============================================================================
// 🗄️ 关系型数据库向量存储 (Postgres / MySQL / SQLite)
// =============================================================================

// chunkRow chunk_vectors 表. 向量以 float32 JSON 文本保存, 时间戳由存储层写入.
type chunkRow struct {
	ID               uint      `gorm:"primaryKey"`
	ChunkID          string    `gorm:"column:chunk_id;size:191;not null;uniqueIndex:uniq_document_chunk,priority:2"`
	SourceDocumentID string    `gorm:"column:source_document_id;size:191;not null;uniqueIndex:uniq_document_chunk,priority:1;index:idx_document_hash,priority:1"`
	OrderID          string    `gorm:"column:order_id;size:191;not null;index:idx_chunk_order;index:idx_chunk_order_updated,priority:1"`
	Text             string    `gorm:"column:text;type:text;not null"`
	TextHash         string    `gorm:"column:text_hash;size:64;not null;index:idx_document_hash,priority:2"`
	ChunkIndex       int       `gorm:"column:chunk_index;not null"`
	Embedding        string    `gorm:"column:embedding;type:text;not null"`
	EmbeddingModel   string    `gorm:"column:embedding_model;size:191"`
	SourceCategory   string    `gorm:"column:source_category;size:191"`
	Metadata         string    `gorm:"column:metadata;type:text"`
	RelevanceScore   *float64  `gorm:"column:relevance_score"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null;index:idx_chunk_order_updated,priority:2"`
}

func (chunkRow) TableName() string { return "chunk_vectors" }

// eventRow event_vectors 表
type eventRow struct {
	ID                 uint      `gorm:"primaryKey"`
	EventID            string    `gorm:"column:event_id;size:191;not null;uniqueIndex:uniq_order_event,priority:2"`
	OrderID            string    `gorm:"column:order_id;size:191;not null;uniqueIndex:uniq_order_event,priority:1;index:idx_order_event_hash,priority:1"`
	Summary            string    `gorm:"column:summary;type:text;not null"`
	TextHash           string    `gorm:"column:text_hash;size:64;not null;index:idx_order_event_hash,priority:2"`
	EventType          string    `gorm:"column:event_type;size:191"`
	EventTimestamp     time.Time `gorm:"column:event_timestamp;not null"`
	Embedding          string    `gorm:"column:embedding;type:text;not null"`
	EmbeddingModel     string    `gorm:"column:embedding_model;size:191"`
	Metadata           string    `gorm:"column:metadata;type:text"`
	RelatedDocumentIDs string    `gorm:"column:related_document_ids;type:text"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime:false;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null"`
}

func (eventRow) TableName() string { return "event_vectors" }

// 唯一索引冲突后重新查找的次数
const maxConflictRetries = 2

// TxRunner 在事务中执行 fn, 可替换为带重试的实现.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// SQLVectorStore 基于 GORM 的向量存储. 没有原生向量索引, 检索总是走暴力搜索.
type SQLVectorStore struct {
	db      *gorm.DB
	tx      TxRunner
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSQLVectorStore 创建存储. 表结构由 internal/migration 管理, 测试中可用 AutoMigrate.
func NewSQLVectorStore(db *gorm.DB, logger *zap.Logger) *SQLVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLVectorStore{
		db: db,
		tx: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
		logger: logger.With(zap.String("component", "sql_vector_store")),
	}
}

// WithTxRunner 替换事务执行方式
func (s *SQLVectorStore) WithTxRunner(r TxRunner) *SQLVectorStore {
	if r != nil {
		s.tx = r
	}
	return s
}

// WithMetrics 设置指标收集器
func (s *SQLVectorStore) WithMetrics(m *metrics.Collector) *SQLVectorStore {
	s.metrics = m
	return s
}

// AutoMigrate 按模型创建表与索引
func (s *SQLVectorStore) AutoMigrate() error {
	return s.db.AutoMigrate(&chunkRow{}, &eventRow{})
}

func (s *SQLVectorStore) observe(op string, start time.Time) {
	s.metrics.RecordDBQuery("sql", op, time.Since(start))
}

// isUniqueViolation 识别各方言的唯一约束冲突
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	// SQLite 驱动只暴露错误文本
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sqlError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.Errorf(types.ErrStoreUnavailable, "sql %s failed", op).
		WithCause(err).
		WithRetryable(true)
}

// =============================================================================
// 📄 文档分块
// =============================================================================

// UpsertDocumentVectors 每个分块在独立事务中 "按 chunk_id 查找 → 按 text_hash 查找 → 更新或插入".
func (s *SQLVectorStore) UpsertDocumentVectors(ctx context.Context, orderID, sourceDocumentID string, chunks []ChunkInput) ([]ChunkVector, error) {
	if err := validateDocumentUpsert(orderID, sourceDocumentID); err != nil {
		return nil, err
	}
	start := time.Now()
	defer s.observe("upsert_chunks", start)

	out := make([]ChunkVector, 0, len(chunks))
	for i, in := range chunks {
		rec, ok := buildChunk(orderID, sourceDocumentID, in, i, s.logger)
		if !ok {
			continue
		}
		saved, err := s.upsertChunk(ctx, rec)
		if err != nil {
			return out, sqlError("upsert chunk", err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// upsertChunk 并发插入同一 chunk_id 时后到者撞上唯一索引, 在新事务中重走查找路径后更新.
func (s *SQLVectorStore) upsertChunk(ctx context.Context, rec ChunkVector) (ChunkVector, error) {
	for attempt := 0; ; attempt++ {
		saved, inserted, err := s.upsertChunkOnce(ctx, rec)
		switch {
		case err != nil && isUniqueViolation(err) && attempt < maxConflictRetries:
			s.logger.Debug("chunk insert conflict, retrying",
				zap.String("source_document_id", rec.SourceDocumentID),
				zap.String("chunk_id", rec.ChunkID))
			continue
		case err != nil:
			return ChunkVector{}, err
		case inserted:
			return s.settleChunkHash(ctx, saved, rec)
		default:
			return saved, nil
		}
	}
}

func (s *SQLVectorStore) upsertChunkOnce(ctx context.Context, rec ChunkVector) (saved ChunkVector, inserted bool, err error) {
	err = s.tx(ctx, func(tx *gorm.DB) error {
		var existing chunkRow
		err := tx.Where("source_document_id = ? AND chunk_id = ?", rec.SourceDocumentID, rec.ChunkID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Where("source_document_id = ? AND text_hash = ?", rec.SourceDocumentID, rec.TextHash).
				Order("created_at ASC").
				Order("chunk_id ASC").
				First(&existing).Error
		}

		switch {
		case err == nil:
			saved, inserted = mergeChunk(existingChunk(existing), rec), false
			return saveChunkRow(tx, existing.ID, saved)
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := storeNow(timeZero)
			saved = rec
			saved.CreatedAt, saved.UpdatedAt = now, now
			inserted = true
			row, err := chunkToRow(saved)
			if err != nil {
				return err
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	return saved, inserted, err
}

// settleChunkHash 两个事务同时以不同 chunk_id 插入相同内容时, 两条记录都会提交.
// 插入后按 (created_at, chunk_id) 只保留最早的一条, 本次内容写入保留的记录.
// 两个写入者都在提交后检查, 后检查的一方必然看到两条记录, 因此结果收敛.
func (s *SQLVectorStore) settleChunkHash(ctx context.Context, saved, rec ChunkVector) (ChunkVector, error) {
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var rows []chunkRow
		err := tx.Where("source_document_id = ? AND text_hash = ?", saved.SourceDocumentID, saved.TextHash).
			Order("created_at ASC").
			Order("chunk_id ASC").
			Find(&rows).Error
		if err != nil || len(rows) <= 1 {
			return err
		}

		winner := rows[0]
		losers := make([]uint, 0, len(rows)-1)
		for _, r := range rows[1:] {
			losers = append(losers, r.ID)
		}
		if err := tx.Where("id IN ?", losers).Delete(&chunkRow{}).Error; err != nil {
			return err
		}
		if winner.ChunkID == saved.ChunkID {
			return nil
		}

		s.logger.Debug("collapsed concurrent duplicate chunk",
			zap.String("source_document_id", saved.SourceDocumentID),
			zap.String("dropped_chunk_id", saved.ChunkID),
			zap.String("kept_chunk_id", winner.ChunkID))
		saved = mergeChunk(existingChunk(winner), rec)
		return saveChunkRow(tx, winner.ID, saved)
	})
	return saved, err
}

func existingChunk(r chunkRow) ChunkVector {
	return ChunkVector{ChunkID: r.ChunkID, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()}
}

func saveChunkRow(tx *gorm.DB, id uint, c ChunkVector) error {
	row, err := chunkToRow(c)
	if err != nil {
		return err
	}
	row.ID = id
	return tx.Save(&row).Error
}

// ListDocumentVectors 按 chunk_index 升序列出分块
func (s *SQLVectorStore) ListDocumentVectors(ctx context.Context, filter DocumentFilter, limit int) ([]ChunkVector, error) {
	start := time.Now()
	defer s.observe("list_chunks", start)

	q := s.db.WithContext(ctx).Model(&chunkRow{})
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.SourceDocumentID != "" {
		q = q.Where("source_document_id = ?", filter.SourceDocumentID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []chunkRow
	if err := q.Order("chunk_index ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, sqlError("list chunks", err)
	}
	return s.rowsToChunks(rows), nil
}

// DeleteDocumentVectors 删除文档全部分块
func (s *SQLVectorStore) DeleteDocumentVectors(ctx context.Context, sourceDocumentID string) (int64, error) {
	start := time.Now()
	defer s.observe("delete_chunks", start)

	res := s.db.WithContext(ctx).Where("source_document_id = ?", sourceDocumentID).Delete(&chunkRow{})
	if res.Error != nil {
		return 0, sqlError("delete chunks", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneDocumentVectors 删除 chunk_id 不在 keep 中的分块
func (s *SQLVectorStore) PruneDocumentVectors(ctx context.Context, sourceDocumentID string, keepChunkIDs []string) (int64, error) {
	start := time.Now()
	defer s.observe("prune_chunks", start)

	q := s.db.WithContext(ctx).Where("source_document_id = ?", sourceDocumentID)
	if len(keepChunkIDs) > 0 {
		q = q.Where("chunk_id NOT IN ?", keepChunkIDs)
	}
	res := q.Delete(&chunkRow{})
	if res.Error != nil {
		return 0, sqlError("prune chunks", res.Error)
	}
	return res.RowsAffected, nil
}

// Candidates 按最近更新时间倒序加载候选分块
func (s *SQLVectorStore) Candidates(ctx context.Context, filter SearchFilter, poolSize int) ([]ChunkVector, error) {
	start := time.Now()
	defer s.observe("candidates", start)

	q := s.db.WithContext(ctx).Model(&chunkRow{}).Where("embedding <> ''")
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.Category != "" {
		q = q.Where("source_category = ?", filter.Category)
	}
	if poolSize > 0 {
		q = q.Limit(poolSize)
	}

	var rows []chunkRow
	if err := q.Order("updated_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, sqlError("load candidates", err)
	}
	return s.rowsToChunks(rows), nil
}

func (s *SQLVectorStore) rowsToChunks(rows []chunkRow) []ChunkVector {
	out := make([]ChunkVector, 0, len(rows))
	for _, r := range rows {
		c, err := rowToChunk(r)
		if err != nil {
			s.logger.Warn("skip malformed chunk record",
				zap.String("source_document_id", r.SourceDocumentID),
				zap.String("chunk_id", r.ChunkID),
				zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// =============================================================================
// 📦 订单事件
// =============================================================================

// RegisterOrderEventVector 按 event_id → text_hash 查找后更新或插入, 并发冲突的处理与分块相同.
func (s *SQLVectorStore) RegisterOrderEventVector(ctx context.Context, in EventInput) (*EventVector, error) {
	if err := validateEventInput(in); err != nil {
		return nil, err
	}
	rec, ok := buildEvent(in, s.logger)
	if !ok {
		return nil, nil
	}
	start := time.Now()
	defer s.observe("register_event", start)

	for attempt := 0; ; attempt++ {
		saved, inserted, err := s.registerEventOnce(ctx, rec)
		switch {
		case err != nil && isUniqueViolation(err) && attempt < maxConflictRetries:
			continue
		case err != nil:
			return nil, sqlError("register event", err)
		case inserted:
			saved, err = s.settleEventHash(ctx, saved, rec)
			if err != nil {
				return nil, sqlError("register event", err)
			}
		}
		return &saved, nil
	}
}

func (s *SQLVectorStore) registerEventOnce(ctx context.Context, rec EventVector) (saved EventVector, inserted bool, err error) {
	err = s.tx(ctx, func(tx *gorm.DB) error {
		var existing eventRow
		err := tx.Where("order_id = ? AND event_id = ?", rec.OrderID, rec.EventID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Where("order_id = ? AND text_hash = ?", rec.OrderID, rec.TextHash).
				Order("created_at ASC").
				Order("event_id ASC").
				First(&existing).Error
		}

		switch {
		case err == nil:
			saved, inserted = mergeEvent(existingEvent(existing), rec), false
			return saveEventRow(tx, existing.ID, saved)
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := storeNow(timeZero)
			saved = rec
			saved.CreatedAt, saved.UpdatedAt = now, now
			inserted = true
			row, err := eventToRow(saved)
			if err != nil {
				return err
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	return saved, inserted, err
}

// settleEventHash 同 settleChunkHash, 作用于 (order_id, text_hash)
func (s *SQLVectorStore) settleEventHash(ctx context.Context, saved, rec EventVector) (EventVector, error) {
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var rows []eventRow
		err := tx.Where("order_id = ? AND text_hash = ?", saved.OrderID, saved.TextHash).
			Order("created_at ASC").
			Order("event_id ASC").
			Find(&rows).Error
		if err != nil || len(rows) <= 1 {
			return err
		}

		winner := rows[0]
		losers := make([]uint, 0, len(rows)-1)
		for _, r := range rows[1:] {
			losers = append(losers, r.ID)
		}
		if err := tx.Where("id IN ?", losers).Delete(&eventRow{}).Error; err != nil {
			return err
		}
		if winner.EventID == saved.EventID {
			return nil
		}
		saved = mergeEvent(existingEvent(winner), rec)
		return saveEventRow(tx, winner.ID, saved)
	})
	return saved, err
}

func existingEvent(r eventRow) EventVector {
	return EventVector{EventID: r.EventID, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()}
}

func saveEventRow(tx *gorm.DB, id uint, e EventVector) error {
	row, err := eventToRow(e)
	if err != nil {
		return err
	}
	row.ID = id
	return tx.Save(&row).Error
}

// ListOrderEventVectors 按 event_timestamp 降序列出订单事件
func (s *SQLVectorStore) ListOrderEventVectors(ctx context.Context, orderID string, limit int) ([]EventVector, error) {
	if orderID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "order_id is required")
	}
	start := time.Now()
	defer s.observe("list_events", start)

	q := s.db.WithContext(ctx).Where("order_id = ?", orderID).
		Order("event_timestamp DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, sqlError("list events", err)
	}

	out := make([]EventVector, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEvent(r)
		if err != nil {
			s.logger.Warn("skip malformed event record",
				zap.String("order_id", r.OrderID),
				zap.String("event_id", r.EventID),
				zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteOrderEventVector 按事件 ID 删除
func (s *SQLVectorStore) DeleteOrderEventVector(ctx context.Context, eventID string) (bool, error) {
	start := time.Now()
	defer s.observe("delete_event", start)

	res := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&eventRow{})
	if res.Error != nil {
		return false, sqlError("delete event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// =============================================================================
// 🔧 行转换
// =============================================================================

func encodeEmbedding(v []float64) (string, error) {
	b, err := json.Marshal(Float64ToFloat32(v))
	return string(b), err
}

func decodeEmbedding(s string) ([]float64, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, types.NewError(types.ErrMalformedRecord, "invalid embedding").WithCause(err)
	}
	return Float32ToFloat64(v), nil
}

func encodeJSON(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func chunkToRow(c ChunkVector) (chunkRow, error) {
	emb, err := encodeEmbedding(c.Embedding)
	if err != nil {
		return chunkRow{}, err
	}
	meta, err := encodeJSON(c.Metadata, len(c.Metadata) == 0)
	if err != nil {
		return chunkRow{}, err
	}
	return chunkRow{
		ChunkID:          c.ChunkID,
		SourceDocumentID: c.SourceDocumentID,
		OrderID:          c.OrderID,
		Text:             c.Text,
		TextHash:         c.TextHash,
		ChunkIndex:       c.ChunkIndex,
		Embedding:        emb,
		EmbeddingModel:   c.EmbeddingModel,
		SourceCategory:   c.SourceCategory,
		Metadata:         meta,
		RelevanceScore:   c.RelevanceScore,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}, nil
}

func rowToChunk(r chunkRow) (ChunkVector, error) {
	emb, err := decodeEmbedding(r.Embedding)
	if err != nil {
		return ChunkVector{}, err
	}
	var meta map[string]any
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return ChunkVector{}, types.NewError(types.ErrMalformedRecord, "invalid metadata").WithCause(err)
		}
	}
	return ChunkVector{
		ChunkID:          r.ChunkID,
		SourceDocumentID: r.SourceDocumentID,
		OrderID:          r.OrderID,
		Text:             r.Text,
		TextHash:         r.TextHash,
		ChunkIndex:       r.ChunkIndex,
		Embedding:        emb,
		EmbeddingModel:   r.EmbeddingModel,
		SourceCategory:   r.SourceCategory,
		Metadata:         meta,
		RelevanceScore:   r.RelevanceScore,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}

func eventToRow(e EventVector) (eventRow, error) {
	emb, err := encodeEmbedding(e.Embedding)
	if err != nil {
		return eventRow{}, err
	}
	meta, err := encodeJSON(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return eventRow{}, err
	}
	related, err := encodeJSON(e.RelatedDocumentIDs, len(e.RelatedDocumentIDs) == 0)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		EventID:            e.EventID,
		OrderID:            e.OrderID,
		Summary:            e.Summary,
		TextHash:           e.TextHash,
		EventType:          e.EventType,
		EventTimestamp:     e.EventTimestamp,
		Embedding:          emb,
		EmbeddingModel:     e.EmbeddingModel,
		Metadata:           meta,
		RelatedDocumentIDs: related,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}, nil
}

func rowToEvent(r eventRow) (EventVector, error) {
	emb, err := decodeEmbedding(r.Embedding)
	if err != nil {
		return EventVector{}, err
	}
	e := EventVector{
		EventID:        r.EventID,
		OrderID:        r.OrderID,
		Summary:        r.Summary,
		TextHash:       r.TextHash,
		EventType:      r.EventType,
		EventTimestamp: r.EventTimestamp.UTC(),
		Embedding:      emb,
		EmbeddingModel: r.EmbeddingModel,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
			return EventVector{}, types.NewError(types.ErrMalformedRecord, "invalid metadata").WithCause(err)
		}
	}
	if r.RelatedDocumentIDs != "" {
		if err := json.Unmarshal([]byte(r.RelatedDocumentIDs), &e.RelatedDocumentIDs); err != nil {
			return EventVector{}, types.NewError(types.ErrMalformedRecord, "invalid related_document_ids").WithCause(err)
		}
	}
	return e, nil
}

var _ VectorStore = (*SQLVectorStore)(nil)
