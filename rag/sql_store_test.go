package rag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================
// 唯一约束冲突
// ============================================================

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true},
		{"postgres foreign key", &pgconn.PgError{Code: "23503"}, false},
		{"mysql duplicate entry", &mysql.MySQLError{Number: 1062}, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, false},
		{"sqlite", errors.New("constraint failed: UNIQUE constraint failed: chunk_vectors.source_document_id, chunk_vectors.chunk_id (2067)"), true},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"other", errors.New("connection reset by peer"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

// injectBeforeCreate 在下一次写入 table 的 INSERT 之前, 于同一事务内先写入 inject 的记录,
// 模拟查找之后、插入之前另一写入者提交的数据.
func injectBeforeCreate(t *testing.T, db *gorm.DB, table string, inject func(tx *gorm.DB) error) *atomic.Bool {
	t.Helper()
	fired := &atomic.Bool{}
	err := db.Callback().Create().Before("gorm:create").Register("test:inject_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table || !fired.CompareAndSwap(false, true) {
			return
		}
		if err := inject(tx.Session(&gorm.Session{NewDB: true})); err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)
	return fired
}

func newSQLStoreOn(t *testing.T, db *gorm.DB) *SQLVectorStore {
	t.Helper()
	store := NewSQLVectorStore(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestSQLVectorStore_InsertConflictRetries(t *testing.T) {
	db := openTestDB(t)
	store := newSQLStoreOn(t, db)
	ctx := context.Background()

	fired := injectBeforeCreate(t, db, "chunk_vectors", func(tx *gorm.DB) error {
		now := storeNow(timeZero)
		row, err := chunkToRow(ChunkVector{
			ChunkID: "c1", SourceDocumentID: "doc-1", OrderID: "order-1",
			Text: "stale text", TextHash: TextHash("stale text"),
			Embedding: []float64{0, 1}, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})

	out, err := store.UpsertDocumentVectors(ctx, "order-1", "doc-1", []ChunkInput{
		{ChunkID: "c1", Text: "Container gated in at Santos", Embedding: []float64{1, 0}},
	})
	require.NoError(t, err, "unique violation must not leak to the caller")
	require.True(t, fired.Load())
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ChunkID)

	listed, err := store.ListDocumentVectors(ctx, DocumentFilter{SourceDocumentID: "doc-1"}, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Container gated in at Santos", listed[0].Text)
}

func TestSQLVectorStore_ConcurrentSameContentCollapses(t *testing.T) {
	db := openTestDB(t)
	store := newSQLStoreOn(t, db)
	ctx := context.Background()

	earlier := storeNow(timeZero).Add(-time.Second)
	injectBeforeCreate(t, db, "chunk_vectors", func(tx *gorm.DB) error {
		row, err := chunkToRow(ChunkVector{
			ChunkID: "first-writer", SourceDocumentID: "doc-1", OrderID: "order-1",
			Text: "Reefer temperature log", TextHash: TextHash("Reefer temperature log"),
			Embedding: []float64{0, 1}, CreatedAt: earlier, UpdatedAt: earlier,
		})
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})

	out, err := store.UpsertDocumentVectors(ctx, "order-1", "doc-1", []ChunkInput{
		{ChunkID: "second-writer", Text: "Reefer temperature log", Embedding: []float64{1, 0}, EmbeddingModel: "v2"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "first-writer", out[0].ChunkID)

	listed, err := store.ListDocumentVectors(ctx, DocumentFilter{SourceDocumentID: "doc-1"}, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "first-writer", listed[0].ChunkID)
	assert.Equal(t, []float64{1, 0}, listed[0].Embedding)
	assert.Equal(t, "v2", listed[0].EmbeddingModel)
	assert.True(t, listed[0].CreatedAt.Equal(earlier))
}

func TestSQLVectorStore_EventConflicts(t *testing.T) {
	db := openTestDB(t)
	store := newSQLStoreOn(t, db)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	fired := injectBeforeCreate(t, db, "event_vectors", func(tx *gorm.DB) error {
		now := storeNow(timeZero)
		row, err := eventToRow(EventVector{
			EventID: "evt-1", OrderID: "order-1",
			Summary: "older summary", TextHash: TextHash("older summary"),
			EventTimestamp: ts, Embedding: []float64{0, 1}, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})

	rec, err := store.RegisterOrderEventVector(ctx, event("evt-1", "Vessel departed Santos", ts))
	require.NoError(t, err)
	require.True(t, fired.Load())
	require.NotNil(t, rec)
	assert.Equal(t, "Vessel departed Santos", rec.Summary)

	events, err := store.ListOrderEventVectors(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Vessel departed Santos", events[0].Summary)
}
