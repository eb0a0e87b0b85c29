package rag

import (
	"time"
)

// ChunkVector 文档分块向量记录
//
// 同一 (SourceDocumentID, ChunkID) 至多一条记录; ChunkID 变化时按
// (SourceDocumentID, TextHash) 去重.
type ChunkVector struct {
	ChunkID          string         `json:"chunk_id" bson:"chunk_id"`
	SourceDocumentID string         `json:"source_document_id" bson:"source_document_id"`
	OrderID          string         `json:"order_id" bson:"order_id"`
	Text             string         `json:"text" bson:"text"`
	TextHash         string         `json:"text_hash" bson:"text_hash"`
	ChunkIndex       int            `json:"chunk_index" bson:"chunk_index"`
	Embedding        []float64      `json:"embedding" bson:"embedding"`
	EmbeddingModel   string         `json:"embedding_model" bson:"embedding_model"`
	SourceCategory   string         `json:"source_category,omitempty" bson:"source_category,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	RelevanceScore   *float64       `json:"relevance_score,omitempty" bson:"relevance_score,omitempty"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" bson:"updated_at"`
}

// EventVector 订单事件摘要向量记录
//
// 同一 (OrderID, EventID) 至多一条记录; 次级去重键为 (OrderID, TextHash).
type EventVector struct {
	EventID            string         `json:"event_id" bson:"event_id"`
	OrderID            string         `json:"order_id" bson:"order_id"`
	Summary            string         `json:"summary" bson:"summary"`
	TextHash           string         `json:"text_hash" bson:"text_hash"`
	EventType          string         `json:"event_type" bson:"event_type"`
	EventTimestamp     time.Time      `json:"event_timestamp" bson:"event_timestamp"`
	Embedding          []float64      `json:"embedding" bson:"embedding"`
	EmbeddingModel     string         `json:"embedding_model" bson:"embedding_model"`
	Metadata           map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	RelatedDocumentIDs []string       `json:"related_document_ids,omitempty" bson:"related_document_ids,omitempty"`
	CreatedAt          time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" bson:"updated_at"`
}

// ChunkInput 写入分块时的输入. ChunkID 与 ChunkIndex 可省略.
type ChunkInput struct {
	ChunkID        string
	ChunkIndex     *int // nil 时使用输入中的位置
	Text           string
	Embedding      []float64
	EmbeddingModel string
	SourceCategory string
	Metadata       map[string]any
	RelevanceScore *float64
}

// EventInput 登记订单事件时的输入. EventTimestamp 为零值时取当前时间.
type EventInput struct {
	OrderID            string
	EventID            string
	Summary            string
	Embedding          []float64
	EmbeddingModel     string
	EventType          string
	EventTimestamp     time.Time
	Metadata           map[string]any
	RelatedDocumentIDs []string
}

// DocumentFilter 列出分块时的过滤条件, 空字段表示不过滤.
type DocumentFilter struct {
	OrderID          string
	SourceDocumentID string
}

// SearchFilter 相似度搜索的等值过滤条件.
type SearchFilter struct {
	OrderID  string
	Category string
}

// SearchOptions 相似度搜索参数.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
	NumCandidates int // 仅原生索引使用, 0 取默认值
	SearchFilter
}

// ScoredChunk 带相似度分数的分块.
type ScoredChunk struct {
	Chunk ChunkVector `json:"chunk"`
	Score float64     `json:"score"`
}

// ContextItem 面向下游展示的检索结果, 不持久化.
type ContextItem struct {
	OrderID        string    `json:"order_id"`
	DocumentID     string    `json:"document_id"`
	DisplayName    string    `json:"display_name"`
	Category       string    `json:"category,omitempty"`
	Score          float64   `json:"score"`
	Excerpt        string    `json:"excerpt"`
	EmbeddingModel string    `json:"embedding_model"`
	ChunkID        string    `json:"chunk_id"`
	RetrievedAt    time.Time `json:"retrieved_at"`
}
