package rag

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/config"
	"github.com/BaSui01/gatekeeper/internal/metrics"
	"github.com/BaSui01/gatekeeper/types"
)

// MongoStoreConfig Mongo 向量存储配置
type MongoStoreConfig struct {
	ChunkCollection string
	EventCollection string
	VectorIndex     string // Atlas Vector Search 索引名
	VectorPath      string // 向量字段
	Dimensions      int    // 创建向量索引时使用, 0 表示不创建
	NativeSearch    bool
	Timeout         time.Duration
}

// MongoStoreConfigFrom 由应用配置构造
func MongoStoreConfigFrom(mc config.MongoConfig, dimensions int) MongoStoreConfig {
	return MongoStoreConfig{
		ChunkCollection: mc.ChunkCollection,
		EventCollection: mc.EventCollection,
		VectorIndex:     mc.VectorIndex,
		VectorPath:      mc.VectorPath,
		Dimensions:      dimensions,
		NativeSearch:    mc.NativeSearch,
		Timeout:         mc.Timeout,
	}
}

// recordCollection 记录读写用到的集合操作, *mongo.Collection 实现该接口.
// 索引管理、聚合与连接检查直接使用 *mongo.Database.
type recordCollection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error)
}

// MongoVectorStore 基于 MongoDB 的向量存储, 在 Atlas 上可使用 $vectorSearch 原生检索.
type MongoVectorStore struct {
	db      *mongo.Database
	chunks  recordCollection
	events  recordCollection
	cfg     MongoStoreConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewMongoVectorStore 在给定数据库上创建存储
func NewMongoVectorStore(db *mongo.Database, cfg MongoStoreConfig, logger *zap.Logger) *MongoVectorStore {
	cfg = cfg.withDefaults()
	s := newMongoVectorStore(db.Collection(cfg.ChunkCollection), db.Collection(cfg.EventCollection), cfg, logger)
	s.db = db
	return s
}

func newMongoVectorStore(chunks, events recordCollection, cfg MongoStoreConfig, logger *zap.Logger) *MongoVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoVectorStore{
		chunks: chunks,
		events: events,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.String("component", "mongo_vector_store")),
	}
}

func (cfg MongoStoreConfig) withDefaults() MongoStoreConfig {
	if cfg.ChunkCollection == "" {
		cfg.ChunkCollection = "document_chunk_vectors"
	}
	if cfg.EventCollection == "" {
		cfg.EventCollection = "order_event_vectors"
	}
	if cfg.VectorPath == "" {
		cfg.VectorPath = "embedding"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg
}

// ConnectMongo 连接 MongoDB 并创建存储, 返回的 close 函数用于断开连接.
func ConnectMongo(ctx context.Context, mc config.MongoConfig, dimensions int, logger *zap.Logger) (*MongoVectorStore, func(context.Context) error, error) {
	if mc.URI == "" {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "mongo uri is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, nil, storeError("connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, storeError("ping", err)
	}

	store := NewMongoVectorStore(client.Database(mc.Database), MongoStoreConfigFrom(mc, dimensions), logger)
	return store, client.Disconnect, nil
}

// WithMetrics 设置指标收集器
func (s *MongoVectorStore) WithMetrics(m *metrics.Collector) *MongoVectorStore {
	s.metrics = m
	return s
}

// Ping 检查 Mongo 连接, serve 的就绪检查使用
func (s *MongoVectorStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func storeError(op string, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Errorf(types.ErrStoreUnavailable, "mongo %s failed", op).
		WithCause(err).
		WithRetryable(true)
}

func (s *MongoVectorStore) observe(op string, start time.Time) {
	s.metrics.RecordDBQuery("mongo", op, time.Since(start))
}

func (s *MongoVectorStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// =============================================================================
// 📐 索引
// =============================================================================

// EnsureIndexes 创建唯一索引; 配置了向量索引与维度时尝试创建 Atlas 向量索引,
// 非 Atlas 部署上创建失败只记录警告.
func (s *MongoVectorStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.Collection(s.cfg.ChunkCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "source_document_id", Value: 1}, {Key: "chunk_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_document_chunk"),
		},
		{
			Keys:    bson.D{{Key: "source_document_id", Value: 1}, {Key: "text_hash", Value: 1}},
			Options: options.Index().SetName("idx_document_hash"),
		},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_order_updated"),
		},
	})
	if err != nil {
		return storeError("create chunk indexes", err)
	}

	_, err = s.db.Collection(s.cfg.EventCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_order_event"),
		},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "event_timestamp", Value: -1}},
			Options: options.Index().SetName("idx_order_timestamp"),
		},
	})
	if err != nil {
		return storeError("create event indexes", err)
	}

	if s.cfg.VectorIndex == "" || s.cfg.Dimensions <= 0 {
		return nil
	}
	_, err = s.db.Collection(s.cfg.ChunkCollection).SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: VectorIndexDefinition(s.cfg.VectorPath, s.cfg.Dimensions),
		Options:    options.SearchIndexes().SetName(s.cfg.VectorIndex).SetType("vectorSearch"),
	})
	if err != nil {
		s.logger.Warn("create vector search index failed",
			zap.String("index", s.cfg.VectorIndex),
			zap.Error(err))
	}
	return nil
}

// VectorIndexDefinition 返回余弦相似度向量索引定义, 订单与分类字段可作为预过滤条件.
func VectorIndexDefinition(path string, dimensions int) bson.D {
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: path},
			{Key: "numDimensions", Value: dimensions},
			{Key: "similarity", Value: "cosine"},
		},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "order_id"}},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "source_category"}},
	}}}
}

// =============================================================================
// 📄 文档分块
// =============================================================================

// UpsertDocumentVectors 逐个分块 "按 chunk_id 查找 → 按 text_hash 查找 → 替换或插入".
func (s *MongoVectorStore) UpsertDocumentVectors(ctx context.Context, orderID, sourceDocumentID string, chunks []ChunkInput) ([]ChunkVector, error) {
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
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}

func (s *MongoVectorStore) upsertChunk(ctx context.Context, rec ChunkVector) (ChunkVector, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// 并发插入撞上唯一索引时重新走一遍查找路径
	for attempt := 0; ; attempt++ {
		existing, found, err := s.findChunk(ctx, rec)
		if err != nil {
			return ChunkVector{}, err
		}

		if found {
			merged := mergeChunk(existing, rec)
			_, err := s.chunks.ReplaceOne(ctx, chunkIdentity(merged.SourceDocumentID, existing.ChunkID), merged)
			if err != nil {
				return ChunkVector{}, storeError("replace chunk", err)
			}
			return merged, nil
		}

		inserted := rec
		now := storeNow(timeZero)
		inserted.CreatedAt, inserted.UpdatedAt = now, now
		_, err = s.chunks.InsertOne(ctx, inserted)
		if err == nil {
			return s.settleChunkHash(ctx, inserted, rec)
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxConflictRetries {
			return ChunkVector{}, storeError("insert chunk", err)
		}
	}
}

// settleChunkHash 并发以不同 chunk_id 插入相同内容时只保留最早的一条, 规则与 SQL 存储一致.
func (s *MongoVectorStore) settleChunkHash(ctx context.Context, saved, rec ChunkVector) (ChunkVector, error) {
	hashFilter := bson.D{
		{Key: "source_document_id", Value: saved.SourceDocumentID},
		{Key: "text_hash", Value: saved.TextHash},
	}
	cur, err := s.chunks.Find(ctx, hashFilter, options.Find().SetSort(dedupSort("chunk_id")))
	if err != nil {
		return ChunkVector{}, storeError("find duplicate chunks", err)
	}
	dups, err := decodeChunks(ctx, cur, s.logger)
	if err != nil || len(dups) <= 1 {
		return saved, err
	}

	winner := dups[0]
	if _, err := s.chunks.DeleteMany(ctx, append(hashFilter,
		bson.E{Key: "chunk_id", Value: bson.D{{Key: "$ne", Value: winner.ChunkID}}},
	)); err != nil {
		return ChunkVector{}, storeError("delete duplicate chunks", err)
	}
	if winner.ChunkID == saved.ChunkID {
		return saved, nil
	}

	s.logger.Debug("collapsed concurrent duplicate chunk",
		zap.String("source_document_id", saved.SourceDocumentID),
		zap.String("dropped_chunk_id", saved.ChunkID),
		zap.String("kept_chunk_id", winner.ChunkID))
	merged := mergeChunk(winner, rec)
	if _, err := s.chunks.ReplaceOne(ctx, chunkIdentity(merged.SourceDocumentID, winner.ChunkID), merged); err != nil {
		return ChunkVector{}, storeError("replace chunk", err)
	}
	return merged, nil
}

// dedupSort 内容哈希匹配多条记录时的确定顺序
func dedupSort(idField string) bson.D {
	return bson.D{{Key: "created_at", Value: 1}, {Key: idField, Value: 1}}
}

func (s *MongoVectorStore) findChunk(ctx context.Context, rec ChunkVector) (ChunkVector, bool, error) {
	var existing ChunkVector
	err := s.chunks.FindOne(ctx, chunkIdentity(rec.SourceDocumentID, rec.ChunkID)).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = s.chunks.FindOne(ctx,
			bson.D{{Key: "source_document_id", Value: rec.SourceDocumentID}, {Key: "text_hash", Value: rec.TextHash}},
			options.FindOne().SetSort(dedupSort("chunk_id")),
		).Decode(&existing)
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ChunkVector{}, false, nil
	case err != nil:
		return ChunkVector{}, false, storeError("find chunk", err)
	}
	return existing, true, nil
}

func chunkIdentity(sourceDocumentID, chunkID string) bson.D {
	return bson.D{{Key: "source_document_id", Value: sourceDocumentID}, {Key: "chunk_id", Value: chunkID}}
}

// ListDocumentVectors 按 chunk_index 升序列出分块
func (s *MongoVectorStore) ListDocumentVectors(ctx context.Context, filter DocumentFilter, limit int) ([]ChunkVector, error) {
	start := time.Now()
	defer s.observe("list_chunks", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "chunk_index", Value: 1}, {Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.chunks.Find(ctx, BuildDocumentFilter(filter), opts)
	if err != nil {
		return nil, storeError("list chunks", err)
	}
	return decodeChunks(ctx, cur, s.logger)
}

// DeleteDocumentVectors 删除文档全部分块
func (s *MongoVectorStore) DeleteDocumentVectors(ctx context.Context, sourceDocumentID string) (int64, error) {
	start := time.Now()
	defer s.observe("delete_chunks", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.chunks.DeleteMany(ctx, bson.D{{Key: "source_document_id", Value: sourceDocumentID}})
	if err != nil {
		return 0, storeError("delete chunks", err)
	}
	return res.DeletedCount, nil
}

// PruneDocumentVectors 删除 chunk_id 不在 keep 中的分块
func (s *MongoVectorStore) PruneDocumentVectors(ctx context.Context, sourceDocumentID string, keepChunkIDs []string) (int64, error) {
	start := time.Now()
	defer s.observe("prune_chunks", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if keepChunkIDs == nil {
		keepChunkIDs = []string{}
	}
	res, err := s.chunks.DeleteMany(ctx, bson.D{
		{Key: "source_document_id", Value: sourceDocumentID},
		{Key: "chunk_id", Value: bson.D{{Key: "$nin", Value: keepChunkIDs}}},
	})
	if err != nil {
		return 0, storeError("prune chunks", err)
	}
	return res.DeletedCount, nil
}

// Candidates 按最近更新时间倒序加载候选分块, 不含向量的记录被跳过
func (s *MongoVectorStore) Candidates(ctx context.Context, filter SearchFilter, poolSize int) ([]ChunkVector, error) {
	start := time.Now()
	defer s.observe("candidates", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	q := BuildSearchFilter(filter)
	q = append(q, bson.E{Key: s.cfg.VectorPath, Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: bson.A{}}}})
	opts := options.Find().SetSort(CandidateSort())
	if poolSize > 0 {
		opts.SetLimit(int64(poolSize))
	}
	cur, err := s.chunks.Find(ctx, q, opts)
	if err != nil {
		return nil, storeError("load candidates", err)
	}
	return decodeChunks(ctx, cur, s.logger)
}

// =============================================================================
// 🔍 原生向量检索
// =============================================================================

// NativeSearch 执行 $vectorSearch. Atlas 返回的分数为 (1+cos)/2, 这里换算回余弦值.
func (s *MongoVectorStore) NativeSearch(ctx context.Context, query []float64, opts SearchOptions) ([]ScoredChunk, error) {
	if !s.cfg.NativeSearch || s.cfg.VectorIndex == "" {
		return nil, types.NewError(types.ErrNativeSearchUnsupported, "native vector search is disabled")
	}
	start := time.Now()
	defer s.observe("vector_search", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipeline := BuildVectorSearchPipeline(s.cfg.VectorIndex, s.cfg.VectorPath, query, opts)
	cur, err := s.db.Collection(s.cfg.ChunkCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeError("vector search", err)
	}
	defer cur.Close(ctx)

	var out []ScoredChunk
	for cur.Next(ctx) {
		var doc struct {
			ChunkVector `bson:",inline"`
			Score       float64 `bson:"score"`
		}
		if err := bson.Unmarshal(cur.Current, &doc); err != nil {
			s.logger.Warn("skip malformed vector search result", zap.Error(err))
			continue
		}
		out = append(out, ScoredChunk{Chunk: doc.ChunkVector, Score: CosineFromAtlasScore(doc.Score)})
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("vector search", err)
	}
	return out, nil
}

// AtlasScoreFromCosine 将余弦相似度换算为 Atlas 的归一化分数
func AtlasScoreFromCosine(cos float64) float64 { return (1 + cos) / 2 }

// CosineFromAtlasScore 将 Atlas 归一化分数换算回余弦相似度
func CosineFromAtlasScore(score float64) float64 { return 2*score - 1 }

// BuildVectorSearchPipeline 构造 $vectorSearch 聚合管道, 结果不含向量字段.
func BuildVectorSearchPipeline(index, path string, query []float64, opts SearchOptions) mongo.Pipeline {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	numCandidates := opts.NumCandidates
	if numCandidates < limit {
		numCandidates = limit
	}

	stage := bson.D{
		{Key: "index", Value: index},
		{Key: "path", Value: path},
		{Key: "queryVector", Value: query},
		{Key: "numCandidates", Value: numCandidates},
		{Key: "limit", Value: limit},
	}
	if f := BuildSearchFilter(opts.SearchFilter); len(f) > 0 {
		stage = append(stage, bson.E{Key: "filter", Value: f})
	}

	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: stage}},
		{{Key: "$addFields", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
		{{Key: "$match", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$gte", Value: AtlasScoreFromCosine(opts.MinSimilarity)}}}}}},
		{{Key: "$project", Value: bson.D{{Key: path, Value: 0}}}},
	}
}

// CandidateSort 暴力搜索候选池的排序, 最新更新的分块优先, 同一毫秒内后插入的优先
func CandidateSort() bson.D {
	return bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}
}

// BuildSearchFilter 构造订单/分类等值过滤条件
func BuildSearchFilter(f SearchFilter) bson.D {
	q := bson.D{}
	if f.OrderID != "" {
		q = append(q, bson.E{Key: "order_id", Value: f.OrderID})
	}
	if f.Category != "" {
		q = append(q, bson.E{Key: "source_category", Value: f.Category})
	}
	return q
}

// BuildDocumentFilter 构造列出分块的过滤条件
func BuildDocumentFilter(f DocumentFilter) bson.D {
	q := bson.D{}
	if f.OrderID != "" {
		q = append(q, bson.E{Key: "order_id", Value: f.OrderID})
	}
	if f.SourceDocumentID != "" {
		q = append(q, bson.E{Key: "source_document_id", Value: f.SourceDocumentID})
	}
	return q
}

func decodeChunks(ctx context.Context, cur *mongo.Cursor, logger *zap.Logger) ([]ChunkVector, error) {
	defer cur.Close(ctx)

	out := []ChunkVector{}
	for cur.Next(ctx) {
		var c ChunkVector
		if err := bson.Unmarshal(cur.Current, &c); err != nil {
			logger.Warn("skip malformed chunk record", zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("read cursor", err)
	}
	return out, nil
}

func decodeEvents(ctx context.Context, cur *mongo.Cursor, logger *zap.Logger) ([]EventVector, error) {
	defer cur.Close(ctx)

	out := []EventVector{}
	for cur.Next(ctx) {
		var e EventVector
		if err := bson.Unmarshal(cur.Current, &e); err != nil {
			logger.Warn("skip malformed event record", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	if err := cur.Err(); err != nil {
		return nil, storeError("read cursor", err)
	}
	return out, nil
}

// =============================================================================
// 📦 订单事件
// =============================================================================

// RegisterOrderEventVector 按 event_id → text_hash 查找后替换或插入
func (s *MongoVectorStore) RegisterOrderEventVector(ctx context.Context, in EventInput) (*EventVector, error) {
	if err := validateEventInput(in); err != nil {
		return nil, err
	}
	rec, ok := buildEvent(in, s.logger)
	if !ok {
		return nil, nil
	}
	start := time.Now()
	defer s.observe("register_event", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	for attempt := 0; ; attempt++ {
		var existing EventVector
		err := s.events.FindOne(ctx, eventIdentity(rec.OrderID, rec.EventID)).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = s.events.FindOne(ctx,
				bson.D{{Key: "order_id", Value: rec.OrderID}, {Key: "text_hash", Value: rec.TextHash}},
				options.FindOne().SetSort(dedupSort("event_id")),
			).Decode(&existing)
		}

		switch {
		case err == nil:
			merged := mergeEvent(existing, rec)
			if _, err := s.events.ReplaceOne(ctx, eventIdentity(rec.OrderID, existing.EventID), merged); err != nil {
				return nil, storeError("replace event", err)
			}
			return &merged, nil
		case !errors.Is(err, mongo.ErrNoDocuments):
			return nil, storeError("find event", err)
		}

		inserted := rec
		now := storeNow(timeZero)
		inserted.CreatedAt, inserted.UpdatedAt = now, now
		_, err = s.events.InsertOne(ctx, inserted)
		if err == nil {
			return s.settleEventHash(ctx, inserted, rec)
		}
		if !mongo.IsDuplicateKeyError(err) || attempt >= maxConflictRetries {
			return nil, storeError("insert event", err)
		}
	}
}

// settleEventHash 同 settleChunkHash, 作用于 (order_id, text_hash)
func (s *MongoVectorStore) settleEventHash(ctx context.Context, saved, rec EventVector) (*EventVector, error) {
	hashFilter := bson.D{
		{Key: "order_id", Value: saved.OrderID},
		{Key: "text_hash", Value: saved.TextHash},
	}
	cur, err := s.events.Find(ctx, hashFilter, options.Find().SetSort(dedupSort("event_id")))
	if err != nil {
		return nil, storeError("find duplicate events", err)
	}
	dups, err := decodeEvents(ctx, cur, s.logger)
	if err != nil {
		return nil, err
	}
	if len(dups) <= 1 {
		return &saved, nil
	}

	winner := dups[0]
	if _, err := s.events.DeleteMany(ctx, append(hashFilter,
		bson.E{Key: "event_id", Value: bson.D{{Key: "$ne", Value: winner.EventID}}},
	)); err != nil {
		return nil, storeError("delete duplicate events", err)
	}
	if winner.EventID == saved.EventID {
		return &saved, nil
	}
	merged := mergeEvent(winner, rec)
	if _, err := s.events.ReplaceOne(ctx, eventIdentity(merged.OrderID, winner.EventID), merged); err != nil {
		return nil, storeError("replace event", err)
	}
	return &merged, nil
}

func eventIdentity(orderID, eventID string) bson.D {
	return bson.D{{Key: "order_id", Value: orderID}, {Key: "event_id", Value: eventID}}
}

// ListOrderEventVectors 按 event_timestamp 降序列出订单事件
func (s *MongoVectorStore) ListOrderEventVectors(ctx context.Context, orderID string, limit int) ([]EventVector, error) {
	if orderID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "order_id is required")
	}
	start := time.Now()
	defer s.observe("list_events", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "event_timestamp", Value: -1}, {Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.events.Find(ctx, bson.D{{Key: "order_id", Value: orderID}}, opts)
	if err != nil {
		return nil, storeError("list events", err)
	}
	return decodeEvents(ctx, cur, s.logger)
}

// DeleteOrderEventVector 按事件 ID 删除
func (s *MongoVectorStore) DeleteOrderEventVector(ctx context.Context, eventID string) (bool, error) {
	start := time.Now()
	defer s.observe("delete_event", start)
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.events.DeleteMany(ctx, bson.D{{Key: "event_id", Value: eventID}})
	if err != nil {
		return false, storeError("delete event", err)
	}
	return res.DeletedCount > 0, nil
}

var (
	_ VectorStore    = (*MongoVectorStore)(nil)
	_ NativeSearcher = (*MongoVectorStore)(nil)
)
