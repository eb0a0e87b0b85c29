package rag

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 进程内集合
// =============================================================================

// memCollection 以 BSON 文档保存记录, 支持存储用到的等值/$ne/$nin/$exists 过滤、
// 排序、limit 与唯一索引. 插入时补 _id, 替换时保留 _id, 与服务端一致.
type memCollection struct {
	mu     sync.Mutex
	docs   []bson.Raw
	unique [][]string

	// beforeInsert 在下一次 InsertOne 检查唯一索引之前执行一次, 用于模拟并发写入者
	beforeInsert func()
}

func newMemCollection(unique ...[]string) *memCollection {
	return &memCollection{unique: unique}
}

// newMongoTestStore 返回读写走 memCollection 的 Mongo 存储
func newMongoTestStore(t *testing.T) VectorStore {
	store, _, _ := newMongoTestStoreWithCollections(t)
	return store
}

func newMongoTestStoreWithCollections(t *testing.T) (*MongoVectorStore, *memCollection, *memCollection) {
	t.Helper()
	chunks := newMemCollection([]string{"source_document_id", "chunk_id"})
	events := newMemCollection([]string{"order_id", "event_id"})
	return newMongoVectorStore(chunks, events, MongoStoreConfig{}, zap.NewNop()), chunks, events
}

func (c *memCollection) FindOne(_ context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	var fo options.FindOneOptions
	for _, o := range opts {
		for _, set := range o.List() {
			_ = set(&fo)
		}
	}
	docs, err := c.query(filter, fo.Sort, 1)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
	}
	if len(docs) == 0 {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(docs[0], nil, nil)
}

func (c *memCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	var fo options.FindOptions
	for _, o := range opts {
		for _, set := range o.List() {
			_ = set(&fo)
		}
	}
	limit := 0
	if fo.Limit != nil {
		limit = int(*fo.Limit)
	}
	docs, err := c.query(filter, fo.Sort, limit)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *memCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	hook := c.beforeInsert
	c.beforeInsert = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	id := bson.NewObjectID()
	doc, err := withID(document, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.docs {
		if c.conflicts(existing, doc) {
			return nil, mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
		}
	}
	c.docs = append(c.docs, doc)
	return &mongo.InsertOneResult{InsertedID: id, Acknowledged: true}, nil
}

func (c *memCollection) ReplaceOne(_ context.Context, filter any, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error) {
	f, err := asFilter(filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.docs {
		if !matches(existing, f) {
			continue
		}
		doc, err := withID(replacement, existing.Lookup("_id").ObjectID())
		if err != nil {
			return nil, err
		}
		c.docs[i] = doc
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1, Acknowledged: true}, nil
	}
	return &mongo.UpdateResult{Acknowledged: true}, nil
}

func (c *memCollection) DeleteMany(_ context.Context, filter any, _ ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error) {
	f, err := asFilter(filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var deleted int64
	for _, d := range c.docs {
		if matches(d, f) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return &mongo.DeleteResult{DeletedCount: deleted, Acknowledged: true}, nil
}

// insertRaw 绕过唯一索引直接写入, 模拟另一写入者已提交的记录
func (c *memCollection) insertRaw(document any) {
	doc, err := withID(document, bson.NewObjectID())
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.docs = append(c.docs, doc)
	c.mu.Unlock()
}

func (c *memCollection) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *memCollection) query(filter any, sortSpec any, limit int) ([]bson.Raw, error) {
	f, err := asFilter(filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	var out []bson.Raw
	for _, d := range c.docs {
		if matches(d, f) {
			out = append(out, d)
		}
	}
	c.mu.Unlock()

	if sortSpec != nil {
		spec, ok := sortSpec.(bson.D)
		if !ok {
			return nil, fmt.Errorf("unsupported sort %T", sortSpec)
		}
		sort.SliceStable(out, func(i, j int) bool {
			for _, key := range spec {
				cmp := compareValues(out[i].Lookup(key.Key), out[j].Lookup(key.Key))
				if dir, _ := key.Value.(int); dir < 0 {
					cmp = -cmp
				}
				if cmp != 0 {
					return cmp < 0
				}
			}
			return false
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *memCollection) conflicts(a, b bson.Raw) bool {
	for _, keys := range c.unique {
		same := true
		for _, k := range keys {
			if !a.Lookup(k).Equal(b.Lookup(k)) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func withID(document any, id bson.ObjectID) (bson.Raw, error) {
	data, err := bson.Marshal(document)
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	out := bson.D{{Key: "_id", Value: id}}
	for _, e := range d {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return bson.Marshal(out)
}

func asFilter(filter any) (bson.D, error) {
	f, ok := filter.(bson.D)
	if !ok {
		return nil, fmt.Errorf("unsupported filter %T", filter)
	}
	return f, nil
}

func matches(doc bson.Raw, filter bson.D) bool {
	for _, e := range filter {
		rv, err := doc.LookupErr(e.Key)
		present := err == nil

		ops, isOps := e.Value.(bson.D)
		if !isOps || len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
			if !present || !equalValue(rv, e.Value) {
				return false
			}
			continue
		}

		for _, op := range ops {
			switch op.Key {
			case "$ne":
				if present && equalValue(rv, op.Value) {
					return false
				}
			case "$nin":
				if present && containsValue(rv, op.Value) {
					return false
				}
			case "$exists":
				if want, _ := op.Value.(bool); present != want {
					return false
				}
			default:
				panic("unsupported operator " + op.Key)
			}
		}
	}
	return true
}

func equalValue(rv bson.RawValue, v any) bool {
	t, data, err := bson.MarshalValue(v)
	return err == nil && rv.Type == t && bytes.Equal(rv.Value, data)
}

func containsValue(rv bson.RawValue, list any) bool {
	switch l := list.(type) {
	case []string:
		for _, v := range l {
			if equalValue(rv, v) {
				return true
			}
		}
	case bson.A:
		for _, v := range l {
			if equalValue(rv, v) {
				return true
			}
		}
	}
	return false
}

// compareValues 比较存储用到的字段类型, 缺失值排在最前
func compareValues(a, b bson.RawValue) int {
	if a.Type == 0 || b.Type == 0 {
		switch {
		case a.Type == b.Type:
			return 0
		case a.Type == 0:
			return -1
		default:
			return 1
		}
	}
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	switch a.Type {
	case bson.TypeString:
		return strings.Compare(a.StringValue(), b.StringValue())
	case bson.TypeObjectID:
		ao, bo := a.ObjectID(), b.ObjectID()
		return bytes.Compare(ao[:], bo[:])
	}
	return bytes.Compare(a.Value, b.Value)
}

func numeric(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeDateTime:
		return float64(v.DateTime()), true
	}
	return 0, false
}

var _ recordCollection = (*memCollection)(nil)
