package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"chat-store/internal/metrics"
	"chat-store/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMessageStore 基于 MongoDB 的消息存储实现。
// - NewMongoMessageStore 会在 messages 集合上建立完整索引面（见 ensureIndexes）
// - 过滤/补丁均来自声明式 Filter/Patch，本文件负责翻译与执行
// - 单文档操作符（$inc/$set/$unset/$addToSet/$pull）的原子性由引擎保证；
//   无跨文档事务，聚合字段的一致性按最终一致处理（由对账任务修复漂移）
type MongoMessageStore struct {
	DB *mongo.Database
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	s := &MongoMessageStore{DB: db}
	s.ensureIndexes()
	return s
}

func (s *MongoMessageStore) collection() *mongo.Collection {
	return s.DB.Collection("messages")
}

// ensureIndexes 建立索引面。稀疏/部分索引只覆盖字段存在的少数文档：
// 这些字段在全集合中出现率很低，普通索引会浪费空间并拖慢写入。
// 容错：重复创建无害，失败仅告警（线上可能由运维预建）。
func (s *MongoMessageStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sparse := options.Index().SetSparse(true)
	indexes := []mongo.IndexModel{
		// 主分页路径：房间 + 时间 + 更新时间
		{Keys: bson.D{{Key: "rid", Value: 1}, {Key: "ts", Value: 1}, {Key: "_updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "ts", Value: 1}}},
		{Keys: bson.D{{Key: "u._id", Value: 1}}},
		// 编辑元数据：仅被编辑过的消息携带
		{Keys: bson.D{{Key: "editedAt", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "editedBy._id", Value: 1}}, Options: sparse},
		// 管理查询：房间 + 类型 + 作者
		{Keys: bson.D{{Key: "rid", Value: 1}, {Key: "t", Value: 1}, {Key: "u._id", Value: 1}}},
		// 定时自毁：expireAt 到点即删（0 秒宽限）
		{Keys: bson.D{{Key: "expireAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expire_at")},
		// 正文全文检索
		{Keys: bson.D{{Key: "msg", Value: "text"}}},
		{Keys: bson.D{{Key: "file._id", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "mentions.username", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "pinned", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "slackTs", Value: 1}, {Key: "slackBotId", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "unread", Value: 1}}, Options: sparse},
		// 讨论/线程
		{Keys: bson.D{{Key: "drid", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "tmid", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "tcount", Value: 1}, {Key: "tlm", Value: 1}}, Options: sparse},
		// 线程列表：部分索引，只收录线程根
		{Keys: bson.D{{Key: "rid", Value: 1}, {Key: "tlm", Value: -1}},
			Options: options.Index().SetPartialFilterExpression(bson.D{{Key: "tcount", Value: bson.D{{Key: "$exists", Value: true}}}})},
		// 线程计数列表
		{Keys: bson.D{{Key: "rid", Value: 1}, {Key: "tcount", Value: 1}}},
		// livechat 导航 token
		{Keys: bson.D{{Key: "navigation.token", Value: 1}}, Options: sparse},
	}
	if _, err := s.collection().Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("Store.EnsureIndexes warn: %v", err)
	}
}

// Insert 写入消息：缺省时补齐 id 与时间戳，返回生成 id。
func (s *MongoMessageStore) Insert(ctx context.Context, m *models.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if _, err := s.collection().InsertOne(ctx, m); err != nil {
		return "", fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}
	return m.ID, nil
}

// FindByID 按 id 查询单条；未命中返回 (nil, nil)。
func (s *MongoMessageStore) FindByID(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: findById: %v", ErrPersistence, err)
	}
	return &m, nil
}

// Find 按声明式谓词查询，游标一次性拉完（上限由 opt.Limit 控制）。
func (s *MongoMessageStore) Find(ctx context.Context, f Filter, opt FindOptions) ([]*models.Message, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	defer observe(time.Now())
	cursor, err := s.collection().Find(ctx, f.ToQuery(), findOpts(opt))
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var result []*models.Message
	for cursor.Next(ctx) {
		var m models.Message
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrPersistence, err)
		}
		result = append(result, &m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", ErrPersistence, err)
	}
	return result, nil
}

// FindIDs 仅投影 _id 的查询变体（未读 id 列表等轻量路径）。
func (s *MongoMessageStore) FindIDs(ctx context.Context, f Filter, opt FindOptions) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	o := findOpts(opt).SetProjection(bson.M{"_id": 1})
	cursor, err := s.collection().Find(ctx, f.ToQuery(), o)
	if err != nil {
		return nil, fmt.Errorf("%w: findIds: %v", ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrPersistence, err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", ErrPersistence, err)
	}
	return ids, nil
}

// Update 应用字段级补丁；multi=false 至多更新一条。匹配 0 条返回 (0, nil)。
// 任何更新都会顺带刷新 _updatedAt，增量同步路径依赖该时间戳。
func (s *MongoMessageStore) Update(ctx context.Context, f Filter, p Patch, multi bool) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	p = p.withUpdatedAt(time.Now().UTC())
	defer observe(time.Now())
	var (
		res *mongo.UpdateResult
		err error
	)
	if multi {
		res, err = s.collection().UpdateMany(ctx, f.ToQuery(), p.ToUpdate())
	} else {
		res, err = s.collection().UpdateOne(ctx, f.ToQuery(), p.ToUpdate())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: update: %v", ErrPersistence, err)
	}
	return res.ModifiedCount, nil
}

// Remove 硬删除匹配文档，无墓碑。
func (s *MongoMessageStore) Remove(ctx context.Context, f Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	res, err := s.collection().DeleteMany(ctx, f.ToQuery())
	if err != nil {
		return 0, fmt.Errorf("%w: remove: %v", ErrPersistence, err)
	}
	return res.DeletedCount, nil
}

// Count 统计匹配条数。
func (s *MongoMessageStore) Count(ctx context.Context, f Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	n, err := s.collection().CountDocuments(ctx, f.ToQuery())
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrPersistence, err)
	}
	return n, nil
}

// ThreadDrift 描述一个 tcount 与实际回复数不一致的线程根。
type ThreadDrift struct {
	RootID string
	Stored int
	Actual int
}

// ReconcileThreadCounts 对账修复：按 tmid 聚合实际回复数，与根上的 tcount
// 比对并改正。回复插入与计数自增是两次独立原子操作，中间崩溃会留下可修复
// 的漂移，此方法即修复通道（由对账进程周期调用）。
func (s *MongoMessageStore) ReconcileThreadCounts(ctx context.Context) ([]ThreadDrift, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"tmid": bson.M{"$exists": true}}}},
		{{Key: "$group", Value: bson.M{"_id": "$tmid", "n": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile aggregate: %v", ErrPersistence, err)
	}
	defer cursor.Close(ctx)

	var fixed []ThreadDrift
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int    `bson:"n"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrPersistence, err)
		}
		root, err := s.FindByID(ctx, row.ID)
		if err != nil {
			return fixed, err
		}
		// 根已删除或尚未建根：对账不负责建根，跳过
		if root == nil || root.TCount == nil {
			continue
		}
		if *root.TCount == row.N {
			continue
		}
		drift := ThreadDrift{RootID: row.ID, Stored: *root.TCount, Actual: row.N}
		if _, err := s.Update(ctx, Filter{ID: row.ID}, Patch{Set: map[string]any{"tcount": row.N}}, false); err != nil {
			return fixed, err
		}
		fixed = append(fixed, drift)
	}
	if err := cursor.Err(); err != nil {
		return fixed, fmt.Errorf("%w: cursor: %v", ErrPersistence, err)
	}
	return fixed, nil
}

func observe(start time.Time) {
	metrics.StoreOpLatency.Observe(float64(time.Since(start).Milliseconds()))
}

func findOpts(opt FindOptions) *options.FindOptions {
	o := options.Find()
	if sort := opt.sortDoc(); sort != nil {
		o.SetSort(sort)
	}
	if opt.Skip > 0 {
		o.SetSkip(opt.Skip)
	}
	if opt.Limit > 0 {
		o.SetLimit(opt.Limit)
	}
	return o
}
