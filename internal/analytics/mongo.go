package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/config"
)

// =============================================================================
// 🍃 MongoDB 实现
// =============================================================================

// defaultMongoTimeout 单次操作的兜底超时
const defaultMongoTimeout = 10 * time.Second

// ConnectMongo 建立 MongoDB 连接并确认可达
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo URI is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// MongoStore 文档型存储，快照按原样落为文档
type MongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
}

var _ Store = (*MongoStore)(nil)

// mongoSnapshotDoc 快照文档结构
type mongoSnapshotDoc struct {
	ID          string             `bson:"_id"`
	RunID       string             `bson:"run_id,omitempty"`
	ContentID   string             `bson:"content_id,omitempty"`
	Channel     string             `bson:"channel,omitempty"`
	Metrics     map[string]float64 `bson:"metrics,omitempty"`
	Insights    []string           `bson:"insights,omitempty"`
	CollectedAt time.Time          `bson:"collected_at"`
}

// NewMongoStore 在已建立的客户端上创建存储，库名与集合名为空时
// 使用 marketflow / analytics_events
func NewMongoStore(client *mongo.Client, cfg config.MongoConfig, logger *zap.Logger) *MongoStore {
	dbName := cfg.Database
	if dbName == "" {
		dbName = "marketflow"
	}
	collName := cfg.Collection
	if collName == "" {
		collName = "analytics_events"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &MongoStore{
		client:  client,
		coll:    client.Database(dbName).Collection(collName),
		timeout: timeout,
		logger:  logger,
	}
	return s
}

// EnsureIndexes 创建 content_id 与 collected_at 索引，失败仅告警
func (s *MongoStore) EnsureIndexes(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.coll.Indexes().CreateMany(opCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "content_id", Value: 1}}},
		{Keys: bson.D{{Key: "collected_at", Value: 1}}},
	})
	if err != nil {
		s.logger.Warn("failed to ensure analytics indexes", zap.Error(err))
	}
}

// SaveSnapshot 保存快照
func (s *MongoStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := normalizeSnapshot(snap); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.coll.InsertOne(opCtx, docFromSnapshot(snap))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots 按内容 ID 列出快照，按采集时间升序
func (s *MongoStore) ListSnapshots(ctx context.Context, contentID string) ([]*Snapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.coll.Find(opCtx,
		bson.M{"content_id": contentID},
		options.Find().SetSort(bson.D{{Key: "collected_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer cur.Close(opCtx)

	var docs []mongoSnapshotDoc
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}

	out := make([]*Snapshot, 0, len(docs))
	for i := range docs {
		out = append(out, snapshotFromDoc(&docs[i]))
	}
	return out, nil
}

// Purge 删除采集时间早于 before 的快照
func (s *MongoStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.coll.DeleteMany(opCtx, bson.M{
		"collected_at": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	return res.DeletedCount, nil
}

// Close 断开客户端连接
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func docFromSnapshot(snap *Snapshot) mongoSnapshotDoc {
	return mongoSnapshotDoc{
		ID:          snap.ID,
		RunID:       snap.RunID,
		ContentID:   snap.ContentID,
		Channel:     snap.Channel,
		Metrics:     snap.Metrics,
		Insights:    snap.Insights,
		CollectedAt: snap.CollectedAt.UTC(),
	}
}

func snapshotFromDoc(doc *mongoSnapshotDoc) *Snapshot {
	return &Snapshot{
		ID:          doc.ID,
		RunID:       doc.RunID,
		ContentID:   doc.ContentID,
		Channel:     doc.Channel,
		Metrics:     doc.Metrics,
		Insights:    doc.Insights,
		CollectedAt: doc.CollectedAt,
	}
}
