package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	// Registers the "sqlite" sql driver shared with the gorm layer.
	_ "github.com/glebarez/go-sqlite"
)

// =============================================================================
// 🗄️ SQLite 实现
// =============================================================================

// sqliteTimeLayout 固定小数位宽的 UTC 时间格式，保证字符串排序即时间排序
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteSchema 快照表结构，时间列存 sqliteTimeLayout 格式字符串
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id TEXT PRIMARY KEY,
    run_id TEXT,
    content_id TEXT,
    channel TEXT,
    metrics TEXT,
    insights TEXT,
    collected_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_snapshot_content ON analytics_snapshots (content_id);
CREATE INDEX IF NOT EXISTS idx_snapshot_collected ON analytics_snapshots (collected_at);
`

// SQLiteStore 基于 database/sql 的单文件存储，适合本地单机部署
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore 打开或创建 path 指向的数据库文件并初始化表结构，
// 父目录不存在时自动创建
func OpenSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create analytics dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create analytics schema: %w", err)
	}

	logger.Info("analytics sqlite store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveSnapshot 保存快照，指标与洞察以 JSON 存储
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := normalizeSnapshot(snap); err != nil {
		return err
	}

	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	insights, err := json.Marshal(snap.Insights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_snapshots(id, run_id, content_id, channel, metrics, insights, collected_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.RunID, snap.ContentID, snap.Channel,
		string(metrics), string(insights),
		snap.CollectedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots 按内容 ID 列出快照，按采集时间升序
func (s *SQLiteStore) ListSnapshots(ctx context.Context, contentID string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, content_id, channel, metrics, insights, collected_at
		 FROM analytics_snapshots
		 WHERE content_id = ?
		 ORDER BY collected_at ASC`,
		contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var metrics, insights, collectedAt string
		if err := rows.Scan(&snap.ID, &snap.RunID, &snap.ContentID, &snap.Channel,
			&metrics, &insights, &collectedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &snap.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(insights), &snap.Insights); err != nil {
			return nil, fmt.Errorf("unmarshal insights: %w", err)
		}
		ts, err := time.Parse(sqliteTimeLayout, collectedAt)
		if err != nil {
			return nil, fmt.Errorf("parse collected_at: %w", err)
		}
		snap.CollectedAt = ts
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// Purge 删除采集时间早于 before 的快照
func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM analytics_snapshots WHERE collected_at < ?",
		before.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	return removed, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
