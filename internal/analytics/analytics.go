// Package analytics provides pluggable storage for content performance
// snapshots collected by the analytics workflows.
// This package is internal and should not be imported by external projects.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/config"
)

// =============================================================================
// 📈 分析快照存储
// =============================================================================

// Snapshot 一次分析采集的结果：某条内容在某个渠道（或整体汇总，
// Channel 为 "all"）的指标与洞察
type Snapshot struct {
	ID          string             `json:"id"`
	RunID       string             `json:"run_id"`
	ContentID   string             `json:"content_id"`
	Channel     string             `json:"channel"`
	Metrics     map[string]float64 `json:"metrics"`
	Insights    []string           `json:"insights,omitempty"`
	CollectedAt time.Time          `json:"collected_at"`
}

// Store 分析快照存储接口
type Store interface {
	// SaveSnapshot 保存一条快照，ID 为空时自动生成
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// ListSnapshots 按内容 ID 列出快照，按采集时间升序
	ListSnapshots(ctx context.Context, contentID string) ([]*Snapshot, error)

	// Purge 删除采集时间早于 before 的快照，返回删除数量
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Close 释放底层资源
	Close(ctx context.Context) error
}

// normalizeSnapshot 补全缺省字段
func normalizeSnapshot(snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is required")
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}
	return nil
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemoryStore 进程内存储，默认后端，亦用于测试
type MemoryStore struct {
	mu    sync.RWMutex
	snaps []*Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveSnapshot 保存快照（存入副本，调用方后续修改不影响存储）
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := normalizeSnapshot(snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, copySnapshot(snap))
	return nil
}

// ListSnapshots 按内容 ID 列出快照
func (s *MemoryStore) ListSnapshots(ctx context.Context, contentID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Snapshot
	for _, snap := range s.snaps {
		if snap.ContentID == contentID {
			out = append(out, copySnapshot(snap))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollectedAt.Before(out[j].CollectedAt)
	})
	return out, nil
}

// Purge 删除过期快照
func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.snaps[:0]
	var removed int64
	for _, snap := range s.snaps {
		if snap.CollectedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	return removed, nil
}

// Close 内存实现无资源可释放
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func copySnapshot(snap *Snapshot) *Snapshot {
	dup := *snap
	if snap.Metrics != nil {
		dup.Metrics = make(map[string]float64, len(snap.Metrics))
		for k, v := range snap.Metrics {
			dup.Metrics[k] = v
		}
	}
	if snap.Insights != nil {
		dup.Insights = append([]string(nil), snap.Insights...)
	}
	return &dup
}

// =============================================================================
// 🏭 后端工厂
// =============================================================================

// Open 按配置创建分析存储后端
func Open(ctx context.Context, cfg config.AnalyticsConfig, mongoCfg config.MongoConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLiteStore(cfg.SQLitePath, logger)
	case "mongo":
		client, err := ConnectMongo(ctx, mongoCfg)
		if err != nil {
			return nil, err
		}
		store := NewMongoStore(client, mongoCfg, logger)
		store.EnsureIndexes(ctx)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown analytics backend: %s", cfg.Backend)
	}
}
