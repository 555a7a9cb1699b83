package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/marketflow/internal/database"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("repository: record not found")

// defaultListLimit bounds ListContent when the caller does not page.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// QueryRecorder receives query timings. A metrics collector satisfies it.
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// ContentRepository persists generated content and its distribution outcomes
// through a managed connection pool.
type ContentRepository struct {
	pool     *database.PoolManager
	logger   *zap.Logger
	recorder QueryRecorder
	dbName   string
}

// Option configures a ContentRepository.
type Option func(*ContentRepository)

// WithQueryRecorder attaches a query timing recorder. databaseName becomes
// the database label on recorded timings.
func WithQueryRecorder(rec QueryRecorder, databaseName string) Option {
	return func(r *ContentRepository) {
		r.recorder = rec
		if databaseName != "" {
			r.dbName = databaseName
		}
	}
}

// NewContentRepository creates a repository on top of a connection pool.
func NewContentRepository(pool *database.PoolManager, logger *zap.Logger, opts ...Option) (*ContentRepository, error) {
	if pool == nil {
		return nil, errors.New("pool manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &ContentRepository{
		pool:   pool,
		logger: logger,
		dbName: "marketflow",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// AutoMigrate creates or updates the content tables. Intended for development
// and tests; production schema changes go through the migration package.
func (r *ContentRepository) AutoMigrate(ctx context.Context) error {
	err := r.pool.DB().WithContext(ctx).AutoMigrate(
		&ContentRecord{},
		&DistributionRecord{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate content tables: %w", err)
	}
	return nil
}

// SaveContent inserts one content record, assigning an ID when absent.
func (r *ContentRepository) SaveContent(ctx context.Context, rec *ContentRecord) error {
	if rec == nil {
		return errors.New("content record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	defer r.observe("insert", time.Now())

	if err := r.pool.DB().WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save content %s: %w", rec.ID, err)
	}

	r.logger.Debug("content saved",
		zap.String("content_id", rec.ID),
		zap.String("topic", rec.Topic),
		zap.String("content_type", rec.ContentType))
	return nil
}

// GetContent loads one content record by ID.
func (r *ContentRepository) GetContent(ctx context.Context, id string) (*ContentRecord, error) {
	defer r.observe("select", time.Now())

	var rec ContentRecord
	err := r.pool.DB().WithContext(ctx).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	return &rec, nil
}

// ContentFilter narrows and pages ListContent. Zero values mean "any".
type ContentFilter struct {
	RunID       string
	FlowName    string
	ContentType string
	Topic       string // substring match
	Limit       int
	Offset      int
}

// ListContent returns content records newest first.
func (r *ContentRepository) ListContent(ctx context.Context, filter ContentFilter) ([]*ContentRecord, error) {
	defer r.observe("select", time.Now())

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := r.pool.DB().WithContext(ctx).Model(&ContentRecord{})
	if filter.RunID != "" {
		q = q.Where("run_id = ?", filter.RunID)
	}
	if filter.FlowName != "" {
		q = q.Where("flow_name = ?", filter.FlowName)
	}
	if filter.ContentType != "" {
		q = q.Where("content_type = ?", filter.ContentType)
	}
	if filter.Topic != "" {
		q = q.Where("topic LIKE ?", "%"+filter.Topic+"%")
	}

	var recs []*ContentRecord
	err := q.Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return recs, nil
}

// CountContent returns the total number of stored content records.
func (r *ContentRepository) CountContent(ctx context.Context) (int64, error) {
	defer r.observe("select", time.Now())

	var count int64
	err := r.pool.DB().WithContext(ctx).
		Model(&ContentRecord{}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return count, nil
}

// SaveDistributions writes the channel outcomes for one content piece in a
// single transaction, retrying on transient failures.
func (r *ContentRepository) SaveDistributions(ctx context.Context, contentID string, recs []*DistributionRecord) error {
	if contentID == "" {
		return errors.New("content ID is required")
	}
	if len(recs) == 0 {
		return nil
	}
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.ContentID = contentID
	}
	defer r.observe("insert", time.Now())

	err := r.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
	if err != nil {
		return fmt.Errorf("save distributions for content %s: %w", contentID, err)
	}

	r.logger.Debug("distributions saved",
		zap.String("content_id", contentID),
		zap.Int("channels", len(recs)))
	return nil
}

// ListDistributions returns the channel outcomes for one content piece,
// ordered by channel name for stable output.
func (r *ContentRepository) ListDistributions(ctx context.Context, contentID string) ([]*DistributionRecord, error) {
	defer r.observe("select", time.Now())

	var recs []*DistributionRecord
	err := r.pool.DB().WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("channel ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list distributions for content %s: %w", contentID, err)
	}
	return recs, nil
}

// DeleteContent removes one content record and its distributions.
func (r *ContentRepository) DeleteContent(ctx context.Context, id string) error {
	defer r.observe("delete", time.Now())

	err := r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("content_id = ?", id).Delete(&DistributionRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&ContentRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("content %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete content %s: %w", id, err)
	}

	r.logger.Debug("content deleted", zap.String("content_id", id))
	return nil
}

// observe reports one query timing when a recorder is attached. Call with the
// operation start time, deferred.
func (r *ContentRepository) observe(operation string, start time.Time) {
	if r.recorder != nil {
		r.recorder.RecordDBQuery(r.dbName, operation, time.Since(start))
	}
}
