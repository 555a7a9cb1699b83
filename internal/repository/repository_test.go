package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/config"
	"github.com/BaSui01/marketflow/internal/database"
)

// setupRepository opens a file-backed SQLite database in a temp dir and
// returns a migrated repository.
func setupRepository(t *testing.T, opts ...Option) *ContentRepository {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "repository_test.db"),
	}

	pm, err := database.OpenPool(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	repo, err := NewContentRepository(pm, zap.NewNop(), opts...)
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(context.Background()))

	return repo
}

func TestNewContentRepository_NilPool(t *testing.T) {
	_, err := NewContentRepository(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pool manager is required")
}

func TestContentRepository_SaveAndGetContent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	rec := &ContentRecord{
		RunID:             uuid.NewString(),
		FlowName:          "content_creation",
		Topic:             "email marketing",
		ContentType:       "blog",
		TargetAudience:    "small business owners",
		Tone:              "professional",
		Body:              "# Email Marketing\n\nA practical guide.",
		OptimizationScore: 82,
	}

	require.NoError(t, repo.SaveContent(ctx, rec))
	assert.NotEmpty(t, rec.ID, "save should assign an ID")

	got, err := repo.GetContent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Topic, got.Topic)
	assert.Equal(t, rec.ContentType, got.ContentType)
	assert.Equal(t, rec.Body, got.Body)
	assert.Equal(t, 82, got.OptimizationScore)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestContentRepository_SaveContent_KeepsProvidedID(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	id := uuid.NewString()
	rec := &ContentRecord{ID: id, Topic: "lead generation"}

	require.NoError(t, repo.SaveContent(ctx, rec))
	assert.Equal(t, id, rec.ID)

	got, err := repo.GetContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lead generation", got.Topic)
}

func TestContentRepository_SaveContent_Nil(t *testing.T) {
	repo := setupRepository(t)

	err := repo.SaveContent(context.Background(), nil)
	assert.Error(t, err)
}

func TestContentRepository_GetContent_NotFound(t *testing.T) {
	repo := setupRepository(t)

	_, err := repo.GetContent(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentRepository_ListContent_Filters(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	runID := uuid.NewString()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []*ContentRecord{
		{RunID: runID, FlowName: "content_creation", ContentType: "blog", Topic: "seo basics", CreatedAt: base},
		{RunID: runID, FlowName: "content_creation", ContentType: "blog", Topic: "seo advanced", CreatedAt: base.Add(time.Minute)},
		{RunID: uuid.NewString(), FlowName: "end_to_end", ContentType: "email", Topic: "newsletter ideas", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range seed {
		require.NoError(t, repo.SaveContent(ctx, rec))
	}

	t.Run("no filter returns newest first", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "newsletter ideas", recs[0].Topic)
	})

	t.Run("by content type", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{ContentType: "blog"})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("by flow name", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{FlowName: "end_to_end"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "email", recs[0].ContentType)
	})

	t.Run("by run ID", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{RunID: runID})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("by topic substring", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{Topic: "seo"})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		recs, err := repo.ListContent(ctx, ContentFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "newsletter ideas", recs[0].Topic)

		recs, err = repo.ListContent(ctx, ContentFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "seo advanced", recs[0].Topic)
	})
}

func TestContentRepository_CountContent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	count, err := repo.CountContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, repo.SaveContent(ctx, &ContentRecord{Topic: "a"}))
	require.NoError(t, repo.SaveContent(ctx, &ContentRecord{Topic: "b"}))

	count, err = repo.CountContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestContentRepository_SaveAndListDistributions(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	content := &ContentRecord{Topic: "product launch", ContentType: "social"}
	require.NoError(t, repo.SaveContent(ctx, content))

	runID := uuid.NewString()
	dists := []*DistributionRecord{
		{RunID: runID, Channel: "social_media", Status: "published", URL: "https://social_media.example.com/content-123", AudienceReach: 4200},
		{RunID: runID, Channel: "email", Status: "scheduled", URL: "https://email.example.com/content-123", AudienceReach: 1800},
	}
	require.NoError(t, repo.SaveDistributions(ctx, content.ID, dists))

	got, err := repo.ListDistributions(ctx, content.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by channel name.
	assert.Equal(t, "email", got[0].Channel)
	assert.Equal(t, "social_media", got[1].Channel)
	for _, d := range got {
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, content.ID, d.ContentID)
	}
	assert.Equal(t, "scheduled", got[0].Status)
	assert.Equal(t, 4200, got[1].AudienceReach)
}

func TestContentRepository_SaveDistributions_Empty(t *testing.T) {
	repo := setupRepository(t)

	err := repo.SaveDistributions(context.Background(), uuid.NewString(), nil)
	assert.NoError(t, err)
}

func TestContentRepository_SaveDistributions_MissingContentID(t *testing.T) {
	repo := setupRepository(t)

	err := repo.SaveDistributions(context.Background(), "", []*DistributionRecord{{Channel: "email"}})
	assert.Error(t, err)
}

func TestContentRepository_DeleteContent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	content := &ContentRecord{Topic: "webinar promo"}
	require.NoError(t, repo.SaveContent(ctx, content))
	require.NoError(t, repo.SaveDistributions(ctx, content.ID, []*DistributionRecord{
		{Channel: "website", Status: "published"},
	}))

	require.NoError(t, repo.DeleteContent(ctx, content.ID))

	_, err := repo.GetContent(ctx, content.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	dists, err := repo.ListDistributions(ctx, content.ID)
	require.NoError(t, err)
	assert.Empty(t, dists)
}

func TestContentRepository_DeleteContent_NotFound(t *testing.T) {
	repo := setupRepository(t)

	err := repo.DeleteContent(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

// recordingQueryRecorder captures query timings for assertions.
type recordingQueryRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingQueryRecorder) RecordDBQuery(database, operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, database+":"+operation)
}

func (r *recordingQueryRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestContentRepository_QueryRecorder(t *testing.T) {
	rec := &recordingQueryRecorder{}
	repo := setupRepository(t, WithQueryRecorder(rec, "testdb"))
	ctx := context.Background()

	content := &ContentRecord{Topic: "analytics recap"}
	require.NoError(t, repo.SaveContent(ctx, content))
	_, err := repo.GetContent(ctx, content.ID)
	require.NoError(t, err)
	_, err = repo.ListContent(ctx, ContentFilter{})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteContent(ctx, content.ID))

	calls := rec.snapshot()
	assert.Contains(t, calls, "testdb:insert")
	assert.Contains(t, calls, "testdb:select")
	assert.Contains(t, calls, "testdb:delete")
	assert.GreaterOrEqual(t, len(calls), 4)
}
