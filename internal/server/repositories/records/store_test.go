package records

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	s := NewStore(repo)
	s.now = func() time.Time { return ts }
	return s, repo
}

func TestStore_CreateDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	rec := &models.AudioRecord{ID: "r1", UserID: "u1", FileName: "a.mp3"}
	require.NoError(t, s.Create(context.Background(), rec))

	got, err := s.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, ts, got.CreatedAt)
}

func TestStore_UpdateJobID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1"}))

	rec, err := s.UpdateJobID(ctx, "r1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	assert.Equal(t, int64(2), rec.Version)

	// same values again: nothing is written
	rec, err = s.UpdateJobID(ctx, "r1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

func TestStore_UpdateStatusIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1"}))

	_, err := s.UpdateStatusAndError(ctx, "r1", models.StatusFailed, "boom")
	require.NoError(t, err)
	rec, err := s.UpdateStatusAndError(ctx, "r1", models.StatusFailed, "boom")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, "boom", rec.ErrorMessage)
}

func TestStore_ResetClearsJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1", FileName: "a.mp3"}))
	_, err := s.UpdateJobID(ctx, "r1", "job-1")
	require.NoError(t, err)
	_, err = s.UpdateStatusAndError(ctx, "r1", models.StatusFailed, "x")
	require.NoError(t, err)

	rec, err := s.Reset(ctx, "r1", ResetFields{FileName: "b.mp3"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Empty(t, rec.JobID)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, "b.mp3", rec.FileName)
}

func TestStore_SoftDeleteHidesFromUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1"}))

	_, err := s.SoftDelete(ctx, "r1")
	require.NoError(t, err)

	list, err := s.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// still readable by id, never physically removed
	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted)
}

func TestStore_MutateMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpdateDownloadLink(context.Background(), "none", "http://x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestStore_BlobShared(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "a", UserID: "u1", FileName: "f.mp3"}))
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "b", UserID: "u1", FileName: "f.mp3"}))
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "c", UserID: "u2", FileName: "f.mp3"}))

	shared, err := s.BlobShared(ctx, "u1", "f.mp3", "a")
	require.NoError(t, err)
	assert.True(t, shared, "b is pending")

	_, err = s.UpdateStatusAndError(ctx, "b", models.StatusDone, "")
	require.NoError(t, err)
	shared, err = s.BlobShared(ctx, "u1", "f.mp3", "a")
	require.NoError(t, err)
	assert.False(t, shared, "b is terminal")
}

// conflictingRepo fails the first n updates with a version conflict.
type conflictingRepo struct {
	*MemoryRepository
	left atomic.Int32
}

func (c *conflictingRepo) Update(ctx context.Context, rec *models.AudioRecord) error {
	if c.left.Add(-1) >= 0 {
		return common.ErrVersionConflict
	}
	return c.MemoryRepository.Update(ctx, rec)
}

func TestStore_RetriesConflicts(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository()}
	repo.left.Store(2)
	s := NewStore(repo)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1"}))

	rec, err := s.UpdateDownloadLink(ctx, "r1", "http://link")
	require.NoError(t, err)
	assert.Equal(t, "http://link", rec.DownloadLink)
}

func TestStore_GivesUpAfterConflicts(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository()}
	repo.left.Store(100)
	s := NewStore(repo)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.AudioRecord{ID: "r1", UserID: "u1"}))

	_, err := s.UpdateDownloadLink(ctx, "r1", "http://link")
	assert.True(t, errors.Is(err, common.ErrVersionConflict), "got %v", err)
}

func TestMemoryRepository_StaleVersion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleRecord()))

	a, _ := repo.Get(ctx, "r1")
	b, _ := repo.Get(ctx, "r1")
	a.Title = "first"
	require.NoError(t, repo.Update(ctx, a))
	b.Title = "second"
	assert.ErrorIs(t, repo.Update(ctx, b), common.ErrVersionConflict)
}

func TestMemoryRepository_FindInProgress(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	in := sampleRecord()
	in.Status, in.JobID = models.StatusInProgress, "j"
	noJob := sampleRecord()
	noJob.ID, noJob.Status = "r2", models.StatusInProgress
	require.NoError(t, repo.Create(ctx, in))
	require.NoError(t, repo.Create(ctx, noJob))

	got, err := repo.FindInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	byJob, err := repo.FindByJobID(ctx, "j")
	require.NoError(t, err)
	assert.Len(t, byJob, 1)
}
