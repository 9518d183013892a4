package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/reconciler"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription/transcriptiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *AudioService
	repos *repomanager.InMemoryRepositoryManager
	blobs *blobstore.MemoryStore
	jobs  *transcriptiontest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repos: repomanager.NewInMemoryRepositoryManager(),
		blobs: blobstore.NewMemoryStore(0, ""),
		jobs:  transcriptiontest.New(),
	}
	sweeper := reconciler.New(f.repos.Records(), f.jobs, logging.Nop(), time.Hour, time.Second)
	f.svc = NewAudioService(f.repos, f.blobs, f.jobs, sweeper, logging.Nop(), time.Second)
	return f
}

// seed creates a record with a committed blob and optionally a job.
func (f *fixture) seed(t *testing.T, id, userID, fileName, jobID string, st transcription.State) {
	t.Helper()
	ctx := context.Background()
	recs := f.repos.Records()
	require.NoError(t, recs.Create(ctx, &models.AudioRecord{ID: id, UserID: userID, FileName: fileName}))

	path, err := blobstore.BlobPath(userID, fileName)
	require.NoError(t, err)
	require.NoError(t, f.blobs.Stage(ctx, path, blobstore.BlockID(0), []byte("audio")))
	require.NoError(t, f.blobs.Commit(ctx, path, []string{blobstore.BlockID(0)}))

	if jobID == "" {
		return
	}
	_, err = recs.UpdateJobID(ctx, id, jobID)
	require.NoError(t, err)
	f.jobs.SetState(jobID, st, "")
	if status := transcription.MapState(st); status != models.StatusInProgress {
		_, err = recs.UpdateStatusAndError(ctx, id, status, "")
		require.NoError(t, err)
	}
}

func TestCreateRecord(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.CreateRecord(context.Background(), "u1", "  Weekly sync ", "sync.mp3", "en-US")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Weekly sync", rec.Title)
	assert.Equal(t, models.StatusPending, rec.Status)

	_, err = f.svc.CreateRecord(context.Background(), "u1", "", "../etc/passwd", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestList_ReconcilesFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateRunning)
	f.jobs.SetState("j1", transcription.StateSucceeded, "")

	list, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusDone, list[0].Status)
}

func TestTranscript_CachesLink(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateSucceeded)
	f.jobs.Links["j1"] = "https://results/j1.json"
	f.jobs.Results["https://results/j1.json"] = "hello there"

	text, err := f.svc.Transcript(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	rec, _ := f.repos.Records().Get(context.Background(), "r1")
	assert.Equal(t, "https://results/j1.json", rec.DownloadLink)

	// the cached link is used even after the service forgets it
	delete(f.jobs.Links, "j1")
	text, err = f.svc.Transcript(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestTranscript_NotReadyAndOwnership(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateRunning)

	_, err := f.svc.Transcript(context.Background(), "u1", "r1")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Transcript(context.Background(), "u2", "r1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_TerminalJobAndBlob(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateSucceeded)

	require.NoError(t, f.svc.Delete(context.Background(), "u1", "r1"))

	assert.Equal(t, []string{"j1"}, f.jobs.Deleted)
	assert.False(t, f.blobs.Exists("input/u1/a.mp3"))
	rec, _ := f.repos.Records().Get(context.Background(), "r1")
	assert.True(t, rec.IsDeleted)

	// already deleted records are invisible
	assert.ErrorIs(t, f.svc.Delete(context.Background(), "u1", "r1"), common.ErrorNotFound)
}

func TestDelete_RunningJobIsNotDeleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateRunning)

	require.NoError(t, f.svc.Delete(context.Background(), "u1", "r1"))
	assert.Empty(t, f.jobs.Deleted)
}

func TestDelete_KeepsBlobSharedWithPendingUpload(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", "u1", "a.mp3", "j1", transcription.StateFailed)
	f.seed(t, "new", "u1", "a.mp3", "", "")

	require.NoError(t, f.svc.Delete(context.Background(), "u1", "old"))
	assert.True(t, f.blobs.Exists("input/u1/a.mp3"), "pending duplicate still needs the blob")

	_, err := f.repos.Records().UpdateStatusAndError(context.Background(), "new", models.StatusDone, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), "u1", "new"))
	assert.False(t, f.blobs.Exists("input/u1/a.mp3"))
}

func TestDelete_JobAlreadyGone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateSucceeded)
	delete(f.jobs.States, "j1")

	require.NoError(t, f.svc.Delete(context.Background(), "u1", "r1"))
}

func TestDelete_JobDeleteFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "r1", "u1", "a.mp3", "j1", transcription.StateFailed)
	f.jobs.DeleteErr = errors.New("500")

	require.Error(t, f.svc.Delete(context.Background(), "u1", "r1"))
	rec, _ := f.repos.Records().Get(context.Background(), "r1")
	assert.False(t, rec.IsDeleted)
	assert.True(t, f.blobs.Exists("input/u1/a.mp3"))
}
