package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/dbx"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

// Store layers the record lifecycle operations over a Repository. Every
// mutation re-reads the row and retries on version conflicts; a mutation
// that would not change the row writes nothing.
type Store struct {
	Repository
	now func() time.Time
}

func NewStore(repo Repository) *Store {
	return &Store{Repository: repo, now: time.Now}
}

// Create stores rec as a new pending record. Zero timestamps are filled in.
func (s *Store) Create(ctx context.Context, rec *models.AudioRecord) error {
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	rec.Version = 1
	return s.Repository.Create(ctx, rec)
}

// UpdateJobID records a successful submission: the job id is stored and the
// record moves to in_progress.
func (s *Store) UpdateJobID(ctx context.Context, id, jobID string) (*models.AudioRecord, error) {
	return s.mutate(ctx, id, func(rec *models.AudioRecord) bool {
		if rec.JobID == jobID && rec.Status == models.StatusInProgress && rec.ErrorMessage == "" {
			return false
		}
		rec.JobID = jobID
		rec.Status = models.StatusInProgress
		rec.ErrorMessage = ""
		return true
	})
}

func (s *Store) UpdateStatusAndError(ctx context.Context, id string, status models.Status, message string) (*models.AudioRecord, error) {
	return s.mutate(ctx, id, func(rec *models.AudioRecord) bool {
		if rec.Status == status && rec.ErrorMessage == message {
			return false
		}
		rec.Status = status
		rec.ErrorMessage = message
		return true
	})
}

func (s *Store) UpdateDownloadLink(ctx context.Context, id, link string) (*models.AudioRecord, error) {
	return s.mutate(ctx, id, func(rec *models.AudioRecord) bool {
		if rec.DownloadLink == link {
			return false
		}
		rec.DownloadLink = link
		return true
	})
}

// ResetFields carries the metadata of a fresh upload reusing an existing id.
type ResetFields struct {
	UserName string
	FileName string
	Title    string
	Locale   string
}

// Reset returns a record to pending for a new upload with the same id. The
// previous job id, link and error are cleared.
func (s *Store) Reset(ctx context.Context, id string, f ResetFields) (*models.AudioRecord, error) {
	return s.mutate(ctx, id, func(rec *models.AudioRecord) bool {
		rec.Status = models.StatusPending
		rec.JobID = ""
		rec.DownloadLink = ""
		rec.ErrorMessage = ""
		rec.IsDeleted = false
		if f.UserName != "" {
			rec.UserName = f.UserName
		}
		if f.FileName != "" {
			rec.FileName = f.FileName
		}
		if f.Title != "" {
			rec.Title = f.Title
		}
		if f.Locale != "" {
			rec.Locale = f.Locale
		}
		return true
	})
}

func (s *Store) SoftDelete(ctx context.Context, id string) (*models.AudioRecord, error) {
	return s.mutate(ctx, id, func(rec *models.AudioRecord) bool {
		if rec.IsDeleted {
			return false
		}
		rec.IsDeleted = true
		return true
	})
}

// BlobShared reports whether another live record of the user still needs the
// blob stored under fileName, i.e. is pending or in_progress.
func (s *Store) BlobShared(ctx context.Context, userID, fileName, exceptID string) (bool, error) {
	recs, err := s.Repository.FindByFileName(ctx, userID, fileName)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.ID == exceptID || r.IsDeleted {
			continue
		}
		if !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) mutate(ctx context.Context, id string, apply func(rec *models.AudioRecord) bool) (*models.AudioRecord, error) {
	var out *models.AudioRecord
	err := dbx.RetryOnConflict(ctx, func(ctx context.Context) error {
		rec, err := s.Repository.Get(ctx, id)
		if err != nil {
			return err
		}
		if !apply(rec) {
			out = rec
			return nil
		}
		rec.UpdatedAt = s.now().UTC()
		if err := s.Repository.Update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
