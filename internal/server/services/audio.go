// Package services contains the record-facing business logic behind the
// HTTP API: creating records, listing them, downloading transcripts and
// deleting uploads.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/reconciler"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
	"github.com/google/uuid"
)

// UserSweeper refreshes the in-progress records of one user.
type UserSweeper interface {
	SweepUser(ctx context.Context, userID string) (reconciler.Report, error)
}

type AudioService struct {
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	jobs        transcription.Client
	sweeper     UserSweeper
	logger      logging.Logger
	callTimeout time.Duration
}

func NewAudioService(m repomanager.RepositoryManager, blobs blobstore.Store, jobs transcription.Client,
	sweeper UserSweeper, logger logging.Logger, callTimeout time.Duration) *AudioService {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &AudioService{
		repomanager: m,
		blobs:       blobs,
		jobs:        jobs,
		sweeper:     sweeper,
		logger:      logger.With("module", "audio"),
		callTimeout: callTimeout,
	}
}

// CreateRecord registers a pending record whose id the client then uses as
// the upload id.
func (s *AudioService) CreateRecord(ctx context.Context, userID, title, fileName, locale string) (*models.AudioRecord, error) {
	if _, err := blobstore.BlobPath(userID, fileName); err != nil {
		return nil, err
	}
	rec := &models.AudioRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		FileName: fileName,
		Title:    strings.TrimSpace(title),
		Locale:   locale,
	}
	if err := s.repomanager.Records().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}

// List reconciles the user's in-progress records, then returns every live
// record, newest first. A failed reconciliation does not hide the list.
func (s *AudioService) List(ctx context.Context, userID string) ([]*models.AudioRecord, error) {
	if s.sweeper != nil {
		if _, err := s.sweeper.SweepUser(ctx, userID); err != nil {
			s.logger.Warn(ctx, "reconcile before list failed", "user_id", userID, "error", err)
		}
	}
	return s.repomanager.Records().FindByUser(ctx, userID)
}

// Transcript returns the text of a finished transcription. The result link is
// fetched once and cached on the record.
func (s *AudioService) Transcript(ctx context.Context, userID, id string) (string, error) {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if rec.Status != models.StatusDone {
		return "", fmt.Errorf("%w: transcript of %s is not ready (%s)", common.ErrValidation, id, rec.Status)
	}

	link := rec.DownloadLink
	if link == "" {
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			link, err = s.jobs.ResultLink(ctx, rec.JobID)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("result link: %w", err)
		}
		if _, err := s.repomanager.Records().UpdateDownloadLink(ctx, rec.ID, link); err != nil {
			s.logger.Warn(ctx, "failed to cache download link", "record_id", rec.ID, "error", err)
		}
	}

	var text string
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		text, err = s.jobs.DownloadResult(ctx, link)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("download result: %w", err)
	}
	return text, nil
}

// Delete removes an upload: a finished external job is deleted, the blob is
// deleted unless another live record of the user still needs it, and the
// record is soft-deleted.
func (s *AudioService) Delete(ctx context.Context, userID, id string) error {
	rec, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	log := s.logger.With("record_id", rec.ID, "job_id", rec.JobID)

	if rec.JobID != "" {
		if err := s.deleteJob(ctx, rec.JobID); err != nil {
			return err
		}
	}

	records := s.repomanager.Records()
	shared, err := records.BlobShared(ctx, userID, rec.FileName, rec.ID)
	if err != nil {
		return fmt.Errorf("check blob usage: %w", err)
	}
	if shared {
		log.Info(ctx, "blob still used by another upload, keeping it", "file_name", rec.FileName)
	} else if path, err := blobstore.BlobPath(userID, rec.FileName); err == nil {
		err := s.call(ctx, func(ctx context.Context) error { return s.blobs.Delete(ctx, path) })
		if err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
	}

	if _, err := records.SoftDelete(ctx, rec.ID); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	log.Info(ctx, "record deleted")
	return nil
}

// deleteJob deletes the external job once it reached a terminal state. A
// job that is still running is left alone; one that is gone already is fine.
func (s *AudioService) deleteJob(ctx context.Context, jobID string) error {
	var st transcription.JobStatus
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.jobs.Poll(ctx, jobID)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("poll job: %w", err)
	}
	if !transcription.MapState(st.State).Terminal() {
		return nil
	}

	err = s.call(ctx, func(ctx context.Context) error { return s.jobs.Delete(ctx, jobID) })
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *AudioService) owned(ctx context.Context, userID, id string) (*models.AudioRecord, error) {
	rec, err := s.repomanager.Records().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID || rec.IsDeleted {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrorNotFound)
	}
	return rec, nil
}

func (s *AudioService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return fn(ctx)
}
