// Package records persists AudioRecords: one per logical upload, never
// physically deleted.
package records

import (
	"context"

	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

// Repository is the storage contract for audio records.
//
// Update writes every mutable column only if the stored version still equals
// rec.Version, and increments rec.Version on success. A stale version yields
// common.ErrVersionConflict.
type Repository interface {
	Create(ctx context.Context, rec *models.AudioRecord) error
	Get(ctx context.Context, id string) (*models.AudioRecord, error)
	FindByUser(ctx context.Context, userID string) ([]*models.AudioRecord, error)
	FindByJobID(ctx context.Context, jobID string) ([]*models.AudioRecord, error)
	FindByFileName(ctx context.Context, userID, fileName string) ([]*models.AudioRecord, error)
	FindInProgress(ctx context.Context) ([]*models.AudioRecord, error)
	Update(ctx context.Context, rec *models.AudioRecord) error
}
