// Package chunks journals the metadata of staged upload chunks so in-flight
// groups survive a restart. Payloads are never journaled.
package chunks

import (
	"context"

	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

type Repository interface {
	// Append stores chunk metadata. A repeated (upload, fileSeq, chunkSeq)
	// replaces the earlier row.
	Append(ctx context.Context, c *models.UploadChunk) error
	// List returns every journaled chunk ordered by arrival.
	List(ctx context.Context) ([]*models.UploadChunk, error)
	// Purge drops all rows of an upload group.
	Purge(ctx context.Context, uploadID string) error
}
