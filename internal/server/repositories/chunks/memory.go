package chunks

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

type key struct {
	uploadID string
	fileSeq  int
	chunkSeq int
}

// MemoryRepository is the journal used with the in-memory record store.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[key]models.UploadChunk
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[key]models.UploadChunk)}
}

func (m *MemoryRepository) Append(ctx context.Context, c *models.UploadChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *c
	row.Payload = nil
	row.BlockList = slices.Clone(c.BlockList)
	m.rows[key{c.UploadID, c.FileSeq, c.ChunkSeq}] = row
	return nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]*models.UploadChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.UploadChunk, 0, len(m.rows))
	for _, r := range m.rows {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		if a.UploadID != b.UploadID {
			return a.UploadID < b.UploadID
		}
		if a.FileSeq != b.FileSeq {
			return a.FileSeq < b.FileSeq
		}
		return a.ChunkSeq < b.ChunkSeq
	})
	return out, nil
}

func (m *MemoryRepository) Purge(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.rows {
		if k.uploadID == uploadID {
			delete(m.rows, k)
		}
	}
	return nil
}
