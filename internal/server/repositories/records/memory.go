package records

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

// MemoryRepository keeps records in a map. It enforces the same version
// check as the Postgres implementation.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]models.AudioRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]models.AudioRecord)}
}

func (m *MemoryRepository) Create(ctx context.Context, rec *models.AudioRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*models.AudioRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrorNotFound)
	}
	return &rec, nil
}

func (m *MemoryRepository) FindByUser(ctx context.Context, userID string) ([]*models.AudioRecord, error) {
	out := m.filter(func(r *models.AudioRecord) bool { return r.UserID == userID && !r.IsDeleted })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) FindByJobID(ctx context.Context, jobID string) ([]*models.AudioRecord, error) {
	return m.filter(func(r *models.AudioRecord) bool { return jobID != "" && r.JobID == jobID }), nil
}

func (m *MemoryRepository) FindByFileName(ctx context.Context, userID, fileName string) ([]*models.AudioRecord, error) {
	out := m.filter(func(r *models.AudioRecord) bool {
		return r.UserID == userID && r.FileName == fileName && !r.IsDeleted
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) FindInProgress(ctx context.Context) ([]*models.AudioRecord, error) {
	out := m.filter(func(r *models.AudioRecord) bool {
		return r.Status == models.StatusInProgress && r.JobID != "" && !r.IsDeleted
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Update(ctx context.Context, rec *models.AudioRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok || cur.Version != rec.Version {
		return common.ErrVersionConflict
	}
	next := *rec
	next.UserID = cur.UserID
	next.CreatedAt = cur.CreatedAt
	next.Version++
	m.records[rec.ID] = next
	rec.Version = next.Version
	return nil
}

func (m *MemoryRepository) filter(keep func(*models.AudioRecord) bool) []*models.AudioRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AudioRecord
	for _, r := range m.records {
		r := r
		if keep(&r) {
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
