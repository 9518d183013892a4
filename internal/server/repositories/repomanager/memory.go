package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
)

// InMemoryRepositoryManager keeps everything in process memory. InTx
// serializes callers but cannot roll back.
type InMemoryRepositoryManager struct {
	mu      sync.Mutex
	records *records.Store
	chunks  *chunks.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		records: records.NewStore(records.NewMemoryRepository()),
		chunks:  chunks.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) Records() *records.Store { return m.records }

func (m *InMemoryRepositoryManager) Chunks() chunks.Repository { return m.chunks }

func (m *InMemoryRepositoryManager) InTx(ctx context.Context, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m.records, m.chunks)
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *InMemoryRepositoryManager) Close() error { return nil }
