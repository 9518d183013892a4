package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/dmitrijs2005/gophscribe/internal/common"
)

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	staged  map[string]map[string][]byte
	maxSize int64
	baseURL string
}

// NewMemoryStore returns an empty store. URLs are built under baseURL.
func NewMemoryStore(maxBlockSize int64, baseURL string) *MemoryStore {
	if maxBlockSize <= 0 {
		maxBlockSize = DefaultMaxBlockSize
	}
	if baseURL == "" {
		baseURL = "memory://blobs/"
	}
	return &MemoryStore{
		blobs:   make(map[string][]byte),
		staged:  make(map[string]map[string][]byte),
		maxSize: maxBlockSize,
		baseURL: baseURL,
	}
}

func (s *MemoryStore) Stage(ctx context.Context, blobPath, blockID string, data []byte) error {
	if err := checkBlock(blobPath, blockID, int64(len(data)), s.maxSize); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks, ok := s.staged[blobPath]
	if !ok {
		blocks = make(map[string][]byte)
		s.staged[blobPath] = blocks
	}
	blocks[blockID] = bytes.Clone(data)
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, blobPath string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return fmt.Errorf("%w: empty block list for %s", common.ErrBlockListInvalid, blobPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.staged[blobPath]
	var buf bytes.Buffer
	for _, id := range blockIDs {
		b, ok := blocks[id]
		if !ok {
			return fmt.Errorf("%w: block %q was never staged for %s", common.ErrBlockListInvalid, id, blobPath)
		}
		buf.Write(b)
	}
	s.blobs[blobPath] = buf.Bytes()
	delete(s.staged, blobPath)
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, blobPath string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[blobPath]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", blobPath, common.ErrorNotFound)
	}
	return bytes.Clone(b), nil
}

func (s *MemoryStore) Delete(ctx context.Context, blobPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, blobPath)
	delete(s.staged, blobPath)
	return nil
}

func (s *MemoryStore) URL(ctx context.Context, blobPath string) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[blobPath]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("url %s: %w", blobPath, common.ErrorNotFound)
	}
	return s.baseURL + (&url.URL{Path: blobPath}).EscapedPath(), nil
}

// Exists reports whether blobPath is committed.
func (s *MemoryStore) Exists(blobPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[blobPath]
	return ok
}

// stagedCount returns the number of uncommitted blocks held for blobPath.
func (s *MemoryStore) stagedCount(blobPath string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged[blobPath])
}
