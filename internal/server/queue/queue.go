// Package queue buffers in-flight upload chunks in process memory, grouped
// by upload id, until the group is complete and handed to the pipeline.
package queue

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

// UploadQueue is safe for concurrent use. Enqueue is append-only and every
// read works on a snapshot, so receipt handlers and the runner never race.
type UploadQueue struct {
	mu     sync.RWMutex
	groups map[string]*group
	now    func() time.Time
}

type group struct {
	chunks []*models.UploadChunk
	first  time.Time
	last   time.Time
}

func New() *UploadQueue {
	return &UploadQueue{groups: make(map[string]*group), now: time.Now}
}

// Enqueue appends c to its group. Duplicates are kept.
func (q *UploadQueue) Enqueue(c *models.UploadChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.add(c)
}

// EnqueueAll appends every chunk under one lock: readers see either none or
// all of them.
func (q *UploadQueue) EnqueueAll(chunks []*models.UploadChunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range chunks {
		q.add(c)
	}
}

func (q *UploadQueue) add(c *models.UploadChunk) {
	if c.EnqueuedAt.IsZero() {
		c.EnqueuedAt = q.now()
	}
	g, ok := q.groups[c.UploadID]
	if !ok {
		g = &group{first: c.EnqueuedAt}
		q.groups[c.UploadID] = g
	}
	g.chunks = append(g.chunks, c)
	if c.EnqueuedAt.Before(g.first) {
		g.first = c.EnqueuedAt
	}
	if c.EnqueuedAt.After(g.last) {
		g.last = c.EnqueuedAt
	}
}

// IsComplete reports whether any chunk of the group carries the last-chunk flag.
func (q *UploadQueue) IsComplete(uploadID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	g, ok := q.groups[uploadID]
	if !ok {
		return false
	}
	return slices.ContainsFunc(g.chunks, func(c *models.UploadChunk) bool { return c.IsLast })
}

// OrderedChunks returns the group sorted by (FileSeq, ChunkSeq). The sort is
// stable, so duplicates keep their arrival order.
func (q *UploadQueue) OrderedChunks(uploadID string) []*models.UploadChunk {
	q.mu.RLock()
	g, ok := q.groups[uploadID]
	var out []*models.UploadChunk
	if ok {
		out = slices.Clone(g.chunks)
	}
	q.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FileSeq != out[j].FileSeq {
			return out[i].FileSeq < out[j].FileSeq
		}
		return out[i].ChunkSeq < out[j].ChunkSeq
	})
	return out
}

// EarliestUploadID returns the id owning the oldest chunk, or "" when empty.
func (q *UploadQueue) EarliestUploadID() string {
	ids := q.UploadIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// UploadIDs lists group ids ordered by their oldest chunk.
func (q *UploadQueue) UploadIDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, 0, len(q.groups))
	for id := range q.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := q.groups[ids[i]].first, q.groups[ids[j]].first
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.Before(b)
	})
	return ids
}

// Head returns the first chunk received for the group; its metadata
// (file name, locale, blob path) describes the whole upload.
func (q *UploadQueue) Head(uploadID string) (*models.UploadChunk, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	g, ok := q.groups[uploadID]
	if !ok || len(g.chunks) == 0 {
		return nil, false
	}
	return g.chunks[0], true
}

// Missing returns the file ordinals not yet received below the expected
// count. The count comes from the last chunk: the length of its declared
// block list when present, otherwise its FileSeq+1. Nil means no gap or no
// last chunk yet.
func (q *UploadQueue) Missing(uploadID string) []int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	g, ok := q.groups[uploadID]
	if !ok {
		return nil
	}

	expected := -1
	seen := make(map[int]bool, len(g.chunks))
	for _, c := range g.chunks {
		seen[c.FileSeq] = true
		if !c.IsLast {
			continue
		}
		n := c.FileSeq + 1
		if len(c.BlockList) > n {
			n = len(c.BlockList)
		}
		if n > expected {
			expected = n
		}
	}

	var missing []int
	for i := 0; i < expected; i++ {
		if !seen[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// LastActivity returns when the group last received a chunk.
func (q *UploadQueue) LastActivity(uploadID string) (time.Time, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	g, ok := q.groups[uploadID]
	if !ok {
		return time.Time{}, false
	}
	return g.last, true
}

// Stale lists groups idle for longer than d.
func (q *UploadQueue) Stale(d time.Duration) []string {
	cutoff := q.now().Add(-d)

	q.mu.RLock()
	defer q.mu.RUnlock()

	var ids []string
	for id, g := range q.groups {
		if g.last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Purge drops every chunk of the group.
func (q *UploadQueue) Purge(uploadID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.groups, uploadID)
}

// Len returns the total number of buffered chunks.
func (q *UploadQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, g := range q.groups {
		n += len(g.chunks)
	}
	return n
}
