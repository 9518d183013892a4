package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophscribe/internal/chunking"
	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
)

// ReceiveChunk accepts one chunk of the staged variant: its payload is
// staged in the block store right away and only metadata is queued and
// journaled. Invalid chunks are rejected with common.ErrValidation and never
// enqueued.
func (c *Coordinator) ReceiveChunk(ctx context.Context, ch *models.UploadChunk) error {
	if err := validate(ch); err != nil {
		return err
	}
	if err := blobstore.ValidateBlockID(ch.BlockID); err != nil {
		return err
	}
	if len(ch.Payload) == 0 {
		return fmt.Errorf("%w: empty chunk", common.ErrValidation)
	}
	dup, err := c.ensureRecord(ctx, ch)
	if err != nil || dup {
		return err
	}

	err = c.call(ctx, func(ctx context.Context) error {
		return c.blobs.Stage(ctx, ch.BlobPath, ch.BlockID, ch.Payload)
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", ch.BlockID, err)
	}

	ch.Payload = nil
	if ch.EnqueuedAt.IsZero() {
		ch.EnqueuedAt = c.now()
	}
	if err := c.repos.Chunks().Append(ctx, ch); err != nil {
		return fmt.Errorf("journal chunk: %w", err)
	}
	c.enqueue(ctx, ch)
	return nil
}

// ReceiveBuffered accepts one request of the buffered variant. data is kept
// in memory as SubChunkSize sub-chunks; only the final sub-chunk carries the
// last-chunk flag, so the group cannot look complete before all of them are
// queued.
func (c *Coordinator) ReceiveBuffered(ctx context.Context, meta *models.UploadChunk, data []byte) error {
	if err := validate(meta); err != nil {
		return err
	}
	ranges, err := chunking.Split(int64(len(data)), c.cfg.SubChunkSize)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return fmt.Errorf("%w: empty chunk", common.ErrValidation)
	}
	dup, err := c.ensureRecord(ctx, meta)
	if err != nil || dup {
		return err
	}

	now := c.now()
	subs := make([]*models.UploadChunk, len(ranges))
	for i, r := range ranges {
		sub := *meta
		sub.ChunkSeq = i
		sub.BlockID = ""
		sub.BlockList = nil
		sub.IsLast = meta.IsLast && i == len(ranges)-1
		sub.Payload = data[r.Offset:r.End()]
		sub.EnqueuedAt = now
		subs[i] = &sub
	}
	c.enqueue(ctx, subs...)
	return nil
}

// enqueue appends chunks to their group in one step, so a pass never sees
// part of a request.
func (c *Coordinator) enqueue(ctx context.Context, chunks ...*models.UploadChunk) {
	c.queue.EnqueueAll(chunks)
	last := false
	for _, ch := range chunks {
		c.logger.Debug(ctx, "chunk enqueued", "upload_id", ch.UploadID, "file_seq", ch.FileSeq,
			"chunk_seq", ch.ChunkSeq, "last", ch.IsLast)
		last = last || ch.IsLast
	}
	if last {
		c.notify()
	}
}

func validate(ch *models.UploadChunk) error {
	if ch.UploadID == "" {
		return fmt.Errorf("%w: missing upload id", common.ErrValidation)
	}
	if ch.FileSeq < 0 || ch.ChunkSeq < 0 {
		return fmt.Errorf("%w: negative sequence number", common.ErrValidation)
	}
	want, err := blobstore.BlobPath(ch.UserID, ch.FileName)
	if err != nil {
		return err
	}
	if ch.BlobPath != want {
		return fmt.Errorf("%w: blob path %q does not belong to the caller", common.ErrValidation, ch.BlobPath)
	}
	return nil
}

// ensureRecord makes sure the upload id has a pending record owned by the
// caller. It only touches the store for the first chunk of a group; a record
// left terminal or deleted by an earlier attempt is reset. dup is true when
// the upload was already submitted and the chunk is a late redelivery that
// must be acknowledged and dropped.
func (c *Coordinator) ensureRecord(ctx context.Context, ch *models.UploadChunk) (dup bool, err error) {
	if _, ok := c.queue.Head(ch.UploadID); ok {
		return false, nil
	}

	store := c.repos.Records()
	rec, err := store.Get(ctx, ch.UploadID)
	if errors.Is(err, common.ErrorNotFound) {
		err = store.Create(ctx, &models.AudioRecord{
			ID:       ch.UploadID,
			UserID:   ch.UserID,
			FileName: ch.FileName,
			Title:    ch.Title,
			Locale:   ch.Locale,
		})
		if err == nil {
			return false, nil
		}
		// a concurrent first chunk may have created it
		rec, err = store.Get(ctx, ch.UploadID)
	}
	if err != nil {
		return false, fmt.Errorf("ensure record: %w", err)
	}

	if rec.UserID != ch.UserID {
		return false, fmt.Errorf("%w: upload id %s belongs to another user", common.ErrValidation, ch.UploadID)
	}
	if rec.Status == models.StatusInProgress && rec.JobID != "" && !rec.IsDeleted {
		c.logger.Info(ctx, "dropping chunk of submitted upload", "upload_id", ch.UploadID,
			"job_id", rec.JobID, "file_seq", ch.FileSeq, "chunk_seq", ch.ChunkSeq)
		return true, nil
	}
	if rec.Status.Terminal() || rec.IsDeleted {
		c.logger.Info(ctx, "restarting upload", "upload_id", ch.UploadID, "previous_status", string(rec.Status))
		_, err := store.Reset(ctx, ch.UploadID, records.ResetFields{
			FileName: ch.FileName,
			Title:    ch.Title,
			Locale:   ch.Locale,
		})
		if err != nil {
			return false, fmt.Errorf("reset record: %w", err)
		}
	}
	return false, nil
}

// Restore re-enqueues the journaled metadata of staged uploads that were in
// flight when the process stopped.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	rows, err := c.repos.Chunks().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chunk journal: %w", err)
	}
	c.queue.EnqueueAll(rows)
	if len(rows) > 0 {
		c.logger.Info(ctx, "restored in-flight uploads", "chunks", len(rows), "groups", len(c.queue.UploadIDs()))
		c.notify()
	}
	return len(rows), nil
}
