// Package coordinator drives complete upload groups through the pipeline:
// commit the blob, optionally transcode, submit the transcription job and
// record its id. At most one run per gate slot executes at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/chunking"
	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/dmitrijs2005/gophscribe/internal/server/blobstore"
	"github.com/dmitrijs2005/gophscribe/internal/server/lease"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
	"github.com/dmitrijs2005/gophscribe/internal/server/queue"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcode"
	"github.com/dmitrijs2005/gophscribe/internal/server/transcription"
)

// Outcome is the result of one TryProcess attempt.
type Outcome int

const (
	NotReady Outcome = iota
	Busy
	Committed
	Failed
	// Discarded means the record was deleted while the upload was queued.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case NotReady:
		return "not_ready"
	case Busy:
		return "busy"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	case Discarded:
		return "discarded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Config struct {
	// Interval between passes over the queue.
	Interval time.Duration
	// CallTimeout bounds every external call of the pipeline.
	CallTimeout time.Duration
	// GapTimeout is how long a complete group with missing chunks waits.
	GapTimeout time.Duration
	// StaleAfter expires incomplete groups idle for that long.
	StaleAfter time.Duration
	// SubChunkSize splits buffered request bodies.
	SubChunkSize int64
	// BlockSize is the staged block size used when committing buffered uploads.
	BlockSize int64
}

func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		CallTimeout:  2 * time.Minute,
		GapTimeout:   5 * time.Minute,
		StaleAfter:   30 * time.Minute,
		SubChunkSize: 4 << 20,
		BlockSize:    8 << 20,
	}
}

type Deps struct {
	Queue      *queue.UploadQueue
	Blobs      blobstore.Store
	Jobs       transcription.Client
	Repos      repomanager.RepositoryManager
	Gate       lease.Gate
	Transcoder transcode.Transcoder
	Logger     logging.Logger
}

type Coordinator struct {
	queue      *queue.UploadQueue
	blobs      blobstore.Store
	jobs       transcription.Client
	repos      repomanager.RepositoryManager
	gate       lease.Gate
	transcoder transcode.Transcoder
	logger     logging.Logger
	cfg        Config

	signal chan struct{}
	now    func() time.Time
}

func New(d Deps, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = def.GapTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.SubChunkSize <= 0 {
		cfg.SubChunkSize = def.SubChunkSize
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	if d.Transcoder == nil {
		d.Transcoder = transcode.Passthrough{}
	}
	if d.Gate == nil {
		d.Gate = lease.NewGlobal()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return &Coordinator{
		queue:      d.Queue,
		blobs:      d.Blobs,
		jobs:       d.Jobs,
		repos:      d.Repos,
		gate:       d.Gate,
		transcoder: d.Transcoder,
		logger:     d.Logger.With("module", "coordinator"),
		cfg:        cfg,
		signal:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Run processes the queue every Interval and whenever a last chunk arrives,
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Info(ctx, "coordinator started", "interval", c.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "coordinator stopped")
			return nil
		case <-ticker.C:
		case <-c.signal:
		}
		c.Pass(ctx)
	}
}

// Pass expires stale groups, then tries every complete group in order of
// earliest arrival. Busy groups stay queued.
func (c *Coordinator) Pass(ctx context.Context) {
	c.expireStale(ctx)

	for _, id := range c.queue.UploadIDs() {
		if ctx.Err() != nil {
			return
		}
		if !c.queue.IsComplete(id) {
			continue
		}
		outcome, err := c.TryProcess(ctx, id)
		switch {
		case err != nil && outcome == Busy:
			c.logger.Warn(ctx, "gate unavailable", "upload_id", id, "error", err)
		case outcome == Busy:
			c.logger.Debug(ctx, "processing slot busy, deferring", "upload_id", id)
		}
	}
}

func (c *Coordinator) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// TryProcess runs the pipeline for one group if it is complete and the gate
// admits it. A Failed outcome has already been persisted to the record.
func (c *Coordinator) TryProcess(ctx context.Context, uploadID string) (Outcome, error) {
	if !c.queue.IsComplete(uploadID) {
		return NotReady, nil
	}

	if missing := c.queue.Missing(uploadID); len(missing) > 0 {
		last, _ := c.queue.LastActivity(uploadID)
		if c.now().Sub(last) < c.cfg.GapTimeout {
			return NotReady, nil
		}
		err := fmt.Errorf("missing chunks %v", missing)
		c.fail(ctx, uploadID, err)
		return Failed, err
	}

	release, ok, err := c.gate.TryAcquire(ctx, uploadID)
	if err != nil {
		return Busy, fmt.Errorf("%w: %w", common.ErrBusy, err)
	}
	if !ok {
		return Busy, nil
	}
	defer release()

	// another worker may have finished the group while we waited
	if !c.queue.IsComplete(uploadID) {
		return NotReady, nil
	}
	head, _ := c.queue.Head(uploadID)
	group := dedup(c.queue.OrderedChunks(uploadID))

	log := c.logger.With("upload_id", uploadID, "blob_path", head.BlobPath)

	rec, err := c.repos.Records().Get(ctx, uploadID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return Busy, fmt.Errorf("load record: %w", err)
	}
	if err != nil || rec.IsDeleted {
		log.Info(ctx, "record deleted before processing, dropping upload")
		c.discard(ctx, head)
		return Discarded, nil
	}
	log.Info(ctx, "processing upload", "chunks", len(group), "staged", head.Staged())

	jobID, err := c.process(ctx, head, group)
	if err == nil {
		err = c.repos.InTx(ctx, func(ctx context.Context, recs *records.Store, journal chunks.Repository) error {
			if _, err := recs.UpdateJobID(ctx, uploadID, jobID); err != nil {
				return err
			}
			return journal.Purge(ctx, uploadID)
		})
		if err != nil {
			err = fmt.Errorf("persist job id %s: %w", jobID, err)
		}
	}
	if err != nil {
		log.Error(ctx, "upload failed", "error", err)
		c.fail(ctx, uploadID, err)
		return Failed, err
	}

	c.queue.Purge(uploadID)
	log.Info(ctx, "transcription submitted", "job_id", jobID)
	return Committed, nil
}

func (c *Coordinator) process(ctx context.Context, head *models.UploadChunk, group []*models.UploadChunk) (string, error) {
	for _, ch := range group {
		if ch.Staged() != head.Staged() {
			return "", fmt.Errorf("%w: mixed staged and buffered chunks", common.ErrValidation)
		}
	}

	var err error
	if head.Staged() {
		err = c.commitStaged(ctx, head.BlobPath, group)
	} else {
		err = c.commitBuffered(ctx, head, group)
	}
	if err != nil {
		return "", err
	}

	var url string
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		url, err = c.blobs.URL(ctx, head.BlobPath)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("content url: %w", err)
	}

	name := head.Title
	if name == "" {
		name = head.FileName
	}
	var jobID string
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		jobID, err = c.jobs.Submit(ctx, name, head.Locale, url)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	return jobID, nil
}

// commitStaged commits the blocks staged at receipt. The commit list is the
// ordered block ids. A client-declared list must agree with it.
func (c *Coordinator) commitStaged(ctx context.Context, blobPath string, group []*models.UploadChunk) error {
	ids := make([]string, 0, len(group))
	var declared []string
	for _, ch := range group {
		ids = append(ids, ch.BlockID)
		if ch.IsLast && len(ch.BlockList) > 0 {
			declared = ch.BlockList
		}
	}
	if len(declared) > 0 && !slices.Equal(declared, ids) {
		return fmt.Errorf("%w: block list does not match received blocks", common.ErrValidation)
	}

	return c.call(ctx, func(ctx context.Context) error {
		if err := c.blobs.Commit(ctx, blobPath, ids); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// commitBuffered reassembles the in-memory payloads, transcodes them and
// writes the result as freshly staged blocks.
func (c *Coordinator) commitBuffered(ctx context.Context, head *models.UploadChunk, group []*models.UploadChunk) error {
	var size int
	for _, ch := range group {
		size += len(ch.Payload)
	}
	data := make([]byte, 0, size)
	for _, ch := range group {
		data = append(data, ch.Payload...)
	}

	err := c.call(ctx, func(ctx context.Context) error {
		out, mt, err := c.transcoder.Transcode(ctx, data, head.MediaType)
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		if mt != head.MediaType {
			c.logger.Debug(ctx, "transcoded", "upload_id", head.UploadID, "from", head.MediaType, "to", mt, "bytes", len(out))
		}
		data = out
		return nil
	})
	if err != nil {
		return err
	}

	ranges, err := chunking.Split(int64(len(data)), c.cfg.BlockSize)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return fmt.Errorf("%w: empty upload", common.ErrValidation)
	}
	ids := make([]string, len(ranges))
	for i, r := range ranges {
		ids[i] = blobstore.BlockID(i)
		block := data[r.Offset:r.End()]
		err := c.call(ctx, func(ctx context.Context) error {
			return c.blobs.Stage(ctx, head.BlobPath, ids[i], block)
		})
		if err != nil {
			return fmt.Errorf("stage block %d: %w", i, err)
		}
	}

	return c.call(ctx, func(ctx context.Context) error {
		if err := c.blobs.Commit(ctx, head.BlobPath, ids); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// call runs fn under the per-call timeout.
func (c *Coordinator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// fail marks the record failed and drops the group. Persistence is best
// effort and survives cancellation of ctx.
func (c *Coordinator) fail(ctx context.Context, uploadID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
	defer cancel()

	if _, err := c.repos.Records().UpdateStatusAndError(ctx, uploadID, models.StatusFailed, cause.Error()); err != nil {
		c.logger.Warn(ctx, "failed to persist failure", "upload_id", uploadID, "error", err)
	}
	c.purge(ctx, uploadID)
}

// discard drops a group whose record is gone together with the blocks it
// staged, so nothing is left for a deleted record.
func (c *Coordinator) discard(ctx context.Context, head *models.UploadChunk) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
	defer cancel()

	shared, err := c.repos.Records().BlobShared(ctx, head.UserID, head.FileName, head.UploadID)
	if err != nil {
		c.logger.Warn(ctx, "failed to check shared blob", "upload_id", head.UploadID, "error", err)
	}
	if head.Staged() && err == nil && !shared {
		if err := c.blobs.Delete(ctx, head.BlobPath); err != nil {
			c.logger.Warn(ctx, "failed to drop staged blocks", "upload_id", head.UploadID, "error", err)
		}
	}
	c.purge(ctx, head.UploadID)
}

func (c *Coordinator) purge(ctx context.Context, uploadID string) {
	c.queue.Purge(uploadID)
	if err := c.repos.Chunks().Purge(ctx, uploadID); err != nil {
		c.logger.Warn(ctx, "failed to purge chunk journal", "upload_id", uploadID, "error", err)
	}
}

func (c *Coordinator) expireStale(ctx context.Context) {
	for _, id := range c.queue.Stale(c.cfg.StaleAfter) {
		if c.queue.IsComplete(id) {
			continue
		}
		c.logger.Warn(ctx, "expiring abandoned upload", "upload_id", id)
		c.fail(ctx, id, errors.New("upload abandoned before last chunk"))
	}
}

// dedup keeps the last arrival of every (FileSeq, ChunkSeq) ordinal. The
// input must be stably sorted by ordinal.
func dedup(group []*models.UploadChunk) []*models.UploadChunk {
	out := make([]*models.UploadChunk, 0, len(group))
	for _, ch := range group {
		if n := len(out); n > 0 && out[n-1].FileSeq == ch.FileSeq && out[n-1].ChunkSeq == ch.ChunkSeq {
			out[n-1] = ch
			continue
		}
		out = append(out, ch)
	}
	return out
}
