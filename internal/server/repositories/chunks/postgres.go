package chunks

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophscribe/internal/dbx"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, c *models.UploadChunk) error {
	query := `INSERT INTO upload_chunks (upload_id, file_seq, chunk_seq, user_id, blob_path, file_name,
			title, media_type, locale, is_last, block_id, block_list, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (upload_id, file_seq, chunk_seq) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			blob_path = EXCLUDED.blob_path,
			file_name = EXCLUDED.file_name,
			title = EXCLUDED.title,
			media_type = EXCLUDED.media_type,
			locale = EXCLUDED.locale,
			is_last = EXCLUDED.is_last,
			block_id = EXCLUDED.block_id,
			block_list = EXCLUDED.block_list,
			enqueued_at = EXCLUDED.enqueued_at`

	_, err := r.db.ExecContext(ctx, query,
		c.UploadID, c.FileSeq, c.ChunkSeq, c.UserID, c.BlobPath, c.FileName,
		c.Title, c.MediaType, c.Locale, c.IsLast, c.BlockID, strings.Join(c.BlockList, ","), c.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.UploadChunk, error) {
	query := `SELECT upload_id, file_seq, chunk_seq, user_id, blob_path, file_name,
			title, media_type, locale, is_last, block_id, block_list, enqueued_at
		FROM upload_chunks
		ORDER BY enqueued_at, upload_id, file_seq, chunk_seq`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadChunk
	for rows.Next() {
		var c models.UploadChunk
		var blockList string
		if err := rows.Scan(&c.UploadID, &c.FileSeq, &c.ChunkSeq, &c.UserID, &c.BlobPath, &c.FileName,
			&c.Title, &c.MediaType, &c.Locale, &c.IsLast, &c.BlockID, &blockList, &c.EnqueuedAt); err != nil {
			return nil, err
		}
		c.BlockList = splitList(blockList)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Purge(ctx context.Context, uploadID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_chunks WHERE upload_id=$1`, uploadID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
