package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophscribe/internal/common"
	"github.com/dmitrijs2005/gophscribe/internal/dbx"
	"github.com/dmitrijs2005/gophscribe/internal/server/models"
)

const recordColumns = `id, user_id, user_name, file_name, title, locale, job_id, status,
	download_link, error_message, is_deleted, created_at, updated_at, version`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.AudioRecord) error {
	query := `INSERT INTO audio_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.UserName, rec.FileName, rec.Title, rec.Locale, rec.JobID, string(rec.Status),
		rec.DownloadLink, rec.ErrorMessage, rec.IsDeleted, rec.CreatedAt, rec.UpdatedAt, rec.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.AudioRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audio_records WHERE id=$1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]*models.AudioRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audio_records
		WHERE user_id=$1 AND NOT is_deleted
		ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *PostgresRepository) FindByJobID(ctx context.Context, jobID string) ([]*models.AudioRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audio_records WHERE job_id=$1`
	return r.list(ctx, query, jobID)
}

func (r *PostgresRepository) FindByFileName(ctx context.Context, userID, fileName string) ([]*models.AudioRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audio_records
		WHERE user_id=$1 AND file_name=$2 AND NOT is_deleted
		ORDER BY created_at DESC`
	return r.list(ctx, query, userID, fileName)
}

func (r *PostgresRepository) FindInProgress(ctx context.Context) ([]*models.AudioRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM audio_records
		WHERE status='in_progress' AND job_id<>'' AND NOT is_deleted
		ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.AudioRecord) error {
	query := `UPDATE audio_records SET
			user_name=$3, file_name=$4, title=$5, locale=$6, job_id=$7, status=$8,
			download_link=$9, error_message=$10, is_deleted=$11, updated_at=$12,
			version=version+1
		WHERE id=$1 AND version=$2`

	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Version, rec.UserName, rec.FileName, rec.Title, rec.Locale, rec.JobID, string(rec.Status),
		rec.DownloadLink, rec.ErrorMessage, rec.IsDeleted, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		rec.Version++
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AudioRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.AudioRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.AudioRecord, error) {
	var rec models.AudioRecord
	var status string
	err := s.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.FileName, &rec.Title, &rec.Locale, &rec.JobID, &status,
		&rec.DownloadLink, &rec.ErrorMessage, &rec.IsDeleted, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	return &rec, nil
}
