package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophscribe/internal/dbx"
	"github.com/dmitrijs2005/gophscribe/internal/server/migrations"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager binds repositories to a pgx-backed *sql.DB.
type PostgresRepositoryManager struct {
	db      *sql.DB
	records *records.Store
	chunks  chunks.Repository
}

// sqlOpen and gooseUpContext are seams for tests.
var (
	sqlOpen        = sql.Open
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
)

// NewPostgresRepositoryManager opens the database at dsn.
func NewPostgresRepositoryManager(dsn string) (*PostgresRepositoryManager, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return NewPostgresRepositoryManagerFromDB(db), nil
}

func NewPostgresRepositoryManagerFromDB(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{
		db:      db,
		records: records.NewStore(records.NewPostgresRepository(db)),
		chunks:  chunks.NewPostgresRepository(db),
	}
}

func (m *PostgresRepositoryManager) Records() *records.Store { return m.records }

func (m *PostgresRepositoryManager) Chunks() chunks.Repository { return m.chunks }

// InTx runs fn with repositories bound to a single transaction.
func (m *PostgresRepositoryManager) InTx(ctx context.Context, fn TxFunc) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, records.NewStore(records.NewPostgresRepository(tx)), chunks.NewPostgresRepository(tx))
	})
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
