// Package repomanager vends the repositories used by the server and runs
// multi-repository writes in one transaction.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/gophscribe/internal/server/repositories/records"
)

// TxFunc receives repositories bound to the running transaction.
type TxFunc func(ctx context.Context, recs *records.Store, journal chunks.Repository) error

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Records() *records.Store
	Chunks() chunks.Repository
	InTx(ctx context.Context, fn TxFunc) error
	Close() error
}
