package core

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// sheetStore is everything a sheet pass writes through. Inside a workbook
// transaction it is a txStore.
type sheetStore interface {
	CreateSheet(ctx context.Context, arg database.CreateSheetParams) (database.Sheet, error)
	UpdateSheetResult(ctx context.Context, arg database.UpdateSheetResultParams) (database.Sheet, error)
	CopySheetRows(ctx context.Context, arg []database.CopySheetRowParams) (int64, error)
	RecordCreateHistory(ctx context.Context, sheetID int64) (int64, error)
	UpsertMapping(ctx context.Context, sheetID int64, def *ingest.MappingDefinition) error
	CreateTable(ctx context.Context, sheet string, t schema.Table) error
	BulkInsert(ctx context.Context, t schema.Table, records []ingest.Record) error
	// Savepoint runs fn so that a failure undoes only fn's writes.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// txStore binds the queries and the table manager to one transaction.
type txStore struct {
	*database.Queries
	tx     pgx.Tx
	schema *schema.Manager
}

var _ sheetStore = (*txStore)(nil)

func (s *Service) newTxStore(tx pgx.Tx) *txStore {
	return &txStore{Queries: s.queries.WithTx(tx), tx: tx, schema: s.schema}
}

func (st *txStore) UpsertMapping(ctx context.Context, sheetID int64, def *ingest.MappingDefinition) error {
	return upsertMapping(ctx, st.Queries, sheetID, def)
}

func (st *txStore) CreateTable(ctx context.Context, sheet string, t schema.Table) error {
	return st.schema.CreateTable(ctx, st.tx, sheet, t)
}

func (st *txStore) BulkInsert(ctx context.Context, t schema.Table, records []ingest.Record) error {
	return st.schema.BulkInsert(ctx, st.tx, t, records)
}

func (st *txStore) Savepoint(ctx context.Context, name string, fn func() error) error {
	return savepoint(ctx, st.tx, name, fn)
}
