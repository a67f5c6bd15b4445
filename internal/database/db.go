// Package database is the query layer over PostgreSQL.
//
// Queries wraps a DBTX, which is satisfied by *pgxpool.Pool and pgx.Tx, so
// the same methods run standalone or inside the workbook transaction:
//
//	q := database.New(pool)
//	wb, err := q.GetWorkbook(ctx, id)
//
//	tx, _ := pool.Begin(ctx)
//	qtx := q.WithTx(tx)
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// New returns Queries over db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries holds the hand-written statements of the service.
type Queries struct {
	db DBTX
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const advisoryXactLock = `SELECT pg_advisory_xact_lock($1)`

// AdvisoryXactLock takes a transaction-scoped advisory lock on key. It blocks
// until the lock is free and is released at commit or rollback.
func (q *Queries) AdvisoryXactLock(ctx context.Context, key int64) error {
	_, err := q.db.Exec(ctx, advisoryXactLock, key)
	return err
}
