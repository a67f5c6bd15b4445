// Package schema creates and fills the per-sheet relational tables used in
// table storage mode.
//
// Every identifier that reaches SQL is first reduced to [a-z0-9_] by
// SanitizeIdentifier and then quoted with pq.QuoteIdentifier. Column types
// come from a fixed map over the abstract types produced by ingest's type
// inference and are never derived from user input:
//
//	INTEGER        BIGINT
//	DECIMAL(p,s)   NUMERIC(p,s)
//	DATETIME       TIMESTAMP
//	TEXT           VARCHAR(255), or TEXT for long values
//
// Tables are created with CREATE TABLE IF NOT EXISTS so re-ingesting a sheet
// into an existing table does not fail. Rows are inserted with a single
// parameterized INSERT queued once per record in a pgx.Batch.
//
// TableReader reads the tables back through sqlx for display, since their
// columns are only known at runtime.
package schema
