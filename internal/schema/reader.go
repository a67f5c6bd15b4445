package schema

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultReadLimit caps TableReader.Rows when the caller passes no limit.
const DefaultReadLimit = 100

// TableReader reads dynamic tables whose columns are only known at runtime.
type TableReader struct {
	db *sqlx.DB
}

// NewTableReader wraps an open sqlx handle.
func NewTableReader(db *sqlx.DB) *TableReader {
	return &TableReader{db: db}
}

// Connect opens a reader on the lib/pq driver.
func Connect(ctx context.Context, url string) (*TableReader, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect table reader: %w", err)
	}
	return NewTableReader(db), nil
}

// Close closes the underlying handle.
func (r *TableReader) Close() error {
	return r.db.Close()
}

// TableData is a page of a dynamic table.
type TableData struct {
	Table   string           `json:"table"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Rows returns up to limit rows of the table ordered by primary key.
func (r *TableReader) Rows(ctx context.Context, table string, limit, offset int) (*TableData, error) {
	if SanitizeIdentifier(table) != table || table == "" {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT $1 OFFSET $2",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(PrimaryKey))
	rows, err := r.db.QueryxContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	out := &TableData{Table: table, Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		m := make(map[string]any, len(cols))
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for k, v := range m {
			m[k] = normalize(v)
		}
		out.Rows = append(out.Rows, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return out, nil
}

// normalize turns driver byte slices (NUMERIC, VARCHAR) into strings so the
// rows encode as readable JSON.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
