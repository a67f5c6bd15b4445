package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// PrimaryKey is the auto-increment column every dynamic table starts with.
const PrimaryKey = "id"

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx that the
// manager needs.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// SanitizeIdentifier keeps only [A-Za-z0-9_] and lower-cases the result.
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// TableName returns "t_<workbookID>_<sanitized sheet name>". A sheet name with
// no usable characters becomes "sheet".
func TableName(workbookID int64, sheetName string) string {
	name := SanitizeIdentifier(sheetName)
	if name == "" {
		name = "sheet"
	}
	return truncate("t_" + strconv.FormatInt(workbookID, 10) + "_" + name)
}

// WithSuffix appends "_<n>" to name, shortening name so the result still
// fits in an identifier. It separates sheets whose names sanitize alike.
func WithSuffix(name string, n int) string {
	suffix := "_" + strconv.Itoa(n)
	if len(name)+len(suffix) > maxIdentifierLen {
		name = name[:maxIdentifierLen-len(suffix)]
	}
	return name + suffix
}

// SQLType maps an abstract column type to its DDL type.
func SQLType(t ingest.ColumnType) string {
	switch t.Kind {
	case ingest.TypeInteger:
		return "BIGINT"
	case ingest.TypeDecimal:
		p, s := t.Precision, t.Scale
		if p < 1 || p > 1000 {
			return "NUMERIC"
		}
		if s < 0 || s >= p {
			s = 0
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", p, s)
	case ingest.TypeDateTime:
		return "TIMESTAMP"
	default:
		if t.Long {
			return "TEXT"
		}
		return "VARCHAR(255)"
	}
}

// TableColumn binds a record field to its sanitized column.
type TableColumn struct {
	Field  string            `json:"field"`
	Column string            `json:"column"`
	Type   ingest.ColumnType `json:"type"`
}

// Table is the physical layout of one dynamic table.
type Table struct {
	Name    string        `json:"name"`
	Columns []TableColumn `json:"columns"`
}

// NewTable derives the physical layout of a schema. Column names are
// sanitized; empty results become col_<n> and collisions, including with the
// primary key, get a numeric suffix.
func NewTable(name string, cols []ingest.Column) Table {
	t := Table{Name: truncate(SanitizeIdentifier(name)), Columns: make([]TableColumn, 0, len(cols))}
	used := map[string]bool{PrimaryKey: true}

	for i, c := range cols {
		base := truncate(SanitizeIdentifier(c.Name))
		if base == "" {
			base = "col_" + strconv.Itoa(i+1)
		}
		col := base
		for n := 2; used[col]; n++ {
			suffix := "_" + strconv.Itoa(n)
			col = truncate(base[:min(len(base), maxIdentifierLen-len(suffix))] + suffix)
		}
		used[col] = true
		t.Columns = append(t.Columns, TableColumn{Field: c.Name, Column: col, Type: c.Type})
	}
	return t
}

// CreateTableSQL renders the idempotent DDL for t.
func (t Table) CreateTableSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pq.QuoteIdentifier(t.Name))
	b.WriteString(" (")
	b.WriteString(pq.QuoteIdentifier(PrimaryKey))
	b.WriteString(" BIGSERIAL PRIMARY KEY")
	for _, c := range t.Columns {
		b.WriteString(", ")
		b.WriteString(pq.QuoteIdentifier(c.Column))
		b.WriteByte(' ')
		b.WriteString(SQLType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// InsertSQL renders the parameterized insert with columns in schema order.
func (t Table) InsertSQL() string {
	cols := make([]string, len(t.Columns))
	params := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pq.QuoteIdentifier(c.Column)
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(t.Name), strings.Join(cols, ", "), strings.Join(params, ", "))
}

// Manager creates dynamic tables and inserts records into them.
type Manager struct{}

// NewManager returns a Manager.
func NewManager() *Manager {
	return &Manager{}
}

// CreateTable creates t if it does not exist yet. Failures are
// SCHEMA_CREATION errors.
func (m *Manager) CreateTable(ctx context.Context, db DBTX, sheet string, t Table) error {
	if len(t.Columns) == 0 {
		return ingest.NewError(ingest.KindSchemaCreation, sheet, 0, fmt.Errorf("table %s has no columns", t.Name))
	}
	if _, err := db.Exec(ctx, t.CreateTableSQL()); err != nil {
		return ingest.NewError(ingest.KindSchemaCreation, sheet, 0, fmt.Errorf("create table %s: %w", t.Name, err))
	}
	return nil
}

// DropTable removes t if it exists.
func (m *Manager) DropTable(ctx context.Context, db DBTX, name string) error {
	if _, err := db.Exec(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// BulkInsert queues one parameterized insert per record in a single batch.
// Values are looked up by field name, so records may omit fields; missing
// values are NULL.
func (m *Manager) BulkInsert(ctx context.Context, db DBTX, t Table, records []ingest.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := t.InsertSQL()
	batch := &pgx.Batch{}
	for _, rec := range records {
		args := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			raw, _ := rec.Get(c.Field)
			v, err := ToValue(c.Type, raw)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", rec.Row, c.Column, err)
			}
			args[i] = v
		}
		batch.Queue(query, args...)
	}

	br := db.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert into %s: %w", t.Name, err)
		}
	}
	return br.Close()
}

func truncate(s string) string {
	if len(s) > maxIdentifierLen {
		return s[:maxIdentifierLen]
	}
	return s
}
