package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, "001_init", ms[0].Version)
	for _, table := range []string{"workbooks", "workbook_files", "sheets", "sheet_rows", "row_history", "mapping_definitions", "mapping_templates"} {
		assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}

	require.Len(t, ms, 2)
	assert.Equal(t, "002_row_history_deletes", ms[1].Version)
	assert.Contains(t, ms[1].SQL, "DROP CONSTRAINT IF EXISTS row_history_row_id_fkey")
}

func TestLoadMigrations_SortedWithChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql": {Data: []byte("SELECT 2;")},
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/readme.md": {Data: []byte("ignored")},
	}

	ms, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "001_a", ms[0].Version)
	assert.Equal(t, "002_b", ms[1].Version)
	assert.Len(t, ms[0].Checksum, 64)
	assert.NotEqual(t, ms[0].Checksum, ms[1].Checksum)
}

// fakeTx implements the pgx.Tx methods the migrator uses. applied maps
// version to checksum and is shared across transactions.
type fakeTx struct {
	pgx.Tx
	applied   map[string]string
	pending   map[string]string
	execs     []string
	committed bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		f.pending[args[0].(string)] = args[1].(string)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	sum, ok := f.applied[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: sum}
}

func (f *fakeTx) Commit(context.Context) error {
	for k, v := range f.pending {
		f.applied[k] = v
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error { return nil }

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

type fakeBeginner struct {
	applied map[string]string
	txs     []*fakeTx
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{applied: b.applied, pending: map[string]string{}}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestApply_SkipsAppliedAndRecordsNew(t *testing.T) {
	ms := []Migration{
		{Version: "001_a", SQL: "CREATE TABLE a ()", Checksum: "aaa"},
		{Version: "002_b", SQL: "CREATE TABLE b ()", Checksum: "bbb"},
	}
	db := &fakeBeginner{applied: map[string]string{"001_a": "aaa"}}

	require.NoError(t, apply(context.Background(), db, ms))

	assert.Equal(t, map[string]string{"001_a": "aaa", "002_b": "bbb"}, db.applied)
	require.Len(t, db.txs, 2)
	assert.False(t, db.txs[0].committed)
	assert.True(t, db.txs[1].committed)
	assert.Contains(t, db.txs[1].execs, "CREATE TABLE b ()")
	assert.NotContains(t, db.txs[0].execs, "CREATE TABLE a ()")

	require.NoError(t, apply(context.Background(), db, ms), "second run is a no-op")
}

func TestApply_ChecksumMismatch(t *testing.T) {
	db := &fakeBeginner{applied: map[string]string{"001_a": "old"}}

	err := apply(context.Background(), db, []Migration{{Version: "001_a", SQL: "x", Checksum: "new"}})

	assert.True(t, errors.Is(err, ErrChecksumMismatch), err)
}
