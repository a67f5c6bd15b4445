package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

func TestRecordGrid(t *testing.T) {
	records := []ingest.Record{
		{Row: 2, Fields: []ingest.Field{{Name: "Item", Value: "Rent"}, {Name: "Total", Value: "100"}, {Name: "Total_2", Value: "120"}}},
		{Row: 3, Fields: []ingest.Field{{Name: "Item", Value: "Food"}, {Name: "note", Value: "added later"}}},
		{Row: 9, Fields: []ingest.Field{{Name: "amount", Value: "7"}, {Name: "Item", Value: "Gas"}}},
	}

	cols, grid := recordGrid([]string{"Item", "Total", "Total_2"}, records)

	assert.Equal(t, []string{"Item", "Total", "Total_2", "amount", "note"}, cols)
	assert.Equal(t, [][]string{
		{"Rent", "100", "120", "", ""},
		{"Food", "", "", "", "added later"},
		{"Gas", "", "", "7", ""},
	}, grid)
}

func TestRecordGrid_NoRows(t *testing.T) {
	cols, grid := recordGrid([]string{"a", "b"}, nil)
	assert.Equal(t, []string{"a", "b"}, cols)
	assert.Empty(t, grid)
}

// pagedTables serves a fixed table in pages.
type pagedTables struct {
	columns []string
	rows    []map[string]any
	calls   int
}

func (p *pagedTables) Rows(_ context.Context, table string, limit, offset int) (*schema.TableData, error) {
	p.calls++
	end := min(offset+limit, len(p.rows))
	if offset > end {
		offset = end
	}
	return &schema.TableData{Table: table, Columns: p.columns, Rows: p.rows[offset:end]}, nil
}

func TestReadTable_PagesAndDropsKey(t *testing.T) {
	tables := &pagedTables{columns: []string{"id", "sku", "qty", "seen"}}
	for i := 0; i < exportPageSize+1; i++ {
		tables.rows = append(tables.rows, map[string]any{"id": int64(i + 1), "sku": "A", "qty": int64(i), "seen": nil})
	}
	tables.rows[0]["seen"] = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tables.rows[1]["seen"] = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	cols, grid, err := readTable(context.Background(), tables, "t_1_stock")
	require.NoError(t, err)

	assert.Equal(t, []string{"sku", "qty", "seen"}, cols)
	require.Len(t, grid, exportPageSize+1)
	assert.Equal(t, []string{"A", "0", "2024-03-01"}, grid[0])
	assert.Equal(t, []string{"A", "1", "2024-03-01 09:30:00"}, grid[1])
	assert.Equal(t, []string{"A", "2", ""}, grid[2])
	assert.Equal(t, 2, tables.calls)
}
