package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// CopySheetRowParams is one row for CopySheetRows.
type CopySheetRowParams struct {
	SheetID   int64
	RowNumber int32
	Data      []byte
}

// CopySheetRows bulk-loads rows with the COPY protocol.
func (q *Queries) CopySheetRows(ctx context.Context, arg []CopySheetRowParams) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"sheet_rows"},
		[]string{"sheet_id", "row_number", "data"},
		pgx.CopyFromSlice(len(arg), func(i int) ([]any, error) {
			return []any{arg[i].SheetID, arg[i].RowNumber, arg[i].Data}, nil
		}),
	)
}

const recordCreateHistory = `INSERT INTO row_history (row_id, sheet_id, operation, new_data)
SELECT r.id, r.sheet_id, 'CREATE', r.data
FROM sheet_rows r
WHERE r.sheet_id = $1
  AND NOT EXISTS (SELECT 1 FROM row_history h WHERE h.row_id = r.id)`

// RecordCreateHistory writes a CREATE entry for every row of the sheet that
// has no history yet.
func (q *Queries) RecordCreateHistory(ctx context.Context, sheetID int64) (int64, error) {
	result, err := q.db.Exec(ctx, recordCreateHistory, sheetID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const rowColumns = `id, sheet_id, row_number, data, created_at`

func scanRow(row interface{ Scan(...any) error }) (SheetRow, error) {
	var i SheetRow
	err := row.Scan(&i.ID, &i.SheetID, &i.RowNumber, &i.Data, &i.CreatedAt)
	return i, err
}

const listRows = `SELECT ` + rowColumns + ` FROM sheet_rows
WHERE sheet_id = $1
ORDER BY row_number, id
LIMIT $2 OFFSET $3`

type ListRowsParams struct {
	SheetID int64
	Limit   int32
	Offset  int32
}

func (q *Queries) ListRows(ctx context.Context, arg ListRowsParams) ([]SheetRow, error) {
	rows, err := q.db.Query(ctx, listRows, arg.SheetID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SheetRow
	for rows.Next() {
		i, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countRows = `SELECT COUNT(*) FROM sheet_rows WHERE sheet_id = $1`

func (q *Queries) CountRows(ctx context.Context, sheetID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countRows, sheetID).Scan(&n)
	return n, err
}

const listSheetRows = `SELECT ` + rowColumns + ` FROM sheet_rows
WHERE sheet_id = $1
ORDER BY row_number, id`

// ListSheetRows returns every row of the sheet in row order.
func (q *Queries) ListSheetRows(ctx context.Context, sheetID int64) ([]SheetRow, error) {
	rows, err := q.db.Query(ctx, listSheetRows, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SheetRow
	for rows.Next() {
		i, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRow = `SELECT ` + rowColumns + ` FROM sheet_rows WHERE id = $1`

func (q *Queries) GetRow(ctx context.Context, id int64) (SheetRow, error) {
	return scanRow(q.db.QueryRow(ctx, getRow, id))
}

const nextRowNumber = `SELECT COALESCE(MAX(row_number), 0) + 1 FROM sheet_rows WHERE sheet_id = $1`

// NextRowNumber is one past the highest row number of the sheet.
func (q *Queries) NextRowNumber(ctx context.Context, sheetID int64) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, nextRowNumber, sheetID).Scan(&n)
	return n, err
}

const insertRow = `INSERT INTO sheet_rows (sheet_id, row_number, data)
VALUES ($1, $2, $3)
RETURNING ` + rowColumns

type InsertRowParams struct {
	SheetID   int64
	RowNumber int32
	Data      []byte
}

func (q *Queries) InsertRow(ctx context.Context, arg InsertRowParams) (SheetRow, error) {
	return scanRow(q.db.QueryRow(ctx, insertRow, arg.SheetID, arg.RowNumber, arg.Data))
}

const deleteRow = `DELETE FROM sheet_rows WHERE id = $1`

func (q *Queries) DeleteRow(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteRow, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getRowForUpdate = `SELECT ` + rowColumns + ` FROM sheet_rows WHERE id = $1 FOR UPDATE`

// GetRowForUpdate reads a row and locks it until the transaction ends.
func (q *Queries) GetRowForUpdate(ctx context.Context, id int64) (SheetRow, error) {
	return scanRow(q.db.QueryRow(ctx, getRowForUpdate, id))
}

const updateRowData = `UPDATE sheet_rows SET data = $2 WHERE id = $1
RETURNING ` + rowColumns

func (q *Queries) UpdateRowData(ctx context.Context, id int64, data []byte) (SheetRow, error) {
	return scanRow(q.db.QueryRow(ctx, updateRowData, id, data))
}

const insertRowHistory = `INSERT INTO row_history (row_id, sheet_id, operation, old_data, new_data)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, row_id, sheet_id, operation, old_data, new_data, created_at`

type InsertRowHistoryParams struct {
	RowID     int64
	SheetID   int64
	Operation string
	OldData   []byte
	NewData   []byte
}

func (q *Queries) InsertRowHistory(ctx context.Context, arg InsertRowHistoryParams) (RowHistory, error) {
	row := q.db.QueryRow(ctx, insertRowHistory, arg.RowID, arg.SheetID, arg.Operation, arg.OldData, arg.NewData)
	var i RowHistory
	err := row.Scan(&i.ID, &i.RowID, &i.SheetID, &i.Operation, &i.OldData, &i.NewData, &i.CreatedAt)
	return i, err
}

const listRowHistory = `SELECT id, row_id, sheet_id, operation, old_data, new_data, created_at
FROM row_history
WHERE row_id = $1
ORDER BY created_at, id`

func (q *Queries) ListRowHistory(ctx context.Context, rowID int64) ([]RowHistory, error) {
	rows, err := q.db.Query(ctx, listRowHistory, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RowHistory
	for rows.Next() {
		var i RowHistory
		if err := rows.Scan(&i.ID, &i.RowID, &i.SheetID, &i.Operation, &i.OldData, &i.NewData, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSheetHistory = `DELETE FROM row_history WHERE sheet_id = $1`

func (q *Queries) DeleteSheetHistory(ctx context.Context, sheetID int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteSheetHistory, sheetID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteSheetRows = `DELETE FROM sheet_rows WHERE sheet_id = $1`

func (q *Queries) DeleteSheetRows(ctx context.Context, sheetID int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteSheetRows, sheetID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
