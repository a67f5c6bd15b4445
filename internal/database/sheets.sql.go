package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const sheetColumns = `id, workbook_id, sheet_index, name, header_row_index, reliable, headers, row_count, status, table_name, updated_at`

func scanSheet(row interface{ Scan(...any) error }) (Sheet, error) {
	var i Sheet
	err := row.Scan(
		&i.ID,
		&i.WorkbookID,
		&i.SheetIndex,
		&i.Name,
		&i.HeaderRowIndex,
		&i.Reliable,
		&i.Headers,
		&i.RowCount,
		&i.Status,
		&i.TableName,
		&i.UpdatedAt,
	)
	return i, err
}

const createSheet = `INSERT INTO sheets (workbook_id, sheet_index, name, status)
VALUES ($1, $2, $3, $4)
RETURNING ` + sheetColumns

type CreateSheetParams struct {
	WorkbookID int64
	SheetIndex int32
	Name       string
	Status     string
}

func (q *Queries) CreateSheet(ctx context.Context, arg CreateSheetParams) (Sheet, error) {
	return scanSheet(q.db.QueryRow(ctx, createSheet, arg.WorkbookID, arg.SheetIndex, arg.Name, arg.Status))
}

const updateSheetResult = `UPDATE sheets
SET header_row_index = $2,
    reliable = $3,
    headers = $4,
    row_count = $5,
    status = $6,
    table_name = $7,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + sheetColumns

type UpdateSheetResultParams struct {
	ID             int64
	HeaderRowIndex pgtype.Int4
	Reliable       bool
	Headers        []byte
	RowCount       int64
	Status         string
	TableName      pgtype.Text
}

func (q *Queries) UpdateSheetResult(ctx context.Context, arg UpdateSheetResultParams) (Sheet, error) {
	row := q.db.QueryRow(ctx, updateSheetResult,
		arg.ID,
		arg.HeaderRowIndex,
		arg.Reliable,
		arg.Headers,
		arg.RowCount,
		arg.Status,
		arg.TableName,
	)
	return scanSheet(row)
}

const getSheet = `SELECT ` + sheetColumns + ` FROM sheets WHERE id = $1`

func (q *Queries) GetSheet(ctx context.Context, id int64) (Sheet, error) {
	return scanSheet(q.db.QueryRow(ctx, getSheet, id))
}

const listSheetsByWorkbook = `SELECT ` + sheetColumns + ` FROM sheets
WHERE workbook_id = $1
ORDER BY sheet_index`

func (q *Queries) ListSheetsByWorkbook(ctx context.Context, workbookID int64) ([]Sheet, error) {
	rows, err := q.db.Query(ctx, listSheetsByWorkbook, workbookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Sheet
	for rows.Next() {
		i, err := scanSheet(rows)
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

const sumOtherSheetRows = `SELECT COALESCE(SUM(row_count), 0)::BIGINT FROM sheets
WHERE workbook_id = $1 AND id <> $2`

// SumOtherSheetRows returns the rows held by the workbook's other sheets.
func (q *Queries) SumOtherSheetRows(ctx context.Context, workbookID, sheetID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, sumOtherSheetRows, workbookID, sheetID).Scan(&n)
	return n, err
}

const adjustSheetRowCount = `UPDATE sheets SET row_count = row_count + $2, updated_at = NOW() WHERE id = $1`

// AdjustSheetRowCount adds delta to the stored row count after a single row
// is created or deleted.
func (q *Queries) AdjustSheetRowCount(ctx context.Context, sheetID, delta int64) error {
	_, err := q.db.Exec(ctx, adjustSheetRowCount, sheetID, delta)
	return err
}
