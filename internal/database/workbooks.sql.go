package database

import (
	"context"
)

const workbookColumns = `id, file_name, content_type, size_bytes, sheet_count, total_rows, status, storage_mode, uploaded_at`

func scanWorkbook(row interface{ Scan(...any) error }) (Workbook, error) {
	var i Workbook
	err := row.Scan(
		&i.ID,
		&i.FileName,
		&i.ContentType,
		&i.SizeBytes,
		&i.SheetCount,
		&i.TotalRows,
		&i.Status,
		&i.StorageMode,
		&i.UploadedAt,
	)
	return i, err
}

const createWorkbook = `INSERT INTO workbooks (file_name, content_type, size_bytes, sheet_count, status, storage_mode)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + workbookColumns

type CreateWorkbookParams struct {
	FileName    string
	ContentType string
	SizeBytes   int64
	SheetCount  int32
	Status      string
	StorageMode string
}

func (q *Queries) CreateWorkbook(ctx context.Context, arg CreateWorkbookParams) (Workbook, error) {
	row := q.db.QueryRow(ctx, createWorkbook,
		arg.FileName,
		arg.ContentType,
		arg.SizeBytes,
		arg.SheetCount,
		arg.Status,
		arg.StorageMode,
	)
	return scanWorkbook(row)
}

const saveWorkbookFile = `INSERT INTO workbook_files (workbook_id, content) VALUES ($1, $2)
ON CONFLICT (workbook_id) DO UPDATE SET content = EXCLUDED.content`

func (q *Queries) SaveWorkbookFile(ctx context.Context, workbookID int64, content []byte) error {
	_, err := q.db.Exec(ctx, saveWorkbookFile, workbookID, content)
	return err
}

const getWorkbookFile = `SELECT content FROM workbook_files WHERE workbook_id = $1`

func (q *Queries) GetWorkbookFile(ctx context.Context, workbookID int64) ([]byte, error) {
	row := q.db.QueryRow(ctx, getWorkbookFile, workbookID)
	var content []byte
	err := row.Scan(&content)
	return content, err
}

const getWorkbook = `SELECT ` + workbookColumns + ` FROM workbooks WHERE id = $1`

func (q *Queries) GetWorkbook(ctx context.Context, id int64) (Workbook, error) {
	return scanWorkbook(q.db.QueryRow(ctx, getWorkbook, id))
}

const listWorkbooks = `SELECT ` + workbookColumns + ` FROM workbooks
ORDER BY uploaded_at DESC, id DESC
LIMIT $1 OFFSET $2`

type ListWorkbooksParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListWorkbooks(ctx context.Context, arg ListWorkbooksParams) ([]Workbook, error) {
	rows, err := q.db.Query(ctx, listWorkbooks, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Workbook
	for rows.Next() {
		i, err := scanWorkbook(rows)
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

const updateWorkbookTotals = `UPDATE workbooks w
SET total_rows = COALESCE((SELECT SUM(s.row_count) FROM sheets s WHERE s.workbook_id = w.id), 0),
    status = $2
WHERE w.id = $1
RETURNING ` + workbookColumns

type UpdateWorkbookTotalsParams struct {
	ID     int64
	Status string
}

// UpdateWorkbookTotals recomputes total_rows from the sheets and sets status.
func (q *Queries) UpdateWorkbookTotals(ctx context.Context, arg UpdateWorkbookTotalsParams) (Workbook, error) {
	return scanWorkbook(q.db.QueryRow(ctx, updateWorkbookTotals, arg.ID, arg.Status))
}

const deleteWorkbook = `DELETE FROM workbooks WHERE id = $1`

// DeleteWorkbook removes the workbook; sheets, rows, history and mappings cascade.
func (q *Queries) DeleteWorkbook(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteWorkbook, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
