package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/logging"
)

// History operations.
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// rowWriter is the part of the query layer single-row edits use.
type rowWriter interface {
	AdvisoryXactLock(ctx context.Context, key int64) error
	GetSheet(ctx context.Context, id int64) (database.Sheet, error)
	GetWorkbook(ctx context.Context, id int64) (database.Workbook, error)
	NextRowNumber(ctx context.Context, sheetID int64) (int32, error)
	InsertRow(ctx context.Context, arg database.InsertRowParams) (database.SheetRow, error)
	GetRow(ctx context.Context, id int64) (database.SheetRow, error)
	GetRowForUpdate(ctx context.Context, id int64) (database.SheetRow, error)
	DeleteRow(ctx context.Context, id int64) (int64, error)
	InsertRowHistory(ctx context.Context, arg database.InsertRowHistoryParams) (database.RowHistory, error)
	AdjustSheetRowCount(ctx context.Context, sheetID, delta int64) error
	UpdateWorkbookTotals(ctx context.Context, arg database.UpdateWorkbookTotalsParams) (database.Workbook, error)
}

var _ rowWriter = (*database.Queries)(nil)

// GetRow returns one stored row.
func (s *Service) GetRow(ctx context.Context, rowID int64) (*Row, error) {
	row, err := s.queries.GetRow(ctx, rowID)
	if err != nil {
		return nil, notFound(err, ErrRowNotFound)
	}
	out := toRow(row)
	return &out, nil
}

// CreateRow appends a row to a rows-mode sheet and records a CREATE history
// entry. The row is numbered after the sheet's last row.
func (s *Service) CreateRow(ctx context.Context, sheetID int64, fields map[string]string) (*Row, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := createRow(ctx, s.queries.WithTx(tx), sheetID, fields)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	logging.FromContext(ctx).Info("row created", "sheet_id", sheetID, "row_id", row.ID)
	out := toRow(row)
	return &out, nil
}

// DeleteRow removes a stored row and records a DELETE history entry holding
// its last data. The history survives the row.
func (s *Service) DeleteRow(ctx context.Context, rowID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sheetID, err := deleteRow(ctx, s.queries.WithTx(tx), rowID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logging.FromContext(ctx).Info("row deleted", "sheet_id", sheetID, "row_id", rowID)
	return nil
}

func createRow(ctx context.Context, q rowWriter, sheetID int64, fields map[string]string) (database.SheetRow, error) {
	// Same key as reprocess, so a new row never lands mid-reprocess.
	if err := q.AdvisoryXactLock(ctx, sheetID); err != nil {
		return database.SheetRow{}, fmt.Errorf("lock sheet: %w", err)
	}
	sheet, err := q.GetSheet(ctx, sheetID)
	if err != nil {
		return database.SheetRow{}, notFound(err, ErrSheetNotFound)
	}
	if sheet.TableName.Valid && sheet.TableName.String != "" {
		return database.SheetRow{}, ErrNotRowsMode
	}

	data, err := mergeRowData(nil, fields)
	if err != nil {
		return database.SheetRow{}, err
	}
	number, err := q.NextRowNumber(ctx, sheetID)
	if err != nil {
		return database.SheetRow{}, fmt.Errorf("next row number: %w", err)
	}
	row, err := q.InsertRow(ctx, database.InsertRowParams{SheetID: sheetID, RowNumber: number, Data: data})
	if err != nil {
		return database.SheetRow{}, fmt.Errorf("insert row: %w", err)
	}
	if _, err := q.InsertRowHistory(ctx, database.InsertRowHistoryParams{
		RowID:     row.ID,
		SheetID:   sheetID,
		Operation: OpCreate,
		NewData:   data,
	}); err != nil {
		return database.SheetRow{}, fmt.Errorf("record history: %w", err)
	}
	if err := adjustRowCount(ctx, q, sheet, 1); err != nil {
		return database.SheetRow{}, err
	}
	return row, nil
}

func deleteRow(ctx context.Context, q rowWriter, rowID int64) (int64, error) {
	// Sheet lock before row lock, the order reprocess takes them in.
	found, err := q.GetRow(ctx, rowID)
	if err != nil {
		return 0, notFound(err, ErrRowNotFound)
	}
	if err := q.AdvisoryXactLock(ctx, found.SheetID); err != nil {
		return 0, fmt.Errorf("lock sheet: %w", err)
	}
	current, err := q.GetRowForUpdate(ctx, rowID)
	if err != nil {
		return 0, notFound(err, ErrRowNotFound)
	}
	sheet, err := q.GetSheet(ctx, current.SheetID)
	if err != nil {
		return 0, notFound(err, ErrSheetNotFound)
	}

	if _, err := q.InsertRowHistory(ctx, database.InsertRowHistoryParams{
		RowID:     rowID,
		SheetID:   current.SheetID,
		Operation: OpDelete,
		OldData:   current.Data,
	}); err != nil {
		return 0, fmt.Errorf("record history: %w", err)
	}
	n, err := q.DeleteRow(ctx, rowID)
	if err != nil {
		return 0, fmt.Errorf("delete row: %w", err)
	}
	if n == 0 {
		return 0, ErrRowNotFound
	}
	if err := adjustRowCount(ctx, q, sheet, -1); err != nil {
		return 0, err
	}
	return current.SheetID, nil
}

// adjustRowCount keeps the sheet and workbook totals in step with a single
// row edit. The workbook status is left as it is.
func adjustRowCount(ctx context.Context, q rowWriter, sheet database.Sheet, delta int64) error {
	if err := q.AdjustSheetRowCount(ctx, sheet.ID, delta); err != nil {
		return fmt.Errorf("update sheet row count: %w", err)
	}
	wb, err := q.GetWorkbook(ctx, sheet.WorkbookID)
	if err != nil {
		return notFound(err, ErrWorkbookNotFound)
	}
	if _, err := q.UpdateWorkbookTotals(ctx, database.UpdateWorkbookTotalsParams{ID: wb.ID, Status: wb.Status}); err != nil {
		return fmt.Errorf("update workbook totals: %w", err)
	}
	return nil
}

func validateFields(fields map[string]string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidRowUpdate)
	}
	for name := range fields {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: field name is required", ErrInvalidRowUpdate)
		}
	}
	return nil
}

// UpdateRow sets fields on a stored row and records an UPDATE history entry
// with the old and new data. Unknown fields are appended. A change that
// leaves the data as it was writes nothing.
func (s *Service) UpdateRow(ctx context.Context, rowID int64, fields map[string]string) (*Row, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := s.queries.WithTx(tx)
	current, err := q.GetRowForUpdate(ctx, rowID)
	if err != nil {
		return nil, notFound(err, ErrRowNotFound)
	}

	next, err := mergeRowData(current.Data, fields)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(next, current.Data) {
		out := toRow(current)
		return &out, nil
	}

	updated, err := q.UpdateRowData(ctx, rowID, next)
	if err != nil {
		return nil, fmt.Errorf("update row: %w", err)
	}
	if _, err := q.InsertRowHistory(ctx, database.InsertRowHistoryParams{
		RowID:     rowID,
		SheetID:   current.SheetID,
		Operation: OpUpdate,
		OldData:   current.Data,
		NewData:   next,
	}); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	out := toRow(updated)
	return &out, nil
}

// RowHistory returns the modifications of a row, oldest first.
func (s *Service) RowHistory(ctx context.Context, rowID int64) ([]HistoryEntry, error) {
	rows, err := s.queries.ListRowHistory(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}

	out := make([]HistoryEntry, len(rows))
	for i, h := range rows {
		out[i] = toHistory(h)
	}
	return out, nil
}

// mergeRowData applies fields to stored row JSON, keeping the stored field
// order and appending new fields in name order.
func mergeRowData(data []byte, fields map[string]string) ([]byte, error) {
	var rec ingest.Record
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec.Set(strings.TrimSpace(name), fields[name])
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return out, nil
}
