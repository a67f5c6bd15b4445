package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/logging"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// Page size bounds for list operations.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// errNoTableReader is returned by TableData when the service was built
// without a reader.
var errNoTableReader = errors.New("table reader not configured")

// clampPage applies the default and maximum page size and floors offset at 0.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetWorkbook returns a workbook with its sheets.
func (s *Service) GetWorkbook(ctx context.Context, id int64) (*WorkbookDetail, error) {
	q := s.queries
	wb, err := q.GetWorkbook(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrWorkbookNotFound)
	}
	sheets, err := q.ListSheetsByWorkbook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}

	out := &WorkbookDetail{Workbook: toWorkbook(wb), Sheets: make([]Sheet, len(sheets))}
	for i, sh := range sheets {
		out.Sheets[i] = toSheet(sh)
	}
	return out, nil
}

// ListWorkbooks returns workbooks, newest first.
func (s *Service) ListWorkbooks(ctx context.Context, limit, offset int) ([]Workbook, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.queries.ListWorkbooks(ctx, database.ListWorkbooksParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list workbooks: %w", err)
	}

	out := make([]Workbook, len(rows))
	for i, wb := range rows {
		out[i] = toWorkbook(wb)
	}
	return out, nil
}

// GetSheet returns one sheet.
func (s *Service) GetSheet(ctx context.Context, id int64) (*Sheet, error) {
	sh, err := s.queries.GetSheet(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	out := toSheet(sh)
	return &out, nil
}

// DeleteWorkbook removes a workbook. Sheets, rows, history and mappings go
// with it by cascade; typed tables are dropped in the same transaction.
func (s *Service) DeleteWorkbook(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := s.queries.WithTx(tx)
	sheets, err := q.ListSheetsByWorkbook(ctx, id)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, sh := range sheets {
		if err := q.AdvisoryXactLock(ctx, sh.ID); err != nil {
			return fmt.Errorf("lock sheet %d: %w", sh.ID, err)
		}
		if sh.TableName.Valid && sh.TableName.String != "" {
			if err := s.schema.DropTable(ctx, tx, sh.TableName.String); err != nil {
				return err
			}
		}
	}

	n, err := q.DeleteWorkbook(ctx, id)
	if err != nil {
		return fmt.Errorf("delete workbook: %w", err)
	}
	if n == 0 {
		return ErrWorkbookNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logging.FromContext(ctx).Info("workbook deleted", "workbook_id", id, "sheets", len(sheets))
	return nil
}

// ListRows returns one page of a rows-mode sheet.
func (s *Service) ListRows(ctx context.Context, sheetID int64, limit, offset int) (*RowPage, error) {
	limit, offset = clampPage(limit, offset)

	q := s.queries
	if _, err := q.GetSheet(ctx, sheetID); err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	total, err := q.CountRows(ctx, sheetID)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	rows, err := q.ListRows(ctx, database.ListRowsParams{
		SheetID: sheetID,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}

	page := &RowPage{Rows: make([]Row, len(rows)), Total: total, Limit: limit, Offset: offset}
	for i, r := range rows {
		page.Rows[i] = toRow(r)
	}
	return page, nil
}

// TableData returns one page of a table-mode sheet's typed table.
func (s *Service) TableData(ctx context.Context, sheetID int64, limit, offset int) (*schema.TableData, error) {
	limit, offset = clampPage(limit, offset)

	sh, err := s.queries.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	if !sh.TableName.Valid || sh.TableName.String == "" {
		return nil, ErrNotTableMode
	}
	if s.tables == nil {
		return nil, errNoTableReader
	}
	return s.tables.Rows(ctx, sh.TableName.String, limit, offset)
}
