package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/logging"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// Reprocess re-runs one sheet from header extraction with a caller-chosen
// header row and the sheet's current mapping definition.
//
// The sheet's history and rows (or its typed table) are deleted and the
// pipeline runs again in the same transaction, so a failure leaves the
// previous data in place. The row budget is what the workbook's other sheets
// leave free. The sheet is serialized with an in-process lock and a
// transaction-scoped advisory lock, so concurrent reprocess calls on the same
// sheet never interleave their delete and insert phases.
func (s *Service) Reprocess(ctx context.Context, sheetID int64, headerRowIndex int) (*ReprocessResult, error) {
	start := time.Now()
	if headerRowIndex < 0 {
		return nil, fmt.Errorf("%w: row %d", ErrInvalidHeaderRow, headerRowIndex)
	}

	unlock := s.locks.lock(sheetID)
	defer unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	store := s.newTxStore(tx)
	q := store.Queries
	if err := q.AdvisoryXactLock(ctx, sheetID); err != nil {
		return nil, fmt.Errorf("lock sheet: %w", err)
	}

	sheet, err := q.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	wb, err := q.GetWorkbook(ctx, sheet.WorkbookID)
	if err != nil {
		return nil, notFound(err, ErrWorkbookNotFound)
	}
	data, err := q.GetWorkbookFile(ctx, wb.ID)
	if err != nil {
		return nil, fmt.Errorf("load workbook file: %w", err)
	}
	opener, err := ingest.Detect(wb.FileName, data, s.opts.Reader)
	if err != nil {
		return nil, err
	}
	def, err := loadMapping(ctx, q, sheetID)
	if err != nil {
		return nil, err
	}

	logger := logging.ForIngest(ctx, wb.ID, wb.FileName).With("sheet_id", sheetID)
	logger.Info("reprocess started", "sheet", sheet.Name, "header_row", headerRowIndex)

	if _, err := q.DeleteSheetHistory(ctx, sheetID); err != nil {
		return nil, fmt.Errorf("delete history: %w", err)
	}
	deleted, err := q.DeleteSheetRows(ctx, sheetID)
	if err != nil {
		return nil, fmt.Errorf("delete rows: %w", err)
	}
	if sheet.TableName.Valid {
		if err := s.schema.DropTable(ctx, tx, sheet.TableName.String); err != nil {
			return nil, err
		}
		deleted += sheet.RowCount
	}

	others, err := q.SumOtherSheetRows(ctx, wb.ID, sheetID)
	if err != nil {
		return nil, fmt.Errorf("count workbook rows: %w", err)
	}
	budget := ingest.NewRowBudget(s.opts.MaxRows, others)
	report := &ingest.Report{}

	mode := StorageMode(wb.StorageMode)
	tableName := ""
	if mode == ModeTable {
		tableName, err = reprocessTableName(ctx, q, wb.ID, sheet)
		if err != nil {
			return nil, err
		}
	}

	out, table, err := s.runSheet(ctx, sheetRun{
		store:  store,
		opener: opener,
		sheet:  sheet,
		plan: ingest.SheetPlan{
			Index:     int(sheet.SheetIndex),
			Name:      sheet.Name,
			HeaderRow: &headerRowIndex,
			Mapping:   def,
		},
		mode:      mode,
		tableName: tableName,
		budget:    budget,
		report:    report,
		logger:    logger,
	})
	if err != nil {
		logger.Error("reprocess failed", "error", err)
		return nil, err
	}

	stored, err := q.UpdateSheetResult(ctx, sheetResultParams(sheetID, out, StatusReprocessed, table))
	if err != nil {
		return nil, fmt.Errorf("update sheet: %w", err)
	}

	siblings, err := q.ListSheetsByWorkbook(ctx, wb.ID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	statuses := make([]string, len(siblings))
	for i, sh := range siblings {
		statuses[i] = sh.Status
	}
	final, err := q.UpdateWorkbookTotals(ctx, database.UpdateWorkbookTotalsParams{
		ID:     wb.ID,
		Status: processedStatus(statuses),
	})
	if err != nil {
		return nil, fmt.Errorf("update workbook totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	result := &ReprocessResult{
		Sheet:          toSheetResult(stored, out),
		WorkbookID:     wb.ID,
		WorkbookStatus: final.Status,
		Outcome:        OutcomeSuccess,
		RowsIngested:   out.Rows,
		RowsDeleted:    deleted,
		Issues:         issuesFrom(report),
		Duration:       time.Since(start),
	}
	if len(result.Issues) > 0 {
		result.Outcome = OutcomePartial
	}

	logger.Info("reprocess finished",
		"rows", out.Rows,
		"deleted", deleted,
		"issues", len(result.Issues),
		"workbook_status", final.Status,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// reprocessTableName keeps the sheet's table name, or picks a fresh one that
// no sibling sheet uses when the sheet never had a table.
func reprocessTableName(ctx context.Context, q *database.Queries, workbookID int64, sheet database.Sheet) (string, error) {
	if sheet.TableName.Valid && sheet.TableName.String != "" {
		return sheet.TableName.String, nil
	}

	siblings, err := q.ListSheetsByWorkbook(ctx, workbookID)
	if err != nil {
		return "", fmt.Errorf("list sheets: %w", err)
	}
	name := schema.TableName(workbookID, sheet.Name)
	for _, sh := range siblings {
		if sh.ID != sheet.ID && sh.TableName.String == name {
			return schema.WithSuffix(name, int(sheet.SheetIndex)), nil
		}
	}
	return name, nil
}

// processedStatus is the workbook state after a reprocess: NEEDS_VALIDATION
// while a sheet still waits for its header, FAILED when nothing is stored,
// PROCESSED otherwise.
func processedStatus(statuses []string) string {
	failed := 0
	for _, st := range statuses {
		switch st {
		case StatusNeedsValidation:
			return WorkbookNeedsValidation
		case StatusFailed:
			failed++
		}
	}
	if len(statuses) > 0 && failed == len(statuses) {
		return WorkbookFailed
	}
	return WorkbookProcessed
}
