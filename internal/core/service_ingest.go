package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetingest/internal/database"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/logging"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// Ingest stores a workbook and every sheet in it inside one transaction.
//
// The format is checked before anything is written. A sheet whose header
// cannot be detected is stored as NEEDS_VALIDATION without rows. A sheet
// whose typed table cannot be created is rolled back to its savepoint and
// marked FAILED while the other sheets continue. Any other failure rolls
// back the whole workbook and is returned together with a failed result.
func (s *Service) Ingest(ctx context.Context, data []byte, fileName string, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{FileName: fileName, Issues: []Issue{}, Sheets: []SheetResult{}}
	report := &ingest.Report{}

	// fail reports a hard failure. Nothing was committed, so the result
	// carries no workbook id.
	fail := func(err error) (*IngestResult, error) {
		if _, ok := ingest.KindOf(err); ok {
			report.AddError(err)
		}
		msg := MapError(err)
		result.WorkbookID = 0
		result.Sheets = []SheetResult{}
		result.RowsIngested = 0
		result.Status = WorkbookFailed
		result.Outcome = OutcomeFailed
		result.Issues = issuesFrom(report)
		result.Error = &msg
		result.Duration = time.Since(start)
		return result, err
	}

	mode, err := ParseStorageMode(string(opts.Mode), s.opts.StorageMode)
	if err != nil {
		return fail(err)
	}
	result.Mode = mode

	if len(data) == 0 {
		return fail(ErrEmptyFile)
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return fail(fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.opts.MaxFileSize))
	}

	opener, err := ingest.Detect(fileName, data, s.opts.Reader)
	if err != nil {
		return fail(err)
	}
	names, err := ingest.SheetNames(opener)
	if err != nil {
		return fail(err)
	}

	var def *ingest.MappingDefinition
	if opts.TemplateID != "" {
		tpl, err := s.GetTemplate(ctx, opts.TemplateID)
		if err != nil {
			return fail(err)
		}
		def = tpl.Definition()
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return fail(err)
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	store := s.newTxStore(tx)
	wb, err := store.CreateWorkbook(ctx, database.CreateWorkbookParams{
		FileName:    fileName,
		ContentType: contentType(fileName),
		SizeBytes:   int64(len(data)),
		SheetCount:  int32(len(names)),
		Status:      WorkbookProcessing,
		StorageMode: string(mode),
	})
	if err != nil {
		return fail(fmt.Errorf("create workbook: %w", err))
	}
	if err := store.SaveWorkbookFile(ctx, wb.ID, data); err != nil {
		return fail(fmt.Errorf("save workbook file: %w", err))
	}

	logger := logging.ForIngest(ctx, wb.ID, fileName)
	logger.Info("ingest started", "sheets", len(names), "mode", mode, "bytes", len(data))

	err = s.ingestSheets(ctx, workbookRun{
		store:      store,
		workbookID: wb.ID,
		opener:     opener,
		names:      names,
		mode:       mode,
		def:        def,
		report:     report,
		logger:     logger,
	}, result)
	if err != nil {
		return fail(err)
	}

	status := workbookStatus(result.Sheets)
	final, err := store.UpdateWorkbookTotals(ctx, database.UpdateWorkbookTotalsParams{ID: wb.ID, Status: status})
	if err != nil {
		return fail(fmt.Errorf("update workbook totals: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}

	result.WorkbookID = final.ID
	result.Status = final.Status
	result.Issues = issuesFrom(report)
	result.Outcome = outcome(result.Sheets, report)
	result.Duration = time.Since(start)

	logger.Info("ingest finished",
		"status", result.Status,
		"outcome", result.Outcome,
		"rows", result.RowsIngested,
		"issues", len(result.Issues),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// workbookRun is the state shared by the sheets of one ingest.
type workbookRun struct {
	store      sheetStore
	workbookID int64
	opener     ingest.Opener
	names      []string
	mode       StorageMode
	def        *ingest.MappingDefinition
	report     *ingest.Report
	logger     *slog.Logger
}

// ingestSheets runs every sheet in order against one workbook-wide row
// budget and appends a result per sheet. Each sheet runs in its own
// savepoint. Once the budget is spent the remaining sheets are stored as
// UNPROCESSED. A returned error aborts the workbook.
func (s *Service) ingestSheets(ctx context.Context, r workbookRun, result *IngestResult) error {
	budget := ingest.NewRowBudget(s.opts.MaxRows, 0)
	usedTables := make(map[string]bool)

	for i, name := range r.names {
		sheet, err := r.store.CreateSheet(ctx, database.CreateSheetParams{
			WorkbookID: r.workbookID,
			SheetIndex: int32(i),
			Name:       name,
			Status:     StatusUnprocessed,
		})
		if err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}

		// Each sheet owns its copy of the template rules.
		def := r.def.Clone()
		if def != nil {
			if err := r.store.UpsertMapping(ctx, sheet.ID, def); err != nil {
				return fmt.Errorf("apply template to sheet %q: %w", name, err)
			}
		}

		tableName := ""
		if r.mode == ModeTable {
			tableName = schema.TableName(r.workbookID, name)
			if usedTables[tableName] {
				tableName = schema.WithSuffix(tableName, i)
			}
			usedTables[tableName] = true
		}

		run := sheetRun{
			store:     r.store,
			opener:    r.opener,
			sheet:     sheet,
			plan:      ingest.SheetPlan{Index: i, Name: name, Mapping: def},
			mode:      r.mode,
			tableName: tableName,
			budget:    budget,
			report:    r.report,
			logger:    r.logger,
		}

		var (
			out   ingest.SheetOutcome
			table string
		)
		err = r.store.Savepoint(ctx, fmt.Sprintf("sp_%d", i), func() error {
			var err error
			out, table, err = s.runSheet(ctx, run)
			return err
		})

		status := sheetStatus(out, err)
		if err != nil && status != StatusFailed {
			r.logger.Error("ingest aborted", "sheet", name, "error", err)
			return err
		}
		if err != nil {
			r.logger.Error("sheet failed", "sheet", name, "error", err)
			r.report.AddError(err)
			out.Rows = 0
			table = ""
		}

		stored, err := r.store.UpdateSheetResult(ctx, sheetResultParams(sheet.ID, out, status, table))
		if err != nil {
			return fmt.Errorf("update sheet %q: %w", name, err)
		}
		result.Sheets = append(result.Sheets, toSheetResult(stored, out))
		result.RowsIngested += int64(out.Rows)

		if budget.Exceeded() {
			for j := i + 1; j < len(r.names); j++ {
				skipped, err := r.store.CreateSheet(ctx, database.CreateSheetParams{
					WorkbookID: r.workbookID,
					SheetIndex: int32(j),
					Name:       r.names[j],
					Status:     StatusUnprocessed,
				})
				if err != nil {
					return fmt.Errorf("create sheet %q: %w", r.names[j], err)
				}
				result.Sheets = append(result.Sheets, toSheetResult(skipped, ingest.SheetOutcome{Index: j, Name: r.names[j], Analysis: ingest.Unresolved}))
			}
			return nil
		}
	}
	return nil
}

// sheetRun is everything one sheet pass needs inside the workbook transaction.
type sheetRun struct {
	store     sheetStore
	opener    ingest.Opener
	sheet     database.Sheet
	plan      ingest.SheetPlan
	mode      StorageMode
	tableName string
	budget    *ingest.RowBudget
	report    *ingest.Report
	logger    *slog.Logger
}

// runSheet persists one sheet in the run's storage mode and returns the
// outcome and, in table mode, the created table.
func (s *Service) runSheet(ctx context.Context, r sheetRun) (ingest.SheetOutcome, string, error) {
	p := *s.pipeline
	p.Logger = r.logger

	if r.mode == ModeTable {
		return s.runTableSheet(ctx, &p, r)
	}

	sink := ingest.SinkFunc(func(ctx context.Context, batch []ingest.Record) error {
		params, err := copyParams(r.sheet.ID, batch)
		if err != nil {
			return err
		}
		n, err := r.store.CopySheetRows(ctx, params)
		if err != nil {
			return err
		}
		r.logger.Debug("batch flushed", "sheet", r.plan.Name, "rows", n)
		return nil
	})

	out, err := p.RunSheet(ctx, r.opener, r.plan, sink, r.budget, r.report)
	if err != nil {
		return out, "", err
	}
	if out.Rows > 0 {
		if _, err := r.store.RecordCreateHistory(ctx, r.sheet.ID); err != nil {
			return out, "", ingest.NewError(ingest.KindPersistence, r.plan.Name, 0, fmt.Errorf("record history: %w", err))
		}
	}
	return out, "", nil
}

// runTableSheet makes two passes: the first infers column types without
// writing, the second inserts into the table created from them. The first
// pass uses a copy of the budget so both passes stop at the same row.
func (s *Service) runTableSheet(ctx context.Context, p *ingest.Pipeline, r sheetRun) (ingest.SheetOutcome, string, error) {
	inf := ingest.NewOpenInferrer()
	observe := ingest.SinkFunc(func(_ context.Context, batch []ingest.Record) error {
		for _, rec := range batch {
			inf.Observe(rec)
		}
		return nil
	})

	scratch := &ingest.Report{}
	trial := ingest.NewRowBudget(r.budget.Max(), r.budget.Used())
	first, err := p.RunSheet(ctx, r.opener, r.plan, observe, trial, scratch)
	if err != nil {
		return first, "", err
	}
	if first.NeedsValidation() {
		for _, is := range scratch.Issues() {
			r.report.Add(is)
		}
		return first, "", nil
	}

	table := schema.NewTable(r.tableName, inf.SchemaFor(first.Fields))
	if err := r.store.CreateTable(ctx, r.plan.Name, table); err != nil {
		return first, "", err
	}
	r.logger.Info("table created", "sheet", r.plan.Name, "table", table.Name, "columns", len(table.Columns))

	header := first.Analysis.HeaderRowIndex
	plan := r.plan
	plan.HeaderRow = &header

	insert := ingest.SinkFunc(func(ctx context.Context, batch []ingest.Record) error {
		if err := r.store.BulkInsert(ctx, table, batch); err != nil {
			return err
		}
		r.logger.Debug("batch flushed", "sheet", r.plan.Name, "table", table.Name, "rows", len(batch))
		return nil
	})

	out, err := p.RunSheet(ctx, r.opener, plan, insert, r.budget, r.report)
	out.Analysis = first.Analysis
	return out, table.Name, err
}

// copyParams encodes a batch for CopySheetRows.
func copyParams(sheetID int64, batch []ingest.Record) ([]database.CopySheetRowParams, error) {
	params := make([]database.CopySheetRowParams, len(batch))
	for i, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", rec.Row, err)
		}
		params[i] = database.CopySheetRowParams{
			SheetID:   sheetID,
			RowNumber: int32(rec.Row),
			Data:      data,
		}
	}
	return params, nil
}

// sheetStatus derives the stored state from a pass. Only schema creation
// failures leave the sheet FAILED while the workbook continues; other errors
// abort the ingest and the caller never stores the status.
func sheetStatus(out ingest.SheetOutcome, err error) string {
	if err != nil {
		if errors.Is(err, ingest.ErrSchemaCreation) {
			return StatusFailed
		}
		return ""
	}
	if out.NeedsValidation() {
		return StatusNeedsValidation
	}
	return StatusIngested
}

// workbookStatus is NEEDS_VALIDATION while any sheet waits for a header,
// FAILED when every sheet failed, and INGESTED otherwise.
func workbookStatus(sheets []SheetResult) string {
	failed := 0
	for _, sh := range sheets {
		switch sh.Status {
		case StatusNeedsValidation:
			return WorkbookNeedsValidation
		case StatusFailed:
			failed++
		}
	}
	if len(sheets) > 0 && failed == len(sheets) {
		return WorkbookFailed
	}
	return WorkbookIngested
}

// outcome is success when nothing was reported, failed when no sheet was
// stored, and partial otherwise.
func outcome(sheets []SheetResult, report *ingest.Report) Outcome {
	if workbookStatus(sheets) == WorkbookFailed {
		return OutcomeFailed
	}
	for _, sh := range sheets {
		if sh.Status != StatusIngested && sh.Status != StatusReprocessed {
			return OutcomePartial
		}
	}
	if len(report.Issues()) > 0 {
		return OutcomePartial
	}
	return OutcomeSuccess
}

func sheetResultParams(id int64, out ingest.SheetOutcome, status, table string) database.UpdateSheetResultParams {
	params := database.UpdateSheetResultParams{
		ID:        id,
		Reliable:  out.Analysis.Reliable,
		Headers:   encodeHeaders(out.Headers),
		RowCount:  int64(out.Rows),
		Status:    status,
		TableName: pgtype.Text{String: table, Valid: table != ""},
	}
	if out.Analysis.HeaderRowIndex >= 0 {
		params.HeaderRowIndex = pgtype.Int4{Int32: int32(out.Analysis.HeaderRowIndex), Valid: true}
	}
	return params
}

func toSheetResult(sh database.Sheet, out ingest.SheetOutcome) SheetResult {
	fields := out.Fields
	if fields == nil {
		fields = []string{}
	}
	return SheetResult{
		SheetID:        sh.ID,
		Index:          int(sh.SheetIndex),
		Name:           sh.Name,
		Status:         sh.Status,
		HeaderRowIndex: out.Analysis.HeaderRowIndex,
		Reliable:       out.Analysis.Reliable,
		Score:          out.Analysis.Score,
		Headers:        decodeHeaders(sh.Headers),
		Fields:         fields,
		Rows:           out.Rows,
		Skipped:        out.Skipped,
		TableName:      sh.TableName.String,
	}
}

func contentType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
