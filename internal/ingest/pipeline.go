package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// SheetPlan describes one sheet pass. A nil HeaderRow asks the analyzer to
// find the header; a set value skips analysis.
type SheetPlan struct {
	Index     int
	Name      string
	HeaderRow *int
	Mapping   *MappingDefinition
}

// SheetOutcome is what a pass learned and wrote.
type SheetOutcome struct {
	Index    int            `json:"index"`
	Name     string         `json:"name"`
	Analysis LayoutAnalysis `json:"analysis"`
	Headers  []*string      `json:"headers"`
	Fields   []string       `json:"fields"`
	Rows     int            `json:"rows"`
	Skipped  int            `json:"skipped"`
	Stopped  bool           `json:"stopped"`
}

// NeedsValidation reports whether the header could not be resolved.
func (o SheetOutcome) NeedsValidation() bool {
	return !o.Analysis.Reliable || len(o.Headers) == 0
}

// Pipeline runs the per-sheet passes.
type Pipeline struct {
	Analyzer  *Analyzer
	BatchSize int
	Logger    *slog.Logger
}

// NewPipeline returns a pipeline with the given weights and batch size.
func NewPipeline(w Weights, batchSize int) *Pipeline {
	return &Pipeline{
		Analyzer:  NewAnalyzer(w),
		BatchSize: batchSize,
		Logger:    slog.Default(),
	}
}

// RunSheet analyzes (unless the plan fixes the header), extracts headers, and
// streams the data rows through fill, map, and persist. An unresolved header
// is not an error: the outcome reports NeedsValidation and nothing is written.
//
// Row conversion failures are recorded in report and skipped. Persistence
// failures are returned and must abort the enclosing transaction.
func (p *Pipeline) RunSheet(ctx context.Context, o Opener, plan SheetPlan, sink Sink, budget *RowBudget, report *Report) (SheetOutcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("sheet", plan.Name, "sheet_index", plan.Index)

	out := SheetOutcome{Index: plan.Index, Name: plan.Name, Analysis: Unresolved}

	if plan.HeaderRow == nil {
		analysis, err := p.Analyzer.AnalyzeSheet(ctx, o, plan.Index)
		if err != nil {
			return out, fmt.Errorf("analyze sheet %q: %w", plan.Name, err)
		}
		out.Analysis = analysis
		if !analysis.Reliable {
			logger.Info("header row not detected", "score", analysis.Score)
			report.Add(Issue{
				Kind:     KindLayoutDetection,
				Severity: SeverityWarning,
				Sheet:    plan.Name,
				Message:  "header row not detected, manual header selection required",
			})
			return out, nil
		}
	} else {
		out.Analysis = LayoutAnalysis{HeaderRowIndex: *plan.HeaderRow, Reliable: true}
	}

	headers, err := ExtractHeaders(ctx, o, plan.Index, out.Analysis.HeaderRowIndex)
	if err != nil {
		if errors.Is(err, ErrInvalidHeaderRow) {
			return out, NewError(KindLayoutDetection, plan.Name, out.Analysis.HeaderRowIndex+1, err)
		}
		return out, fmt.Errorf("extract headers of %q: %w", plan.Name, err)
	}
	out.Headers = headers

	mapper := NewMapper(headers, plan.Mapping)
	out.Fields = mapper.Fields()

	persister := NewPersister(sink, p.BatchSize, budget, report, plan.Name)
	state := FillState{}
	start := out.Analysis.DataStartRowIndex()

	err = walk(ctx, o, plan.Index, func(idx int, cells Cells) error {
		if idx < start || blankIn(cells, headers) {
			return nil
		}

		var filled Cells
		state, filled = state.Fill(cells, headers)

		rec, err := mapper.Map(idx+1, filled)
		if err != nil {
			out.Skipped++
			logger.Warn("row conversion failed", "row", idx+1, "error", err)
			report.Add(Issue{
				Kind:     KindRowConversion,
				Severity: SeverityError,
				Sheet:    plan.Name,
				Row:      idx + 1,
				Message:  err.Error(),
			})
			return nil
		}
		if rec.Len() == 0 {
			return nil
		}

		if err := persister.Add(ctx, rec); err != nil {
			if errors.Is(err, ErrRowLimitExceeded) {
				out.Stopped = true
				return ErrStop
			}
			return err
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	if err := persister.Close(ctx); err != nil {
		return out, err
	}
	out.Rows = persister.Written()

	logger.Debug("sheet processed",
		"header_row", out.Analysis.HeaderRowIndex,
		"rows", out.Rows,
		"skipped", out.Skipped,
		"batches", persister.Flushes(),
		"stopped", out.Stopped,
	)
	return out, nil
}

// blankIn reports whether every labelled column of the row is blank. Such rows
// are skipped before filling so trailing empty rows do not repeat the last values.
func blankIn(cells Cells, headers []*string) bool {
	for col, h := range headers {
		if h == nil {
			continue
		}
		if v, ok := cells[col]; ok && strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
