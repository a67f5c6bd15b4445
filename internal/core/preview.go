package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/logging"
)

// PreviewRowLimit caps the rows read per sheet for typing and profiling.
const PreviewRowLimit = 1000

// Preview analyzes a workbook without storing anything. Each sheet reports
// its detected header, a sample of records, the inferred column types, a
// numeric profile and the templates whose sources match its headers.
func (s *Service) Preview(ctx context.Context, data []byte, fileName string) (*PreviewResponse, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), s.opts.MaxFileSize)
	}

	opener, err := ingest.Detect(fileName, data, s.opts.Reader)
	if err != nil {
		return nil, err
	}

	p := *s.pipeline
	p.Logger = logging.WithFields(ctx, "file", fileName, "preview", true)
	resp, err := PreviewWorkbook(ctx, &p, opener, fileName)
	if err != nil {
		return nil, err
	}

	if s.pool == nil {
		return resp, nil
	}
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		p.Logger.Warn("template matching skipped", "error", err)
		return resp, nil
	}
	for i := range resp.Sheets {
		resp.Sheets[i].Matches = matchTemplates(templates, resp.Sheets[i].Headers)
	}
	return resp, nil
}

// PreviewWorkbook runs every sheet of opener through p with an in-memory
// sink. It needs no database and backs both Preview and the CLI.
func PreviewWorkbook(ctx context.Context, p *ingest.Pipeline, opener ingest.Opener, fileName string) (*PreviewResponse, error) {
	start := time.Now()

	names, err := ingest.SheetNames(opener)
	if err != nil {
		return nil, err
	}

	report := &ingest.Report{}
	resp := &PreviewResponse{FileName: fileName, Sheets: make([]SheetPreview, 0, len(names))}

	for i, name := range names {
		var (
			records []ingest.Record
			inf     = ingest.NewOpenInferrer()
		)
		sink := ingest.SinkFunc(func(_ context.Context, batch []ingest.Record) error {
			for _, rec := range batch {
				inf.Observe(rec)
				records = append(records, ingest.Record{Row: rec.Row, Fields: append([]ingest.Field(nil), rec.Fields...)})
			}
			return nil
		})

		scratch := &ingest.Report{}
		budget := ingest.NewRowBudget(PreviewRowLimit, 0)
		out, err := p.RunSheet(ctx, opener, ingest.SheetPlan{Index: i, Name: name}, sink, budget, scratch)
		if err != nil {
			return nil, err
		}
		for _, is := range scratch.Issues() {
			if is.Kind != ingest.KindRowLimitExceeded {
				report.Add(is)
			}
		}

		fields := out.Fields
		if fields == nil {
			fields = []string{}
		}
		sample := records
		if len(sample) > PreviewSampleSize {
			sample = sample[:PreviewSampleSize]
		}
		if sample == nil {
			sample = []ingest.Record{}
		}

		resp.Sheets = append(resp.Sheets, SheetPreview{
			Index:    i,
			Name:     name,
			Analysis: out.Analysis,
			Headers:  ingest.Labels(out.Headers),
			Fields:   fields,
			Sample:   sample,
			Schema:   inf.SchemaFor(fields),
			Profile:  ingest.Profile(fields, records),
		})
	}

	resp.Issues = issuesFrom(report)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}
