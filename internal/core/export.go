package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// exportPageSize is the page size used to read typed tables for export.
const exportPageSize = 1000

// SheetExport is a stored sheet flattened into a grid for download.
type SheetExport struct {
	Sheet   Sheet
	Columns []string
	Rows    [][]string
}

// ExportSheet returns every stored row of a sheet as a grid. Rows-mode
// columns follow the mapped header order, with fields added after ingest
// appended by name. Table-mode columns are the table's own columns.
func (s *Service) ExportSheet(ctx context.Context, sheetID int64) (*SheetExport, error) {
	sh, err := s.queries.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, notFound(err, ErrSheetNotFound)
	}
	out := &SheetExport{Sheet: toSheet(sh)}

	if sh.TableName.Valid && sh.TableName.String != "" {
		if s.tables == nil {
			return nil, errNoTableReader
		}
		out.Columns, out.Rows, err = readTable(ctx, s.tables, sh.TableName.String)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	def, err := loadMapping(ctx, s.queries, sheetID)
	if err != nil {
		return nil, err
	}
	rows, err := s.queries.ListSheetRows(ctx, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	records := make([]ingest.Record, len(rows))
	for i, r := range rows {
		if err := json.Unmarshal(r.Data, &records[i]); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", r.ID, err)
		}
	}

	fields := ingest.NewMapper(ingest.HeadersFromLabels(decodeHeaders(sh.Headers)), def).Fields()
	out.Columns, out.Rows = recordGrid(fields, records)
	return out, nil
}

// recordGrid lays records out under fields. Record fields missing from
// fields become extra columns in name order; absent values are "".
func recordGrid(fields []string, records []ingest.Record) ([]string, [][]string) {
	pos := make(map[string]int, len(fields))
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := pos[f]; !ok {
			pos[f] = len(columns)
			columns = append(columns, f)
		}
	}

	var extra []string
	for _, rec := range records {
		for _, f := range rec.Fields {
			if _, ok := pos[f.Name]; !ok {
				pos[f.Name] = -1
				extra = append(extra, f.Name)
			}
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		pos[name] = len(columns)
		columns = append(columns, name)
	}

	grid := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for _, f := range rec.Fields {
			row[pos[f.Name]] = f.Value
		}
		grid[i] = row
	}
	return columns, grid
}

// readTable pages through a typed table. The surrogate key is left out.
func readTable(ctx context.Context, tables TableReader, name string) ([]string, [][]string, error) {
	var (
		columns []string
		grid    [][]string
	)
	for offset := 0; ; offset += exportPageSize {
		page, err := tables.Rows(ctx, name, exportPageSize, offset)
		if err != nil {
			return nil, nil, err
		}
		if columns == nil {
			columns = make([]string, 0, len(page.Columns))
			for _, c := range page.Columns {
				if c != schema.PrimaryKey {
					columns = append(columns, c)
				}
			}
		}
		for _, m := range page.Rows {
			row := make([]string, len(columns))
			for i, c := range columns {
				row[i] = formatCell(m[c])
			}
			grid = append(grid, row)
		}
		if len(page.Rows) < exportPageSize {
			return columns, grid, nil
		}
	}
}

// formatCell renders a table value as spreadsheet text.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(val)
	}
}
