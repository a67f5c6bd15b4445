package web

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/logging"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxSheetNameLen is Excel's limit on worksheet names.
const maxSheetNameLen = 31

// handleExportSheet downloads a stored sheet as xlsx, or as csv with
// ?format=csv.
func (s *Server) handleExportSheet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		s.respondError(w, r, badRequest("format must be xlsx or csv"))
		return
	}

	exp, err := s.service.ExportSheet(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	base := schema.SanitizeIdentifier(exp.Sheet.Name)
	if base == "" {
		base = fmt.Sprintf("sheet_%d", exp.Sheet.ID)
	}
	filename := fmt.Sprintf("%s_%s.%s", base, timestamp, format)

	contentType := xlsxContentType
	write := writeXLSX
	if format == "csv" {
		contentType = "text/csv"
		write = writeCSV
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	// Headers are sent once the body starts, so failures are only logged.
	if err := write(w, exp); err != nil {
		logging.FromContext(r.Context()).Error("export failed", "sheet_id", id, "format", format, "error", err)
	}
}

// writeXLSX streams the grid into a single-sheet workbook.
func writeXLSX(w io.Writer, exp *core.SheetExport) error {
	f := excelize.NewFile()
	defer f.Close()

	name := xlsxSheetName(exp.Sheet.Name)
	if name != "Sheet1" {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	}

	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	if err := sw.SetRow("A1", cellValues(exp.Columns)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range exp.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cellValues(row)); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}

func writeCSV(w io.Writer, exp *core.SheetExport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exp.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(exp.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func cellValues(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// xlsxSheetName makes name acceptable as a worksheet name: characters Excel
// forbids become "_" and the result is cut to 31 runes.
func xlsxSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if runes := []rune(name); len(runes) > maxSheetNameLen {
		name = string(runes[:maxSheetNameLen])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}
