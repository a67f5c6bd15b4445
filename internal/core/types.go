package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// StorageMode selects how records are persisted.
type StorageMode string

const (
	// ModeRows stores each record as a JSON object in sheet_rows.
	ModeRows StorageMode = "rows"
	// ModeTable creates one typed table per sheet.
	ModeTable StorageMode = "table"
)

// ParseStorageMode accepts "rows" or "table", case-insensitively. An empty
// string yields fallback.
func ParseStorageMode(s string, fallback StorageMode) (StorageMode, error) {
	switch StorageMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return fallback, nil
	case ModeRows:
		return ModeRows, nil
	case ModeTable:
		return ModeTable, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStorageMode, s)
	}
}

// Sheet states.
const (
	StatusUnprocessed     = "UNPROCESSED"
	StatusIngested        = "INGESTED"
	StatusNeedsValidation = "NEEDS_VALIDATION"
	StatusReprocessed     = "REPROCESSED"
	StatusFailed          = "FAILED"
)

// Workbook states. A workbook is PROCESSING only inside its ingest
// transaction and PROCESSED once every sheet has been ingested after a
// reprocess.
const (
	WorkbookProcessing      = "PROCESSING"
	WorkbookIngested        = "INGESTED"
	WorkbookNeedsValidation = "NEEDS_VALIDATION"
	WorkbookProcessed       = "PROCESSED"
	WorkbookFailed          = "FAILED"
)

// Outcome summarizes an ingest or reprocess for callers.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Issue is an engine issue with its support code.
type Issue struct {
	ingest.Issue
	Code string `json:"code"`
}

func issuesFrom(r *ingest.Report) []Issue {
	src := r.Issues()
	out := make([]Issue, len(src))
	for i, is := range src {
		out[i] = Issue{Issue: is, Code: IssueMessage(is.Kind).Code}
	}
	return out
}

// IngestOptions are the per-call choices of Ingest.
type IngestOptions struct {
	Mode       StorageMode
	TemplateID string
}

// SheetResult describes one sheet after an ingest or reprocess.
type SheetResult struct {
	SheetID        int64    `json:"sheetId"`
	Index          int      `json:"index"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	HeaderRowIndex int      `json:"headerRowIndex"`
	Reliable       bool     `json:"reliable"`
	Score          int      `json:"score"`
	Headers        []string `json:"headers"`
	Fields         []string `json:"fields"`
	Rows           int      `json:"rows"`
	Skipped        int      `json:"skipped"`
	TableName      string   `json:"tableName,omitempty"`
}

// IngestResult is the structured answer of Ingest. Outcome distinguishes
// full success, partial success with issues, and hard failure.
type IngestResult struct {
	WorkbookID   int64         `json:"workbookId"`
	FileName     string        `json:"fileName"`
	Mode         StorageMode   `json:"mode"`
	Status       string        `json:"status"`
	Outcome      Outcome       `json:"outcome"`
	Sheets       []SheetResult `json:"sheets"`
	Issues       []Issue       `json:"issues"`
	RowsIngested int64         `json:"rowsIngested"`
	Duration     time.Duration `json:"duration"`
	Error        *UserMessage  `json:"error,omitempty"`
}

// ReprocessResult is the answer of Reprocess.
type ReprocessResult struct {
	Sheet          SheetResult   `json:"sheet"`
	WorkbookID     int64         `json:"workbookId"`
	WorkbookStatus string        `json:"workbookStatus"`
	Outcome        Outcome       `json:"outcome"`
	RowsIngested   int           `json:"rowsIngested"`
	RowsDeleted    int64         `json:"rowsDeleted"`
	Issues         []Issue       `json:"issues"`
	Duration       time.Duration `json:"duration"`
}

// SheetPreview is the read-only analysis of one sheet.
type SheetPreview struct {
	Index    int                    `json:"index"`
	Name     string                 `json:"name"`
	Analysis ingest.LayoutAnalysis  `json:"analysis"`
	Headers  []string               `json:"headers"`
	Fields   []string               `json:"fields"`
	Sample   []ingest.Record        `json:"sample"`
	Schema   []ingest.Column        `json:"schema"`
	Profile  []ingest.ColumnProfile `json:"profile"`
	Matches  []TemplateMatch        `json:"matches,omitempty"`
}

// PreviewResponse is the answer of Preview.
type PreviewResponse struct {
	FileName         string         `json:"fileName"`
	Sheets           []SheetPreview `json:"sheets"`
	Issues           []Issue        `json:"issues"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// Workbook is the API view of a stored workbook.
type Workbook struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	SheetCount  int       `json:"sheetCount"`
	TotalRows   int64     `json:"totalRows"`
	Status      string    `json:"status"`
	StorageMode string    `json:"storageMode"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Sheet is the API view of a stored sheet.
type Sheet struct {
	ID             int64     `json:"id"`
	WorkbookID     int64     `json:"workbookId"`
	Index          int       `json:"index"`
	Name           string    `json:"name"`
	HeaderRowIndex *int      `json:"headerRowIndex"`
	Reliable       bool      `json:"reliable"`
	Headers        []string  `json:"headers"`
	RowCount       int64     `json:"rowCount"`
	Status         string    `json:"status"`
	TableName      string    `json:"tableName,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WorkbookDetail is a workbook with its sheets.
type WorkbookDetail struct {
	Workbook
	Sheets []Sheet `json:"sheets"`
}

// Row is one stored record in rows mode.
type Row struct {
	ID        int64           `json:"id"`
	SheetID   int64           `json:"sheetId"`
	RowNumber int             `json:"rowNumber"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RowPage is one page of a sheet's rows.
type RowPage struct {
	Rows   []Row `json:"rows"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// HistoryEntry is one modification of a row.
type HistoryEntry struct {
	ID        int64           `json:"id"`
	RowID     int64           `json:"rowId"`
	SheetID   int64           `json:"sheetId"`
	Operation string          `json:"operation"`
	OldData   json.RawMessage `json:"oldData,omitempty"`
	NewData   json.RawMessage `json:"newData,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Template is a named, reusable mapping definition.
type Template struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Mappings       []ingest.FieldMapping `json:"mappings"`
	IgnoreUnmapped bool                  `json:"ignoreUnmapped"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// Definition returns the template's rule set as a fresh MappingDefinition.
func (t Template) Definition() *ingest.MappingDefinition {
	def := &ingest.MappingDefinition{Mappings: t.Mappings, IgnoreUnmapped: t.IgnoreUnmapped}
	return def.Clone()
}

// TemplateInput carries the writable fields of a template.
type TemplateInput struct {
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Mappings       []ingest.FieldMapping `json:"mappings"`
	IgnoreUnmapped bool                  `json:"ignoreUnmapped"`
}

// TemplateMatch is a template whose sources appear in a header row.
type TemplateMatch struct {
	Template Template `json:"template"`
	Score    float64  `json:"score"`
}
