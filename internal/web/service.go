package web

import (
	"context"

	"github.com/JonMunkholm/sheetingest/internal/core"
	"github.com/JonMunkholm/sheetingest/internal/ingest"
	"github.com/JonMunkholm/sheetingest/internal/schema"
)

// Service is the part of *core.Service the handlers use.
type Service interface {
	Ingest(ctx context.Context, data []byte, fileName string, opts core.IngestOptions) (*core.IngestResult, error)
	Preview(ctx context.Context, data []byte, fileName string) (*core.PreviewResponse, error)
	Reprocess(ctx context.Context, sheetID int64, headerRowIndex int) (*core.ReprocessResult, error)

	ListWorkbooks(ctx context.Context, limit, offset int) ([]core.Workbook, error)
	GetWorkbook(ctx context.Context, id int64) (*core.WorkbookDetail, error)
	DeleteWorkbook(ctx context.Context, id int64) error
	GetSheet(ctx context.Context, id int64) (*core.Sheet, error)
	ExportSheet(ctx context.Context, sheetID int64) (*core.SheetExport, error)

	ListRows(ctx context.Context, sheetID int64, limit, offset int) (*core.RowPage, error)
	TableData(ctx context.Context, sheetID int64, limit, offset int) (*schema.TableData, error)
	GetRow(ctx context.Context, rowID int64) (*core.Row, error)
	CreateRow(ctx context.Context, sheetID int64, fields map[string]string) (*core.Row, error)
	UpdateRow(ctx context.Context, rowID int64, fields map[string]string) (*core.Row, error)
	DeleteRow(ctx context.Context, rowID int64) error
	RowHistory(ctx context.Context, rowID int64) ([]core.HistoryEntry, error)

	GetMapping(ctx context.Context, sheetID int64) (*ingest.MappingDefinition, error)
	SetMapping(ctx context.Context, sheetID int64, def ingest.MappingDefinition) (*ingest.MappingDefinition, error)
	ApplyTemplate(ctx context.Context, sheetID int64, templateID string) (*ingest.MappingDefinition, error)

	ListTemplates(ctx context.Context) ([]core.Template, error)
	GetTemplate(ctx context.Context, id string) (*core.Template, error)
	CreateTemplate(ctx context.Context, in core.TemplateInput) (*core.Template, error)
	UpdateTemplate(ctx context.Context, id string, in core.TemplateInput) (*core.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	MatchTemplates(ctx context.Context, headers []string) ([]core.TemplateMatch, error)

	IngestLimiterStatus() core.IngestLimiterStatus
}

var _ Service = (*core.Service)(nil)
