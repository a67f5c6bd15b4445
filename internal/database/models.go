package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Workbook struct {
	ID          int64              `json:"id"`
	FileName    string             `json:"file_name"`
	ContentType string             `json:"content_type"`
	SizeBytes   int64              `json:"size_bytes"`
	SheetCount  int32              `json:"sheet_count"`
	TotalRows   int64              `json:"total_rows"`
	Status      string             `json:"status"`
	StorageMode string             `json:"storage_mode"`
	UploadedAt  pgtype.Timestamptz `json:"uploaded_at"`
}

type Sheet struct {
	ID             int64              `json:"id"`
	WorkbookID     int64              `json:"workbook_id"`
	SheetIndex     int32              `json:"sheet_index"`
	Name           string             `json:"name"`
	HeaderRowIndex pgtype.Int4        `json:"header_row_index"`
	Reliable       bool               `json:"reliable"`
	Headers        []byte             `json:"headers"`
	RowCount       int64              `json:"row_count"`
	Status         string             `json:"status"`
	TableName      pgtype.Text        `json:"table_name"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type SheetRow struct {
	ID        int64              `json:"id"`
	SheetID   int64              `json:"sheet_id"`
	RowNumber int32              `json:"row_number"`
	Data      []byte             `json:"data"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type RowHistory struct {
	ID        int64              `json:"id"`
	RowID     int64              `json:"row_id"`
	SheetID   int64              `json:"sheet_id"`
	Operation string             `json:"operation"`
	OldData   []byte             `json:"old_data"`
	NewData   []byte             `json:"new_data"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type MappingDefinition struct {
	SheetID        int64              `json:"sheet_id"`
	Mappings       []byte             `json:"mappings"`
	IgnoreUnmapped bool               `json:"ignore_unmapped"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type MappingTemplate struct {
	ID             pgtype.UUID        `json:"id"`
	Name           string             `json:"name"`
	Description    pgtype.Text        `json:"description"`
	Mappings       []byte             `json:"mappings"`
	IgnoreUnmapped bool               `json:"ignore_unmapped"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}
