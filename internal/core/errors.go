package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// ErrNotFound is matched by every lookup miss in this package.
var ErrNotFound = errors.New("not found")

var (
	ErrWorkbookNotFound = fmt.Errorf("workbook %w", ErrNotFound)
	ErrSheetNotFound    = fmt.Errorf("sheet %w", ErrNotFound)
	ErrRowNotFound      = fmt.Errorf("row %w", ErrNotFound)
	ErrMappingNotFound  = fmt.Errorf("mapping definition %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
)

var (
	ErrTemplateExists  = errors.New("template name already exists")
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidHeaderRow is the engine's error for a missing or blank header row.
	ErrInvalidHeaderRow = ingest.ErrInvalidHeaderRow

	ErrFileTooLarge       = errors.New("file too large")
	ErrEmptyFile          = errors.New("empty file")
	ErrInvalidStorageMode = errors.New("invalid storage mode")
	ErrNotTableMode       = errors.New("sheet is not stored as a table")
	ErrNotRowsMode        = errors.New("sheet is stored as a table")
	ErrInvalidRowUpdate   = errors.New("invalid row update")
)
