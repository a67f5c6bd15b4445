// Package core provides the ingestion service.
//
// # Error Codes Reference
//
// Every error shown to a user carries a code that support staff can look up
// here. Package sentinels are matched first with errors.Is, then typed engine
// errors by [ingest.Kind], then raw database and driver messages by
// case-insensitive substring.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	DB002 - Unique constraint: This value must be unique but already exists
//	DB003 - Foreign key: Referenced record does not exist
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Not found: The requested record does not exist
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: A value could not be read as a date
//	VAL002 - Invalid number: A value could not be read as a number
//	VAL003 - Invalid header row: The chosen header row is empty or missing
//	VAL004 - Invalid storage mode: Mode must be "rows" or "table"
//	VAL005 - Invalid row update: At least one field, and field names must not be blank
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Not a spreadsheet (FILE_FORMAT)
//	FILE003 - Encoding error
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - Header row not detected (LAYOUT_DETECTION)
//	ING002 - Row could not be converted (ROW_CONVERSION)
//	ING003 - Row limit reached (ROW_LIMIT_EXCEEDED)
//	ING004 - Rows could not be saved (PERSISTENCE)
//	ING005 - Typed table could not be created (SCHEMA_CREATION)
//	ING006 - Too many ingests in progress
//	ING007 - Request cancelled
//	ING008 - Request timed out
//	ING009 - Workbook not found
//	ING010 - Sheet not found
//	ING011 - Sheet is not stored as a table
//	ING012 - Sheet is stored as a table, rows cannot be added
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Invalid mapping definition
//	MAP002 - Sheet has no mapping definition
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template not found
//	TPL002 - Template name already exists
//	TPL003 - Invalid template
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// technical error, which is logged with the request id.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var kindMessages = map[ingest.Kind]UserMessage{
	ingest.KindFileFormat: {
		Message: "The file is not a readable spreadsheet",
		Action:  "Upload an .xlsx, .xlsm or .csv file",
		Code:    "FILE002",
	},
	ingest.KindLayoutDetection: {
		Message: "The header row could not be detected",
		Action:  "Choose the header row and reprocess the sheet",
		Code:    "ING001",
	},
	ingest.KindRowConversion: {
		Message: "A row could not be converted",
		Action:  "Review the listed rows in the spreadsheet",
		Code:    "ING002",
	},
	ingest.KindRowLimitExceeded: {
		Message: "The workbook row limit was reached",
		Action:  "Split the workbook into smaller files",
		Code:    "ING003",
	},
	ingest.KindPersistence: {
		Message: "Rows could not be saved, nothing was imported",
		Action:  "Please try again or contact support",
		Code:    "ING004",
	},
	ingest.KindSchemaCreation: {
		Message: "A typed table could not be created for the sheet",
		Action:  "Ingest the sheet in rows mode or rename its columns",
		Code:    "ING005",
	},
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order, so specific not-found errors come
// before ErrNotFound.
var sentinelMessages = []sentinelMessage{
	{ErrTooManyIngests, UserMessage{"System is busy processing other files", "Please wait a moment and try again", "ING006"}},
	{ErrWorkbookNotFound, UserMessage{"Workbook not found", "It may have been deleted", "ING009"}},
	{ErrSheetNotFound, UserMessage{"Sheet not found", "Reload the workbook and try again", "ING010"}},
	{ErrNotTableMode, UserMessage{"This sheet is stored as rows, not as a table", "Use the rows view for this sheet", "ING011"}},
	{ErrNotRowsMode, UserMessage{"This sheet is stored as a typed table", "Reprocess the workbook in rows mode to edit rows", "ING012"}},
	{ErrMappingNotFound, UserMessage{"This sheet has no mapping definition", "Create a mapping or apply a template", "MAP002"}},
	{ErrTemplateNotFound, UserMessage{"Template not found", "Verify the template id", "TPL001"}},
	{ErrTemplateExists, UserMessage{"A template with this name already exists", "Choose another name", "TPL002"}},
	{ErrInvalidTemplate, UserMessage{"The template is invalid", "A template needs a name and valid mappings", "TPL003"}},
	{ErrNotFound, UserMessage{"The requested record does not exist", "Verify the id and try again", "DB008"}},
	{pgx.ErrNoRows, UserMessage{"The requested record does not exist", "Verify the id and try again", "DB008"}},
	{ErrInvalidHeaderRow, UserMessage{"The chosen header row is empty or missing", "Pick a row that contains the column names", "VAL003"}},
	{ErrInvalidStorageMode, UserMessage{"Unknown storage mode", "Use \"rows\" or \"table\"", "VAL004"}},
	{ErrInvalidRowUpdate, UserMessage{"The row update is invalid", "Send at least one field, each with a name", "VAL005"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller workbooks", "FILE001"}},
	{ErrEmptyFile, UserMessage{"The uploaded file is empty", "Upload a spreadsheet with data rows", "FILE005"}},
}

// errorPattern maps a lower-case substring of a technical error to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is matched with strings.Contains after kinds and sentinels.
// The first match wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// Database constraints
	{"duplicate key", UserMessage{"A record with this ID already exists", "Review the data for duplicates", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced record does not exist", "Reload and try again", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Reload and try again", "DB003"}},

	// Connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Request lifecycle, before the generic timeout pattern
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "ING007"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "ING008"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},

	// Values
	{"invalid date", UserMessage{"A value could not be read as a date", "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", "VAL001"}},
	{"invalid number", UserMessage{"A value could not be read as a number", "Remove text from numeric columns", "VAL002"}},
	{"invalid input syntax", UserMessage{"A value does not match its column type", "Ingest the sheet in rows mode", "VAL002"}},

	// Files and mappings
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file as UTF-8", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to upload", "FILE004"}},
	{"invalid mapping definition", UserMessage{"The mapping definition is invalid", "Every rule needs a unique source and a destination", "MAP001"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// An empty UserMessage is returned for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	if kind, ok := ingest.KindOf(err); ok {
		if msg, ok := kindMessages[kind]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IssueMessage maps an ingest issue kind to its user message.
func IssueMessage(kind ingest.Kind) UserMessage {
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError keeps the technical error for logs next to the message for users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
