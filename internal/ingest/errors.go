package ingest

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies an ingestion failure.
type Kind string

const (
	KindFileFormat       Kind = "FILE_FORMAT"
	KindLayoutDetection  Kind = "LAYOUT_DETECTION"
	KindRowConversion    Kind = "ROW_CONVERSION"
	KindRowLimitExceeded Kind = "ROW_LIMIT_EXCEEDED"
	KindPersistence      Kind = "PERSISTENCE"
	KindSchemaCreation   Kind = "SCHEMA_CREATION"
)

// Sentinel errors, one per Kind. An *Error matches its kind's sentinel with errors.Is.
var (
	ErrFileFormat       = errors.New("invalid spreadsheet file")
	ErrLayoutDetection  = errors.New("header row not detected")
	ErrRowConversion    = errors.New("row conversion failed")
	ErrRowLimitExceeded = errors.New("row limit exceeded")
	ErrPersistence      = errors.New("batch persistence failed")
	ErrSchemaCreation   = errors.New("dynamic table creation failed")
)

// ErrInvalidHeaderRow is returned when the requested header row is missing or blank.
var ErrInvalidHeaderRow = errors.New("invalid header row")

// ErrStop may be returned from a RowFunc to end a pass early without error.
var ErrStop = errors.New("stop reading rows")

func (k Kind) sentinel() error {
	switch k {
	case KindFileFormat:
		return ErrFileFormat
	case KindLayoutDetection:
		return ErrLayoutDetection
	case KindRowConversion:
		return ErrRowConversion
	case KindRowLimitExceeded:
		return ErrRowLimitExceeded
	case KindPersistence:
		return ErrPersistence
	case KindSchemaCreation:
		return ErrSchemaCreation
	default:
		return nil
	}
}

// Error is a classified ingestion error with the sheet and row it concerns.
// Row is the 1-based spreadsheet row number, or 0 when not row specific.
type Error struct {
	Kind  Kind
	Sheet string
	Row   int
	Err   error
}

// NewError wraps err with a kind and location.
func NewError(kind Kind, sheet string, row int, err error) *Error {
	return &Error{Kind: kind, Sheet: sheet, Row: row, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel()
	text := string(e.Kind)
	if msg != nil {
		text = msg.Error()
	}
	switch {
	case e.Sheet != "" && e.Row > 0:
		text = fmt.Sprintf("%s: sheet %q row %d", text, e.Sheet, e.Row)
	case e.Sheet != "":
		text = fmt.Sprintf("%s: sheet %q", text, e.Sheet)
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

// Severity distinguishes warnings from errors in a Report.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a non-fatal problem recorded during ingestion.
type Issue struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Sheet    string   `json:"sheet,omitempty"`
	Row      int      `json:"row,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.Sheet != "" && i.Row > 0:
		return fmt.Sprintf("Sheet %s Row %d: %s", i.Sheet, i.Row, i.Message)
	case i.Sheet != "":
		return fmt.Sprintf("Sheet %s: %s", i.Sheet, i.Message)
	default:
		return i.Message
	}
}

// IssueFromError converts a classified error into a report entry.
// Row limit errors become warnings, everything else is an error.
func IssueFromError(err error) Issue {
	issue := Issue{Kind: KindPersistence, Severity: SeverityError, Message: err.Error()}
	var ie *Error
	if errors.As(err, &ie) {
		issue.Kind = ie.Kind
		issue.Sheet = ie.Sheet
		issue.Row = ie.Row
		if ie.Err != nil {
			issue.Message = ie.Err.Error()
		}
	}
	if issue.Kind == KindRowLimitExceeded || issue.Kind == KindLayoutDetection {
		issue.Severity = SeverityWarning
	}
	return issue
}

// Report collects issues for one workbook. It is safe for concurrent use.
type Report struct {
	mu     sync.Mutex
	issues []Issue
}

// Add appends an issue.
func (r *Report) Add(issue Issue) {
	r.mu.Lock()
	r.issues = append(r.issues, issue)
	r.mu.Unlock()
}

// AddError records err as an issue.
func (r *Report) AddError(err error) {
	r.Add(IssueFromError(err))
}

// Issues returns a copy of the collected issues in insertion order.
func (r *Report) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

// Count returns the number of issues with the given severity.
func (r *Report) Count(sev Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.issues {
		if i.Severity == sev {
			n++
		}
	}
	return n
}

// CountKind returns the number of issues of the given kind.
func (r *Report) CountKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.issues {
		if i.Kind == kind {
			n++
		}
	}
	return n
}
