package schema

// convert.go turns the string values of a record into pgtype values for the
// column's inferred type. Blank input becomes NULL (Valid=false); input that
// does not parse as the column type is an error, since inference has already
// seen every value that reaches a table.

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetingest/internal/ingest"
)

// ToValue converts raw for a column of type t.
func ToValue(t ingest.ColumnType, raw string) (any, error) {
	switch t.Kind {
	case ingest.TypeInteger:
		return ToPgInt8(raw)
	case ingest.TypeDecimal:
		return ToPgNumeric(raw)
	case ingest.TypeDateTime:
		return ToPgTimestamp(raw)
	default:
		return ToPgText(raw), nil
	}
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgInt8 converts a string to pgtype.Int8, accepting thousands separators.
func ToPgInt8(s string) (pgtype.Int8, error) {
	if strings.TrimSpace(s) == "" {
		return pgtype.Int8{Valid: false}, nil
	}
	n, ok := ingest.ParseInteger(s)
	if !ok {
		return pgtype.Int8{}, fmt.Errorf("%q is not an integer", s)
	}
	return pgtype.Int8{Int64: n, Valid: true}, nil
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToPgNumeric(s string) (pgtype.Numeric, error) {
	if strings.TrimSpace(s) == "" {
		return pgtype.Numeric{Valid: false}, nil
	}
	clean, ok := ingest.CleanNumber(s)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("%q is not a number", s)
	}

	var n pgtype.Numeric
	if err := n.Scan(clean); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("scan numeric %q: %w", s, err)
	}
	return n, nil
}

// ToPgTimestamp converts a date or date-time string to pgtype.Timestamp.
func ToPgTimestamp(s string) (pgtype.Timestamp, error) {
	if strings.TrimSpace(s) == "" {
		return pgtype.Timestamp{Valid: false}, nil
	}
	t, ok := ingest.ParseDateTime(s)
	if !ok {
		return pgtype.Timestamp{}, fmt.Errorf("%q is not a date", s)
	}
	return pgtype.Timestamp{Time: t, Valid: true}, nil
}
