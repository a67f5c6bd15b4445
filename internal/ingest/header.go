package ingest

import (
	"context"
	"fmt"
	"strings"
)

// ExtractHeaders reads the labels of the given 0-based physical row. The
// result has one entry per column up to the highest populated one; missing or
// blank cells are nil and trailing nils are trimmed. Reading stops at the
// header row.
func ExtractHeaders(ctx context.Context, o Opener, sheet, headerRow int) ([]*string, error) {
	if headerRow < 0 {
		return nil, fmt.Errorf("%w: index %d", ErrInvalidHeaderRow, headerRow)
	}

	var headers []*string
	found := false
	err := walk(ctx, o, sheet, func(idx int, cells Cells) error {
		if idx < headerRow {
			return nil
		}
		if idx == headerRow {
			headers = HeadersFromCells(cells)
			found = true
		}
		return ErrStop
	})
	if err != nil {
		return nil, err
	}

	if !found || len(headers) == 0 {
		return nil, fmt.Errorf("%w: row %d is empty", ErrInvalidHeaderRow, headerRow)
	}
	return headers, nil
}

// HeadersFromCells builds the positional label list for one row.
func HeadersFromCells(cells Cells) []*string {
	maxCol := -1
	for col, v := range cells {
		if col > maxCol && strings.TrimSpace(v) != "" {
			maxCol = col
		}
	}

	headers := make([]*string, maxCol+1)
	for col := 0; col <= maxCol; col++ {
		v := strings.TrimSpace(cells[col])
		if v == "" {
			continue
		}
		label := v
		headers[col] = &label
	}
	return headers
}

// Labels flattens headers into strings, using "" for missing labels.
func Labels(headers []*string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		if h != nil {
			out[i] = *h
		}
	}
	return out
}

// HeadersFromLabels is the inverse of Labels: "" becomes an unlabelled
// column and trailing unlabelled columns are dropped.
func HeadersFromLabels(labels []string) []*string {
	out := make([]*string, len(labels))
	for i, l := range labels {
		if l != "" {
			label := l
			out[i] = &label
		}
	}
	for len(out) > 0 && out[len(out)-1] == nil {
		out = out[:len(out)-1]
	}
	return out
}
