package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type excelizeOpener struct {
	data []byte
}

func (o excelizeOpener) Open() (Reader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(o.data))
	if err != nil {
		return nil, NewError(KindFileFormat, "", 0, err)
	}
	return &excelizeReader{f: f}, nil
}

// excelizeReader walks rows with excelize's streaming row iterator rather than
// GetRows, so a header lookup on a large sheet stops after the rows it needs.
type excelizeReader struct {
	f *excelize.File
}

func (r *excelizeReader) SheetNames() []string {
	return r.f.GetSheetList()
}

func (r *excelizeReader) WalkRows(ctx context.Context, sheet int, fn RowFunc) error {
	name, err := sheetAt(r.f.GetSheetList(), sheet)
	if err != nil {
		return err
	}

	rows, err := r.f.Rows(name)
	if err != nil {
		return fmt.Errorf("open rows for %q: %w", name, err)
	}
	defer rows.Close()

	for idx := 0; rows.Next(); idx++ {
		if idx%contextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d of %q: %w", idx+1, name, err)
		}

		if err := fn(idx, cellsFromSlice(cols)); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return rows.Error()
}

func (r *excelizeReader) Close() error {
	return r.f.Close()
}
