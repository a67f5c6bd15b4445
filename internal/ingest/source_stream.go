package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/thedatashed/xlsxreader"
)

type streamOpener struct {
	data []byte
}

func (o streamOpener) Open() (Reader, error) {
	xl, err := xlsxreader.NewReader(o.data)
	if err != nil {
		return nil, NewError(KindFileFormat, "", 0, err)
	}
	return &streamReader{xl: xl}, nil
}

// streamReader reads rows from xlsxreader's row channel. Rows absent from the
// sheet XML are never delivered, so indices can jump.
type streamReader struct {
	xl *xlsxreader.XlsxFile
}

func (r *streamReader) SheetNames() []string {
	return r.xl.Sheets
}

func (r *streamReader) WalkRows(ctx context.Context, sheet int, fn RowFunc) error {
	name, err := sheetAt(r.xl.Sheets, sheet)
	if err != nil {
		return err
	}

	ch := r.xl.ReadRows(name)
	// The producer goroutine blocks until the channel is drained.
	defer func() {
		go func() {
			for range ch {
			}
		}()
	}()

	n := 0
	for row := range ch {
		if n%contextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		n++

		if row.Error != nil {
			return fmt.Errorf("read row %d of %q: %w", row.Index, name, row.Error)
		}

		cells := make(Cells, len(row.Cells))
		for _, c := range row.Cells {
			if c.Value != "" {
				cells[c.ColumnIndex()] = c.Value
			}
		}

		if err := fn(row.Index-1, cells); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (r *streamReader) Close() error {
	return nil
}
