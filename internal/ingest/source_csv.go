package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// utf8BOM is stripped from the start of CSV input; Windows tools add it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvOpener exposes a CSV file as a single-sheet workbook named after the file.
type csvOpener struct {
	name string
	data []byte
}

func (o csvOpener) Open() (Reader, error) {
	data := bytes.TrimPrefix(o.data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	return &csvReader{name: o.name, data: data}, nil
}

type csvReader struct {
	name string
	data []byte
}

func (r *csvReader) SheetNames() []string {
	return []string{r.name}
}

func (r *csvReader) WalkRows(ctx context.Context, sheet int, fn RowFunc) error {
	if sheet != 0 {
		return fmt.Errorf("sheet index %d out of range (0-0)", sheet)
	}

	cr := csv.NewReader(bytes.NewReader(r.data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	for n := 0; ; n++ {
		if n%contextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return NewError(KindFileFormat, r.name, pe.StartLine, err)
			}
			return NewError(KindFileFormat, r.name, 0, err)
		}

		// encoding/csv skips empty lines; FieldPos keeps the physical index.
		line, _ := cr.FieldPos(0)
		idx := line - 1

		if err := fn(idx, cellsFromSlice(record)); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

func (r *csvReader) Close() error {
	return nil
}
