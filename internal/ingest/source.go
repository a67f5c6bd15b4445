package ingest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// contextCheckInterval is how many rows a reader walks between context checks.
const contextCheckInterval = 100

// zipMagic prefixes every OOXML container (xlsx, xlsm).
var zipMagic = []byte("PK\x03\x04")

// Cells maps a 0-based column index to the raw cell text of one row.
// Columns without a value are absent.
type Cells map[int]string

// Blank reports whether every cell is empty or whitespace.
func (c Cells) Blank() bool {
	for _, v := range c {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Values returns the trimmed non-blank values ordered by column index.
func (c Cells) Values() []string {
	maxCol := -1
	for col := range c {
		if col > maxCol {
			maxCol = col
		}
	}
	out := make([]string, 0, len(c))
	for col := 0; col <= maxCol; col++ {
		v, ok := c[col]
		if !ok {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// cellsFromSlice converts a positional row into Cells, dropping empty strings.
func cellsFromSlice(row []string) Cells {
	cells := make(Cells, len(row))
	for i, v := range row {
		if v != "" {
			cells[i] = v
		}
	}
	return cells
}

// RowFunc receives one physical row. index is 0-based. Returning ErrStop ends
// the pass without error; any other error aborts it.
type RowFunc func(index int, cells Cells) error

// Reader is one open pass over a workbook.
type Reader interface {
	SheetNames() []string
	// WalkRows calls fn for every physical row of the sheet in order. Readers
	// may omit rows that have no cells at all, so callers must rely on index
	// rather than on the number of calls.
	WalkRows(ctx context.Context, sheet int, fn RowFunc) error
	Close() error
}

// Opener opens a fresh Reader over the same underlying bytes on every call.
type Opener interface {
	Open() (Reader, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Reader, error)

func (f OpenerFunc) Open() (Reader, error) { return f() }

// ReaderKind selects the xlsx reader implementation.
type ReaderKind string

const (
	// ReaderExcelize uses excelize's row iterator.
	ReaderExcelize ReaderKind = "excelize"
	// ReaderStream uses xlsxreader, which streams rows over a channel and
	// keeps less of the workbook in memory.
	ReaderStream ReaderKind = "stream"
)

// Detect picks a reader for data based on its content and file name and
// verifies that it opens. Unparseable input fails with ErrFileFormat before
// any caller state is created.
func Detect(fileName string, data []byte, kind ReaderKind) (Opener, error) {
	if len(data) == 0 {
		return nil, NewError(KindFileFormat, "", 0, fmt.Errorf("empty file"))
	}

	var opener Opener
	switch {
	case bytes.HasPrefix(data, zipMagic):
		if kind == ReaderStream {
			opener = streamOpener{data: data}
		} else {
			opener = excelizeOpener{data: data}
		}
	case strings.EqualFold(filepath.Ext(fileName), ".csv"):
		opener = csvOpener{name: sheetNameFromFile(fileName), data: data}
	default:
		return nil, NewError(KindFileFormat, "", 0, fmt.Errorf("unsupported file %q", fileName))
	}

	r, err := opener.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if len(r.SheetNames()) == 0 {
		return nil, NewError(KindFileFormat, "", 0, fmt.Errorf("workbook has no sheets"))
	}
	return opener, nil
}

// SheetNames opens a pass only to list the sheets.
func SheetNames(o Opener) ([]string, error) {
	r, err := o.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.SheetNames(), nil
}

// walk opens a new pass and walks one sheet.
func walk(ctx context.Context, o Opener, sheet int, fn RowFunc) error {
	r, err := o.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	return r.WalkRows(ctx, sheet, fn)
}

func sheetNameFromFile(fileName string) string {
	base := filepath.Base(fileName)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return "Sheet1"
	}
	return name
}

func sheetAt(names []string, sheet int) (string, error) {
	if sheet < 0 || sheet >= len(names) {
		return "", fmt.Errorf("sheet index %d out of range (0-%d)", sheet, len(names)-1)
	}
	return names[sheet], nil
}
