package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fixtureSheet struct {
	name string
	rows [][]string
}

// buildWorkbook writes an in-memory xlsx with one worksheet per fixture.
// Empty strings leave the cell unset.
func buildWorkbook(t *testing.T, sheets ...fixtureSheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for r, row := range s.rows {
			for c, v := range row {
				if v == "" {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(s.name, cell, v))
			}
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func openFixture(t *testing.T, kind ReaderKind, sheets ...fixtureSheet) Opener {
	t.Helper()
	o, err := Detect("fixture.xlsx", buildWorkbook(t, sheets...), kind)
	require.NoError(t, err)
	return o
}

// memorySink keeps every flushed batch.
type memorySink struct {
	mu      sync.Mutex
	records []Record
	batches []int
	failOn  int // 1-based flush number that fails, 0 never
	err     error
}

func (s *memorySink) Flush(_ context.Context, batch []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		s.batches = append(s.batches, -len(batch))
		return s.err
	}
	s.batches = append(s.batches, len(batch))
	s.records = append(s.records, batch...)
	return nil
}

func ptr[T any](v T) *T { return &v }

// labels builds headers, leaving "" columns unlabelled.
func labels(values ...string) []*string {
	out := make([]*string, len(values))
	for i, v := range values {
		if v != "" {
			out[i] = &values[i]
		}
	}
	return out
}
