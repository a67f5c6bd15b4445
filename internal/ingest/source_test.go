package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
	}{
		{"empty", "a.xlsx", nil},
		{"plain text", "notes.txt", []byte("hello")},
		{"corrupt zip", "broken.xlsx", []byte("PK\x03\x04garbage that is not a workbook")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Detect(tt.fileName, tt.data, ReaderExcelize)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFileFormat)
		})
	}
}

func TestDetect_SheetNames(t *testing.T) {
	data := buildWorkbook(t,
		fixtureSheet{name: "Alpha", rows: [][]string{{"a"}}},
		fixtureSheet{name: "Beta", rows: [][]string{{"b"}}},
	)

	for _, kind := range []ReaderKind{ReaderExcelize, ReaderStream} {
		t.Run(string(kind), func(t *testing.T) {
			o, err := Detect("book.xlsx", data, kind)
			require.NoError(t, err)

			names, err := SheetNames(o)
			require.NoError(t, err)
			assert.Equal(t, []string{"Alpha", "Beta"}, names)
		})
	}
}

func TestCSV_PhysicalIndices(t *testing.T) {
	data := []byte("\xEF\xBB\xBFReport\n\nID,Name\n1,\"Smith, J\"\n\n2,Bob\n")
	o, err := Detect("exports/q1.csv", data, ReaderExcelize)
	require.NoError(t, err)

	names, err := SheetNames(o)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, names)

	got := map[int][]string{}
	err = walk(context.Background(), o, 0, func(idx int, cells Cells) error {
		got[idx] = cells.Values()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[int][]string{
		0: {"Report"},
		2: {"ID", "Name"},
		3: {"1", "Smith, J"},
		5: {"2", "Bob"},
	}, got)
}

func TestCSV_EndToEnd(t *testing.T) {
	data := []byte("Quarterly export\n\nRegion,Product,Units\nNorth,Widget,12\n,Gadget,3\nSouth,Widget,7\n")
	o, err := Detect("sales.csv", data, ReaderExcelize)
	require.NoError(t, err)

	sink := &memorySink{}
	out := runSheet(t, o, SheetPlan{Index: 0, Name: "sales"}, sink, nil, &Report{})

	assert.Equal(t, 2, out.Analysis.HeaderRowIndex)
	require.Len(t, sink.records, 3)
	assert.Equal(t, map[string]string{"Region": "North", "Product": "Gadget", "Units": "3"}, sink.records[1].Map())
	assert.Equal(t, 5, sink.records[1].Row)
}

func TestWalk_SheetOutOfRange(t *testing.T) {
	o := openFixture(t, ReaderExcelize, fixtureSheet{name: "Only", rows: [][]string{{"x"}}})
	err := walk(context.Background(), o, 3, func(int, Cells) error { return nil })
	assert.Error(t, err)
}

func TestCells(t *testing.T) {
	c := Cells{4: " e ", 0: "a", 2: "  "}
	assert.Equal(t, []string{"a", "e"}, c.Values())
	assert.False(t, c.Blank())
	assert.True(t, Cells{1: " ", 3: ""}.Blank())
}
