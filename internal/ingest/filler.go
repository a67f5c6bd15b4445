package ingest

import (
	"maps"
	"strings"
)

// FillState carries the last non-blank value seen per column through one
// sheet pass. It approximates vertically merged cells: a blank cell under a
// merge anchor takes the anchor's value. Separate blank cells are filled the
// same way, which is a known limitation.
//
// A FillState is a value. Fill never mutates the receiver, so a state cannot
// leak between sheets or passes unless the caller passes it along.
type FillState struct {
	lastSeen map[int]string
}

// Fill returns the next state and the filled copy of cells. Only columns with
// a header label are considered.
func (s FillState) Fill(cells Cells, headers []*string) (FillState, Cells) {
	next := s
	owned := false
	out := make(Cells, len(headers))

	for col, h := range headers {
		if h == nil {
			continue
		}

		v := cells[col]
		if strings.TrimSpace(v) == "" {
			if prev, ok := s.lastSeen[col]; ok {
				out[col] = prev
			}
			continue
		}

		out[col] = v
		if prev, ok := next.lastSeen[col]; ok && prev == v {
			continue
		}
		if !owned {
			next.lastSeen = maps.Clone(s.lastSeen)
			if next.lastSeen == nil {
				next.lastSeen = make(map[int]string, len(headers))
			}
			owned = true
		}
		next.lastSeen[col] = v
	}

	return next, out
}
