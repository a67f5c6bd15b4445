package ingest

import (
	"context"
	"regexp"
)

// NoHeader is the header index reported when no reliable header row exists.
const NoHeader = -1

// numericPattern matches plain integers and decimals such as "-12" or "10.5".
var numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Weights are the scoring constants of the layout heuristic.
type Weights struct {
	ScanRows       int // physical rows considered, starting at row 0
	LookAhead      int // following physical rows compared against a candidate
	MinNonEmpty    int // fewer non-blank cells than this marks a row as sparse
	SparsePenalty  int
	UniqueBonus    int // all non-blank values pairwise distinct
	NumericPenalty int // more than half of the values are numeric
	TextBonus      int // at most a third of the values are numeric
	DisjointBonus  int // no value reappears in the look-ahead rows
}

// DefaultWeights returns the stock heuristic.
func DefaultWeights() Weights {
	return Weights{
		ScanRows:       20,
		LookAhead:      3,
		MinNonEmpty:    2,
		SparsePenalty:  20,
		UniqueBonus:    10,
		NumericPenalty: 15,
		TextBonus:      5,
		DisjointBonus:  15,
	}
}

// LayoutAnalysis is the result of one analyzer run.
// HeaderRowIndex is a 0-based physical row index, or NoHeader.
type LayoutAnalysis struct {
	HeaderRowIndex int  `json:"headerRowIndex"`
	Reliable       bool `json:"reliable"`
	Score          int  `json:"score"`
}

// Unresolved is the analysis returned when no header could be chosen.
var Unresolved = LayoutAnalysis{HeaderRowIndex: NoHeader, Reliable: false}

// DataStartRowIndex is the first physical row holding data, or NoHeader.
func (a LayoutAnalysis) DataStartRowIndex() int {
	if a.HeaderRowIndex == NoHeader {
		return NoHeader
	}
	return a.HeaderRowIndex + 1
}

// ScannedRow is one physical row read during analysis.
type ScannedRow struct {
	Index int
	Cells Cells
}

// Analyzer locates the header row of a sheet with a scoring heuristic.
type Analyzer struct {
	w Weights
}

// NewAnalyzer returns an analyzer using w. Zero scan or look-ahead sizes fall
// back to the defaults.
func NewAnalyzer(w Weights) *Analyzer {
	d := DefaultWeights()
	if w.ScanRows <= 0 {
		w.ScanRows = d.ScanRows
	}
	if w.LookAhead <= 0 {
		w.LookAhead = d.LookAhead
	}
	return &Analyzer{w: w}
}

// Weights returns the analyzer's scoring constants.
func (a *Analyzer) Weights() Weights {
	return a.w
}

// AnalyzeSheet reads the first ScanRows physical rows of a sheet and analyzes them.
func (a *Analyzer) AnalyzeSheet(ctx context.Context, o Opener, sheet int) (LayoutAnalysis, error) {
	var rows []ScannedRow
	err := walk(ctx, o, sheet, func(idx int, cells Cells) error {
		if idx >= a.w.ScanRows {
			return ErrStop
		}
		rows = append(rows, ScannedRow{Index: idx, Cells: cells})
		return nil
	})
	if err != nil {
		return Unresolved, err
	}
	return a.Analyze(rows), nil
}

// Analyze scores every non-blank row and returns the best one. Rows must be
// in physical order. Ties keep the earliest row. A best score of zero or less is not reliable.
func (a *Analyzer) Analyze(rows []ScannedRow) LayoutAnalysis {
	type candidate struct {
		index  int
		values []string
	}

	candidates := make([]candidate, 0, len(rows))
	for _, r := range rows {
		if r.Index >= a.w.ScanRows {
			continue
		}
		values := r.Cells.Values()
		if len(values) == 0 {
			continue
		}
		candidates = append(candidates, candidate{index: r.Index, values: values})
	}

	if len(candidates) == 0 {
		return Unresolved
	}

	best := Unresolved
	bestScore := 0
	for i, c := range candidates {
		// The look-ahead window is physical: blank rows inside it use up
		// a slot without contributing values.
		var next [][]string
		for _, n := range candidates[i+1:] {
			if n.index > c.index+a.w.LookAhead {
				break
			}
			next = append(next, n.values)
		}

		score := a.score(c.values, next)
		if best.HeaderRowIndex == NoHeader || score > bestScore {
			best = LayoutAnalysis{HeaderRowIndex: c.index, Score: score}
			bestScore = score
		}
	}

	if bestScore <= 0 {
		return LayoutAnalysis{HeaderRowIndex: NoHeader, Score: bestScore}
	}
	best.Reliable = true
	return best
}

// score rates how header-like values is, given the rows that follow it.
func (a *Analyzer) score(values []string, next [][]string) int {
	nonEmpty := len(values)
	if nonEmpty < a.w.MinNonEmpty {
		return -a.w.SparsePenalty
	}

	score := 0
	seen := make(map[string]struct{}, nonEmpty)
	numeric := 0
	for _, v := range values {
		seen[v] = struct{}{}
		if numericPattern.MatchString(v) {
			numeric++
		}
	}
	if len(seen) == nonEmpty {
		score += a.w.UniqueBonus
	}

	if numeric > nonEmpty/2 {
		score -= a.w.NumericPenalty
	} else if numeric <= nonEmpty/3 {
		score += a.w.TextBonus
	}

	union := make(map[string]struct{})
	for _, row := range next {
		for _, v := range row {
			union[v] = struct{}{}
		}
	}
	if len(union) > 0 && disjoint(seen, union) {
		score += a.w.DisjointBonus
	}

	return score
}

func disjoint(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return false
		}
	}
	return true
}
