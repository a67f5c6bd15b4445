package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
)

// TypeKind is the abstract column type of the dynamic table schema.
type TypeKind string

const (
	TypeInteger  TypeKind = "INTEGER"
	TypeDecimal  TypeKind = "DECIMAL"
	TypeDateTime TypeKind = "DATETIME"
	TypeText     TypeKind = "TEXT"
)

// maxPrecision is the largest decimal precision the inference will emit.
const maxPrecision = 38

// BoundedTextWidth is the width of the default text column. Longer values
// mark the column Long.
const BoundedTextWidth = 255

// ColumnType is an abstract type. Precision and Scale apply to TypeDecimal
// only, Long to TypeText only. A decimal with zero Precision is
// unconstrained.
type ColumnType struct {
	Kind      TypeKind `json:"kind"`
	Precision int      `json:"precision,omitempty"`
	Scale     int      `json:"scale,omitempty"`
	Long      bool     `json:"long,omitempty"`
}

func (t ColumnType) String() string {
	if t.Kind == TypeDecimal {
		if t.Precision == 0 {
			return string(TypeDecimal)
		}
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	}
	if t.Kind == "" {
		return string(TypeText)
	}
	return string(t.Kind)
}

// Column is one entry of an inferred schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
)

// Date layouts tried in order, unambiguous four-digit years first.
var (
	dateTimeLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"01-02-06 15:04",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "02-Jan-2006",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "01-02-06", "1.2.06", "01.02.06",
	}
)

// TwoDigitYearPivot sets how far into the future a two-digit year may land
// before it is read as the previous century.
var TwoDigitYearPivot = 20

// ParseDateTime parses the date and timestamp layouts seen in spreadsheet exports.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivot := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivot {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// CleanNumber strips currency symbols, thousands separators and the
// accounting "(123.45)" negative form. It returns false when the result is
// not a plain decimal.
func CleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	if !decimalPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// ParseInteger parses a cleaned integer that fits in 64 bits.
func ParseInteger(s string) (int64, bool) {
	clean, ok := CleanNumber(s)
	if !ok || !integerPattern.MatchString(clean) {
		return 0, false
	}
	n, err := strconv.ParseInt(clean, 10, 64)
	return n, err == nil
}

// Inferrer accumulates type evidence over a stream of records, so a schema
// can be derived in one pass without keeping the values.
type Inferrer struct {
	fields []string
	state  map[string]*typeState
	open   bool
}

type typeState struct {
	seen      bool
	integers  bool
	numeric   bool
	dates     bool
	intDigits int
	scale     int
	maxLen    int
}

// NewInferrer returns an inferrer for the given output fields.
func NewInferrer(fields []string) *Inferrer {
	inf := &Inferrer{fields: fields, state: make(map[string]*typeState, len(fields))}
	for _, f := range fields {
		inf.state[f] = newTypeState()
	}
	return inf
}

// NewOpenInferrer returns an inferrer that learns fields in first-seen order.
// Use it when the output fields are only known after the pass, then call
// SchemaFor with the final field list.
func NewOpenInferrer() *Inferrer {
	return &Inferrer{state: make(map[string]*typeState), open: true}
}

func newTypeState() *typeState {
	return &typeState{integers: true, numeric: true, dates: true}
}

// Observe folds one record into the evidence. Fields outside the schema are
// ignored unless the inferrer is open.
func (inf *Inferrer) Observe(rec Record) {
	for _, f := range rec.Fields {
		st, ok := inf.state[f.Name]
		if !ok {
			if !inf.open {
				continue
			}
			st = newTypeState()
			inf.state[f.Name] = st
			inf.fields = append(inf.fields, f.Name)
		}
		st.observe(f.Value)
	}
}

func (st *typeState) observe(v string) {
	st.seen = true
	if n := len([]rune(v)); n > st.maxLen {
		st.maxLen = n
	}

	if st.numeric {
		clean, ok := CleanNumber(v)
		if !ok {
			st.numeric = false
			st.integers = false
		} else {
			if st.integers {
				if _, ok := ParseInteger(v); !ok {
					st.integers = false
				}
			}
			whole, frac, _ := strings.Cut(strings.TrimLeft(clean, "+-"), ".")
			st.intDigits = max(st.intDigits, len(strings.TrimLeft(whole, "0")))
			st.scale = max(st.scale, len(frac))
		}
	}

	if st.dates {
		if _, ok := ParseDateTime(v); !ok {
			st.dates = false
		}
	}
}

// Schema returns the narrowest type per field: INTEGER, then DECIMAL, then
// DATETIME, else TEXT. Fields that never had a value are TEXT.
func (inf *Inferrer) Schema() []Column {
	out := make([]Column, 0, len(inf.fields))
	for _, name := range inf.fields {
		out = append(out, Column{Name: name, Type: inf.state[name].columnType()})
	}
	return out
}

// SchemaFor returns the schema in the order of fields. Fields the inferrer
// never saw are TEXT.
func (inf *Inferrer) SchemaFor(fields []string) []Column {
	out := make([]Column, 0, len(fields))
	for _, name := range fields {
		t := ColumnType{Kind: TypeText}
		if st, ok := inf.state[name]; ok {
			t = st.columnType()
		}
		out = append(out, Column{Name: name, Type: t})
	}
	return out
}

func (st *typeState) columnType() ColumnType {
	switch {
	case !st.seen:
		return ColumnType{Kind: TypeText}
	case st.integers:
		return ColumnType{Kind: TypeInteger}
	case st.numeric:
		return decimalType(st.intDigits, st.scale)
	case st.dates:
		return ColumnType{Kind: TypeDateTime}
	default:
		return ColumnType{Kind: TypeText, Long: st.maxLen > BoundedTextWidth}
	}
}

// InferSchema runs an Inferrer over records.
func InferSchema(fields []string, records []Record) []Column {
	inf := NewInferrer(fields)
	for _, rec := range records {
		inf.Observe(rec)
	}
	return inf.Schema()
}

// decimalType sizes DECIMAL(p,s) from the widest observed integer and
// fractional parts. Values that need more than maxPrecision digits get an
// unconstrained decimal so neither side is truncated.
func decimalType(whole, scale int) ColumnType {
	p := whole + scale
	if p < scale+1 {
		p = scale + 1
	}
	if p > maxPrecision {
		return ColumnType{Kind: TypeDecimal}
	}
	return ColumnType{Kind: TypeDecimal, Precision: p, Scale: scale}
}

// ColumnProfile summarizes one field over a sample of records.
type ColumnProfile struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	NonBlank int        `json:"nonBlank"`
	Distinct int        `json:"distinct"`
	Min      *float64   `json:"min,omitempty"`
	Max      *float64   `json:"max,omitempty"`
	Mean     *float64   `json:"mean,omitempty"`
	Median   *float64   `json:"median,omitempty"`
}

// Profile computes per-field counts and, for numeric fields, the min, max,
// mean and median.
func Profile(fields []string, records []Record) []ColumnProfile {
	schema := InferSchema(fields, records)
	out := make([]ColumnProfile, 0, len(schema))
	for _, col := range schema {
		p := ColumnProfile{Name: col.Name, Type: col.Type}
		seen := map[string]struct{}{}
		var nums stats.Float64Data
		for _, rec := range records {
			v, ok := rec.Get(col.Name)
			if !ok {
				continue
			}
			p.NonBlank++
			seen[v] = struct{}{}
			if col.Type.Kind == TypeInteger || col.Type.Kind == TypeDecimal {
				if clean, ok := CleanNumber(v); ok {
					if f, err := strconv.ParseFloat(clean, 64); err == nil {
						nums = append(nums, f)
					}
				}
			}
		}
		p.Distinct = len(seen)
		if len(nums) > 0 {
			p.Min = statPtr(nums.Min())
			p.Max = statPtr(nums.Max())
			p.Mean = statPtr(nums.Mean())
			p.Median = statPtr(nums.Median())
		}
		out = append(out, p)
	}
	return out
}

func statPtr(v float64, err error) *float64 {
	if err != nil {
		return nil
	}
	return &v
}
