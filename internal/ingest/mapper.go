package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FieldMapping renames one source column label to a destination field.
type FieldMapping struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// MappingDefinition is a per-sheet rule set. Sources are matched against
// trimmed header labels exactly.
type MappingDefinition struct {
	Mappings       []FieldMapping `json:"mappings"`
	IgnoreUnmapped bool           `json:"ignoreUnmapped"`
}

// Validate rejects blank names and duplicate sources.
func (d *MappingDefinition) Validate() error {
	if d == nil {
		return nil
	}
	var errs []error
	seen := make(map[string]bool, len(d.Mappings))
	for i, m := range d.Mappings {
		src := strings.TrimSpace(m.Source)
		dst := strings.TrimSpace(m.Destination)
		if src == "" {
			errs = append(errs, fmt.Errorf("mapping %d: source is required", i))
		}
		if dst == "" {
			errs = append(errs, fmt.Errorf("mapping %d: destination is required", i))
		}
		if src != "" && seen[src] {
			errs = append(errs, fmt.Errorf("mapping %d: duplicate source %q", i, src))
		}
		seen[src] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid mapping definition: %w", errors.Join(errs...))
	}
	return nil
}

// Clone returns a deep copy, so templates and sheets never share rule slices.
func (d *MappingDefinition) Clone() *MappingDefinition {
	if d == nil {
		return nil
	}
	out := &MappingDefinition{
		Mappings:       make([]FieldMapping, len(d.Mappings)),
		IgnoreUnmapped: d.IgnoreUnmapped,
	}
	copy(out.Mappings, d.Mappings)
	return out
}

// Sources returns the source labels in rule order.
func (d *MappingDefinition) Sources() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.Mappings))
	for i, m := range d.Mappings {
		out[i] = m.Source
	}
	return out
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value string
}

// Record is a normalized row. Fields keep column order. Row is the 1-based
// spreadsheet row number the record came from.
type Record struct {
	Row    int
	Fields []Field
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.Fields) }

// Get returns the value of a field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a plain map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON encodes the fields as an object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping key order. Non-string values are
// kept as their JSON text.
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("record must be a JSON object")
	}

	r.Fields = r.Fields[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		r.Fields = append(r.Fields, Field{Name: key, Value: v})
	}
	_, err = dec.Token()
	return err
}

// Set replaces the value of name, or appends the field when absent.
func (r *Record) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Mapper converts filled cells into records for one header layout.
// The per-column target names are resolved once.
type Mapper struct {
	targets []string // "" drops the column
	fields  []string
}

// NewMapper resolves the destination name of every labelled column.
// Mapped labels take their destination even when IgnoreUnmapped is set;
// other labels keep their name unless IgnoreUnmapped drops them. A
// passthrough label that is already taken gets a numeric suffix
// ("Total", "Total_2") so repeated headers stay separate fields.
func NewMapper(headers []*string, def *MappingDefinition) *Mapper {
	rules := map[string]string{}
	ignore := false
	if def != nil {
		ignore = def.IgnoreUnmapped
		for _, m := range def.Mappings {
			rules[strings.TrimSpace(m.Source)] = strings.TrimSpace(m.Destination)
		}
	}

	labels := make([]string, len(headers))
	taken := map[string]bool{}
	for col, h := range headers {
		if h == nil {
			continue
		}
		labels[col] = strings.TrimSpace(*h)
		if dst, ok := rules[labels[col]]; ok && labels[col] != "" {
			taken[dst] = true
		}
	}

	m := &Mapper{targets: make([]string, len(headers))}
	seen := map[string]bool{}
	for col, label := range labels {
		if label == "" {
			continue
		}

		var target string
		if dst, ok := rules[label]; ok {
			target = dst
		} else if ignore {
			continue
		} else {
			target = uniqueName(label, taken)
			taken[target] = true
		}

		m.targets[col] = target
		if !seen[target] {
			seen[target] = true
			m.fields = append(m.fields, target)
		}
	}
	return m
}

func uniqueName(label string, taken map[string]bool) string {
	if !taken[label] {
		return label
	}
	for n := 2; ; n++ {
		if name := fmt.Sprintf("%s_%d", label, n); !taken[name] {
			return name
		}
	}
}

// Fields lists the distinct output field names in column order.
func (m *Mapper) Fields() []string {
	return m.fields
}

// Map builds the record for one row. Blank values are omitted. Two mapped
// columns sharing a destination with different values fail the row.
func (m *Mapper) Map(row int, cells Cells) (Record, error) {
	rec := Record{Row: row}
	pos := map[string]int{}

	for col, target := range m.targets {
		if target == "" {
			continue
		}
		v := strings.TrimSpace(cells[col])
		if v == "" {
			continue
		}

		if i, ok := pos[target]; ok {
			if rec.Fields[i].Value != v {
				return Record{}, fmt.Errorf("field %q has conflicting values %q and %q", target, rec.Fields[i].Value, v)
			}
			continue
		}
		pos[target] = len(rec.Fields)
		rec.Fields = append(rec.Fields, Field{Name: target, Value: v})
	}
	return rec, nil
}

// MapRow is a one-shot convenience around NewMapper and Map.
func MapRow(cells Cells, headers []*string, def *MappingDefinition) (Record, error) {
	return NewMapper(headers, def).Map(0, cells)
}
