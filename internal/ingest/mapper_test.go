package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRow(t *testing.T) {
	headers := labels("Nom", "Age")
	cells := Cells{0: "Jean", 1: "30"}
	nom := []FieldMapping{{Source: "Nom", Destination: "name"}}

	tests := []struct {
		name string
		def  *MappingDefinition
		want map[string]string
	}{
		{
			name: "no mapping keeps labels",
			def:  nil,
			want: map[string]string{"Nom": "Jean", "Age": "30"},
		},
		{
			name: "mapped and passthrough",
			def:  &MappingDefinition{Mappings: nom},
			want: map[string]string{"name": "Jean", "Age": "30"},
		},
		{
			name: "ignore unmapped",
			def:  &MappingDefinition{Mappings: nom, IgnoreUnmapped: true},
			want: map[string]string{"name": "Jean"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := MapRow(cells, headers, tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Map())
		})
	}
}

func TestMapper_SparseRecords(t *testing.T) {
	m := NewMapper(labels("A", "", "C"), nil)

	rec, err := m.Map(7, Cells{0: "  x ", 1: "ignored", 2: "   "})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Row)
	assert.Equal(t, []Field{{Name: "A", Value: "x"}}, rec.Fields)

	empty, err := m.Map(8, Cells{2: ""})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestMapper_Conflicts(t *testing.T) {
	def := &MappingDefinition{Mappings: []FieldMapping{
		{Source: "First", Destination: "name"},
		{Source: "Second", Destination: "name"},
	}}
	m := NewMapper(labels("First", "Second"), def)
	assert.Equal(t, []string{"name"}, m.Fields())

	_, err := m.Map(2, Cells{0: "a", 1: "b"})
	assert.Error(t, err)

	rec, err := m.Map(3, Cells{0: "same", 1: "same"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "same"}, rec.Map())

	rec, err = m.Map(4, Cells{1: "only second"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "only second"}, rec.Map())
}

func TestMapper_RepeatedLabels(t *testing.T) {
	def := &MappingDefinition{Mappings: []FieldMapping{{Source: "Code", Destination: "Total_2"}}}
	m := NewMapper(labels("Total", "Total", "Code", "Total"), def)
	assert.Equal(t, []string{"Total", "Total_3", "Total_2", "Total_4"}, m.Fields())

	rec, err := m.Map(2, Cells{0: "1", 1: "2", 2: "c", 3: "4"})
	require.NoError(t, err)
	assert.Equal(t, []Field{{"Total", "1"}, {"Total_3", "2"}, {"Total_2", "c"}, {"Total_4", "4"}}, rec.Fields)
}

func TestRecord_MarshalJSONKeepsOrder(t *testing.T) {
	rec := Record{Fields: []Field{{"z", "1"}, {"a", "2"}, {"q\"uote", "3"}}}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"1","a":"2","q\"uote":"3"}`, string(b))
}

func TestMappingDefinition_Validate(t *testing.T) {
	assert.NoError(t, (*MappingDefinition)(nil).Validate())
	assert.NoError(t, (&MappingDefinition{}).Validate())

	bad := &MappingDefinition{Mappings: []FieldMapping{
		{Source: "a", Destination: ""},
		{Source: " ", Destination: "b"},
		{Source: "c", Destination: "x"},
		{Source: "c", Destination: "y"},
	}}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination is required")
	assert.Contains(t, err.Error(), "source is required")
	assert.Contains(t, err.Error(), `duplicate source "c"`)
}

func TestMappingDefinition_CloneIsIndependent(t *testing.T) {
	orig := &MappingDefinition{Mappings: []FieldMapping{{Source: "a", Destination: "b"}}, IgnoreUnmapped: true}
	c := orig.Clone()
	c.Mappings[0].Destination = "changed"

	assert.Equal(t, "b", orig.Mappings[0].Destination)
	assert.True(t, c.IgnoreUnmapped)
	assert.Nil(t, (*MappingDefinition)(nil).Clone())
}

func TestRecord_UnmarshalJSONKeepsOrder(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"z":"1","a":"x","n":5,"nil":null}`), &rec))
	assert.Equal(t, []Field{{"z", "1"}, {"a", "x"}, {"n", "5"}, {"nil", ""}}, rec.Fields)

	rec.Set("a", "y")
	rec.Set("new", "v")
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z":"1","a":"y","n":"5","nil":"","new":"v"}`, string(b))
	assert.Equal(t, `{"z":"1","a":"y","n":"5","nil":"","new":"v"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &rec))
}
