package models

import "github.com/paulmach/orb"

// GeometryColumn is the name of the geometry column in every sink.
const GeometryColumn = "geometry"

// Row is one materialized feature: its properties and point geometry.
type Row struct {
	Properties map[string]interface{}
	Geometry   orb.Point
}

// Table is the geometry-aware tabular result ready for persistence.
// Columns is the ordered union of property keys in first-seen order.
// SRID 0 means the coordinate reference system is unset.
type Table struct {
	Columns []string
	Rows    []Row
	SRID    int

	columnIndex map[string]struct{}
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		Columns: []string{},
		Rows:    []Row{},
	}
}

// Append adds a row, extending Columns with any keys not seen before.
func (t *Table) Append(properties map[string]interface{}, geometry orb.Point, keyOrder []string) {
	if t.columnIndex == nil {
		t.columnIndex = make(map[string]struct{}, len(t.Columns))
		for _, c := range t.Columns {
			t.columnIndex[c] = struct{}{}
		}
	}
	for _, key := range keyOrder {
		if _, ok := t.columnIndex[key]; !ok {
			t.Columns = append(t.Columns, key)
			t.columnIndex[key] = struct{}{}
		}
	}

	t.Rows = append(t.Rows, Row{Properties: properties, Geometry: geometry})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// EffectiveSRID returns the table SRID, or fallback when unset.
func (t *Table) EffectiveSRID(fallback int) int {
	if t.SRID != 0 {
		return t.SRID
	}
	return fallback
}
