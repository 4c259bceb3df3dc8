package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Kind is the storage class inferred for a property column.
type Kind int

const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ValueKind classifies one decoded property value.
func ValueKind(v interface{}) Kind {
	switch n := v.(type) {
	case nil:
		return KindUnknown
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return KindInteger
		}
		if _, err := n.Float64(); err == nil {
			return KindFloat
		}
		return KindText
	case int, int32, int64:
		return KindInteger
	case float32, float64:
		return KindFloat
	case bool:
		return KindBool
	default:
		return KindText
	}
}

// widen merges two kinds: integers widen to floats, every other mix is text.
func widen(current, next Kind) Kind {
	switch {
	case current == KindUnknown || current == next:
		return next
	case next == KindUnknown:
		return current
	case (current == KindInteger && next == KindFloat) || (current == KindFloat && next == KindInteger):
		return KindFloat
	default:
		return KindText
	}
}

// ColumnKind infers the kind of property across all rows. Columns with only
// null or missing values are text.
func (t *Table) ColumnKind(property string) Kind {
	kind := KindUnknown
	for _, row := range t.Rows {
		kind = widen(kind, ValueKind(row.Properties[property]))
		if kind == KindText {
			return KindText
		}
	}
	if kind == KindUnknown {
		return KindText
	}
	return kind
}

// ToFloat64 converts a decoded numeric property into a float64.
func ToFloat64(value interface{}) (float64, error) {
	switch n := value.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

// FormatValue renders a property value as text. Scalars print plainly and
// nested values are JSON encoded. Nil renders as the empty string.
func FormatValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(data)
	}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// UniqueColumnNames maps each property column to an output name that does
// not collide with reserved or earlier names. limit truncates names to at
// most limit bytes when positive.
func UniqueColumnNames(columns []string, reserved []string, limit int) []string {
	used := make(map[string]bool, len(columns)+len(reserved))
	for _, r := range reserved {
		used[r] = true
	}

	names := make([]string, 0, len(columns))
	for _, column := range columns {
		base := column
		if limit > 0 {
			base = Truncate(base, limit)
		}
		name := base
		for i := 1; used[name]; i++ {
			suffix := "_" + strconv.Itoa(i)
			trimmed := base
			if limit > 0 {
				trimmed = Truncate(trimmed, limit-len(suffix))
			}
			name = trimmed + suffix
		}
		used[name] = true
		names = append(names, name)
	}
	return names
}
