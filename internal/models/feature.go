package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// Feature is one record returned by the feature service: a nullable
// geometry plus a flat property mapping. Features are read-only once decoded.
type Feature struct {
	Type       string                 `json:"type"`
	ID         interface{}            `json:"id,omitempty"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`

	keys []string
}

// UnmarshalJSON decodes numbers as json.Number so identifiers keep their
// exact value, and records the property key order of the payload.
func (f *Feature) UnmarshalJSON(data []byte) error {
	type plain Feature

	var decoded plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("failed to unmarshal feature: %w", err)
	}

	keys := make([]string, 0, len(decoded.Properties))
	gjson.GetBytes(data, "properties").ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})

	*f = Feature(decoded)
	f.keys = keys
	return nil
}

// MarshalJSON writes the feature back out with properties in payload order.
func (f Feature) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	typ := f.Type
	if typ == "" {
		typ = "Feature"
	}
	if err := writeJSONField(&buf, `{"type":`, typ); err != nil {
		return nil, err
	}
	if f.ID != nil {
		if err := writeJSONField(&buf, `,"id":`, f.ID); err != nil {
			return nil, err
		}
	}
	if err := writeJSONField(&buf, `,"geometry":`, f.Geometry); err != nil {
		return nil, err
	}

	buf.WriteString(`,"properties":{`)
	for i, key := range f.PropertyKeys() {
		prefix := ""
		if i > 0 {
			prefix = ","
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		if err := writeJSONField(&buf, prefix+string(k)+":", f.Properties[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeJSONField(buf *bytes.Buffer, prefix string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal feature: %w", err)
	}
	buf.WriteString(prefix)
	buf.Write(data)
	return nil
}

// PropertyKeys returns property names in payload order. Features built in
// code rather than decoded fall back to sorted order.
func (f Feature) PropertyKeys() []string {
	if len(f.keys) == len(f.Properties) {
		return f.keys
	}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IntProperty returns the named property as an integer identifier.
// Numbers decoded as json.Number, float64 values without a fractional part
// and numeric strings are accepted.
func (f Feature) IntProperty(name string) (int64, error) {
	value, ok := f.Properties[name]
	if !ok || value == nil {
		return 0, fmt.Errorf("property %q not present", name)
	}
	return ToInt64(value)
}

// ToInt64 converts a decoded JSON scalar into an int64.
func ToInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", v, err)
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(v)
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q: %w", v, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported identifier type %T", value)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("identifier %v is not an integer", f)
	}
	return int64(f), nil
}
