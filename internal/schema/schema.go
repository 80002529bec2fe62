// Package schema holds the JSON-schema description of a Singer stream.
// Property order is significant: it is the column order of the created table
// and of every INSERT.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Known JSON types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// Known string formats.
const (
	FormatDateTime = "date-time"
	FormatDate     = "date"
)

// Property describes one column of a stream.
type Property struct {
	Name   string   `json:"name"`
	Types  []string `json:"type"`
	Format string   `json:"format,omitempty"`
}

// Nullable reports whether "null" is one of the declared types.
func (p Property) Nullable() bool {
	return slices.Contains(p.Types, TypeNull)
}

// StreamSchema is the ordered set of properties of a stream.
type StreamSchema struct {
	Properties    []Property
	KeyProperties []string
}

// Columns returns the property names in declared order.
func (s *StreamSchema) Columns() []string {
	cols := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		cols[i] = p.Name
	}
	return cols
}

// Equal reports whether both schemas declare the same columns, in the same
// order, with the same types and formats.
func (s *StreamSchema) Equal(other *StreamSchema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return slices.EqualFunc(s.Properties, other.Properties, func(a, b Property) bool {
		return a.Name == b.Name && a.Format == b.Format && slices.Equal(a.Types, b.Types)
	})
}

type propertyJSON struct {
	Type   json.RawMessage `json:"type"`
	Format string          `json:"format"`
}

// UnmarshalJSON decodes a JSON-schema object, keeping "properties" in the
// order they appear in the document.
func (s *StreamSchema) UnmarshalJSON(b []byte) error {
	var raw struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Properties = nil
	if len(raw.Properties) == 0 || bytes.Equal(raw.Properties, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Properties))
	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("schema properties: %w", err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("schema properties: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("schema properties: unexpected token %v", tok)
		}
		var pj propertyJSON
		if err := dec.Decode(&pj); err != nil {
			return fmt.Errorf("schema property %q: %w", name, err)
		}
		types, err := decodeTypes(pj.Type)
		if err != nil {
			return fmt.Errorf("schema property %q: %w", name, err)
		}
		s.Properties = append(s.Properties, Property{Name: name, Types: types, Format: pj.Format})
	}
	return expectDelim(dec, '}')
}

// decodeTypes accepts "type" as either a single string or a list of strings.
func decodeTypes(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("type must be a string or a list of strings: %w", err)
	}
	return list, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
