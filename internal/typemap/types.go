// Package typemap converts JSON-schema column declarations into Databend
// column types.
package typemap

import (
	"fmt"
	"strings"

	"github.com/johndauphine/target-databend/internal/schema"
)

// UnsupportedTypeError is returned when a column declares a JSON type that has
// no Databend equivalent. It aborts table creation for the stream.
type UnsupportedTypeError struct {
	Column string
	Type   string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("column %q: no JSON type declared", e.Column)
	}
	return fmt.Sprintf("column %q: unknown column type: %s", e.Column, e.Type)
}

// EffectiveType returns the JSON type a column is mapped from.
//
// With a single declared type that type is used. With exactly two types where
// one is "null", the other one is used, so ["null","string"] and
// ["string","null"] both map as string. Any other list uses the entry at
// index 1 whatever it is: ["string","integer"] maps as integer and
// ["string","null","integer"] is rejected. True union types are not
// supported.
func EffectiveType(types []string) (string, bool) {
	switch len(types) {
	case 0:
		return "", false
	case 1:
		return types[0], true
	case 2:
		if types[1] == schema.TypeNull {
			return types[0], true
		}
		return types[1], true
	default:
		return types[1], true
	}
}

// MapType converts a property declaration into a Databend type and reports
// whether the column is nullable.
func MapType(p schema.Property) (string, bool, error) {
	nullable := p.Nullable()

	jsonType, ok := EffectiveType(p.Types)
	if !ok {
		return "", false, &UnsupportedTypeError{Column: p.Name}
	}

	switch jsonType {
	case schema.TypeString:
		switch p.Format {
		case schema.FormatDateTime:
			return "TIMESTAMP", nullable, nil
		case schema.FormatDate:
			return "DATE", nullable, nil
		default:
			return "VARCHAR", nullable, nil
		}
	case schema.TypeInteger:
		return "INT", nullable, nil
	case schema.TypeNumber:
		return "DOUBLE", nullable, nil
	case schema.TypeBoolean:
		return "BOOLEAN", nullable, nil
	case schema.TypeObject:
		return "VARIANT", nullable, nil
	case schema.TypeArray:
		return "ARRAY", nullable, nil
	default:
		return "", false, &UnsupportedTypeError{Column: p.Name, Type: jsonType}
	}
}

// ColumnDDL is one column clause of a CREATE TABLE statement.
type ColumnDDL struct {
	Name     string // already quoted
	SQLType  string
	Nullable bool
}

// String renders the clause as `<name> <type> <NULL|NOT NULL>`.
func (c ColumnDDL) String() string {
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	return c.Name + " " + c.SQLType + " " + null
}

// ColumnDDLs maps every property of s, in declared order. The first
// unsupported column aborts the whole mapping.
func ColumnDDLs(s *schema.StreamSchema, quote func(string) string) ([]ColumnDDL, error) {
	cols := make([]ColumnDDL, 0, len(s.Properties))
	for _, p := range s.Properties {
		sqlType, nullable, err := MapType(p)
		if err != nil {
			return nil, err
		}
		cols = append(cols, ColumnDDL{Name: quote(p.Name), SQLType: sqlType, Nullable: nullable})
	}
	return cols, nil
}

// JoinColumnDDLs renders the clauses comma separated, as they appear inside
// the parentheses of CREATE TABLE.
func JoinColumnDDLs(cols []ColumnDDL) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}
