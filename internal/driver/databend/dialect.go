// Package databend talks to Databend through its MySQL-protocol handler:
// it resolves table identifiers, creates tables from stream schemas and
// appends record batches with multi-row INSERT statements.
package databend

import (
	"fmt"
	"strings"
)

const (
	// streamDelimiter separates the segments of a hierarchical stream name,
	// e.g. "public-orders".
	streamDelimiter = "-"
	// nameDelimiter separates the parts of a SQL name.
	nameDelimiter = "."
)

// ResolveTableName derives the physical table name from a stream name: the
// last "-"-delimited segment, or the whole name when there is no "-".
func ResolveTableName(stream string) string {
	parts := strings.Split(stream, streamDelimiter)
	return parts[len(parts)-1]
}

// FullyQualify joins database and table with ".". The database part is
// omitted when empty. An empty table name cannot be qualified.
func FullyQualify(table, database string) (string, error) {
	if table == "" {
		return "", &IdentifierError{Database: database, Table: table}
	}
	if database != "" {
		return database + nameDelimiter + table, nil
	}
	return table, nil
}

// Quote wraps every "."-separated part of name in backticks:
//
//	"my_table"          => "`my_table`"
//	"my_db.my_table"    => "`my_db`.`my_table`"
//
// Embedded backticks are not escaped and already-quoted input is quoted
// again.
func Quote(name string) string {
	parts := strings.Split(name, nameDelimiter)
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, nameDelimiter)
}

// QuoteColumns quotes each column name.
func QuoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = Quote(c)
	}
	return quoted
}

// TableIdentifier names a destination table.
type TableIdentifier struct {
	Database string
	Table    string
}

// NewTableIdentifier resolves the table of a stream inside database.
func NewTableIdentifier(stream, database string) (TableIdentifier, error) {
	id := TableIdentifier{Database: database, Table: ResolveTableName(stream)}
	if _, err := FullyQualify(id.Table, id.Database); err != nil {
		return TableIdentifier{}, fmt.Errorf("stream %q: %w", stream, err)
	}
	if err := CheckNames("database", id.Database); err != nil {
		return TableIdentifier{}, fmt.Errorf("stream %q: %w", stream, err)
	}
	if err := CheckNames("table", id.Table); err != nil {
		return TableIdentifier{}, fmt.Errorf("stream %q: %w", stream, err)
	}
	return id, nil
}

// CheckNames rejects names that would break placeholder counting once quoted
// into a statement.
func CheckNames(kind string, names ...string) error {
	for _, n := range names {
		if strings.Contains(n, "?") {
			return &PlaceholderNameError{Kind: kind, Name: n}
		}
	}
	return nil
}

// String returns the unquoted, fully qualified name.
func (t TableIdentifier) String() string {
	name, err := FullyQualify(t.Table, t.Database)
	if err != nil {
		return t.Database + nameDelimiter + t.Table
	}
	return name
}

// Quoted returns the quoted, fully qualified name used in statements.
func (t TableIdentifier) Quoted() string {
	return Quote(t.String())
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match itself literally in a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
