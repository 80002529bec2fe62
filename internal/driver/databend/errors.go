package databend

import (
	"fmt"
	"strings"
)

// IdentifierError is returned when no table name can be derived.
type IdentifierError struct {
	Database string
	Table    string
}

func (e *IdentifierError) Error() string {
	db := e.Database
	if db == "" {
		db = "(unknown-db)"
	}
	table := e.Table
	if table == "" {
		table = "(unknown-table-name)"
	}
	return "could not generate fully qualified name for stream: " + strings.Join([]string{db, table}, ":")
}

// TableCreationError wraps a failed CREATE TABLE together with its statement.
type TableCreationError struct {
	Table string
	SQL   string
	Err   error
}

func (e *TableCreationError) Error() string {
	return fmt.Sprintf("creating table %s: %v", e.Table, e.Err)
}

func (e *TableCreationError) Unwrap() error { return e.Err }

// InsertError wraps a failed batch INSERT. Nothing of the batch was
// committed.
type InsertError struct {
	Table string
	SQL   string
	Rows  int
	Err   error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("inserting %d records into %s: %v", e.Rows, e.Table, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// PlaceholderNameError is returned for a database, table or column name that
// contains "?". Statements are interpolated client side, and the driver would
// count a "?" inside a quoted name as a parameter.
type PlaceholderNameError struct {
	Kind string
	Name string
}

func (e *PlaceholderNameError) Error() string {
	return fmt.Sprintf("%s name %q contains \"?\", which cannot be used in an interpolated statement", e.Kind, e.Name)
}
