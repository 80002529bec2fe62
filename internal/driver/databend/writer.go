package databend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/target-databend/internal/logging"
	"github.com/johndauphine/target-databend/internal/schema"
	"github.com/johndauphine/target-databend/internal/typemap"
)

// DefaultMaxStatementSize matches the driver's default max_allowed_packet.
const DefaultMaxStatementSize = 64 << 20

// ErrStatementTooLarge is returned when an interpolated INSERT would not fit
// in one packet. The driver would otherwise fall back to a server-side
// prepared statement, which Databend does not support.
var ErrStatementTooLarge = errors.New("statement exceeds max_allowed_packet")

// Writer creates tables and appends batches.
type Writer struct {
	open         Opener
	maxStatement int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMaxStatementSize sets the largest interpolated statement, in bytes, the
// writer sends. It must not exceed the connection's max_allowed_packet.
func WithMaxStatementSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxStatement = n
		}
	}
}

// NewWriter creates a writer that opens a session per operation.
func NewWriter(open Opener, opts ...WriterOption) *Writer {
	w := &Writer{open: open, maxStatement: DefaultMaxStatementSize}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// withSession opens a session, runs fn and always closes the session.
func (w *Writer) withSession(ctx context.Context, fn func(Session) error) error {
	s, err := w.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logging.Debug("closing session: %v", cerr)
		}
	}()
	return fn(s)
}

// Ping checks that Databend accepts connections and answers queries.
func (w *Writer) Ping(ctx context.Context) error {
	return w.withSession(ctx, func(s Session) error {
		ok, err := s.Exists(ctx, "SELECT 1")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("SELECT 1 returned no rows")
		}
		return nil
	})
}

// TableExists looks the table up in the catalog.
func (w *Writer) TableExists(ctx context.Context, id TableIdentifier) (bool, error) {
	query := "SHOW TABLES"
	if id.Database != "" {
		query += " FROM " + Quote(id.Database)
	}
	query += " LIKE ?"

	var exists bool
	err := w.withSession(ctx, func(s Session) error {
		var err error
		exists, err = s.Exists(ctx, query, escapeLike(id.Table))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", id, err)
	}
	return exists, nil
}

// CreateTableSQL builds the CREATE TABLE IF NOT EXISTS statement for a
// stream schema. No primary key or auto-increment is declared: Databend
// supports neither.
func CreateTableSQL(id TableIdentifier, s *schema.StreamSchema) (string, error) {
	cols, err := typemap.ColumnDDLs(s, Quote)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", id.Quoted(), typemap.JoinColumnDDLs(cols)), nil
}

// EnsureTable creates the table from the schema when it does not exist yet.
// An existing table is left untouched, whatever its columns.
func (w *Writer) EnsureTable(ctx context.Context, id TableIdentifier, s *schema.StreamSchema) error {
	exists, err := w.TableExists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		logging.Debug("Table %s already exists", id.Quoted())
		return nil
	}

	if len(s.Properties) == 0 {
		return &TableCreationError{Table: id.Quoted(), Err: errors.New("schema declares no properties")}
	}
	ddl, err := CreateTableSQL(id, s)
	if err != nil {
		return fmt.Errorf("building DDL for %s: %w", id.Quoted(), err)
	}

	err = w.withSession(ctx, func(sess Session) error {
		if _, err := sess.Exec(ctx, ddl); err != nil {
			return err
		}
		return sess.Commit(ctx)
	})
	if err != nil {
		logging.Error("Error creating table: %v, create_table_sql: %s", err, ddl)
		return &TableCreationError{Table: id.Quoted(), SQL: ddl, Err: err}
	}
	logging.Info("Created table %s", id.Quoted())
	return nil
}

// InsertSQL builds a multi-row INSERT with one placeholder group per row.
func InsertSQL(id TableIdentifier, columns []string, numRows int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(id.Quoted())
	b.WriteString(" (")
	b.WriteString(strings.Join(QuoteColumns(columns), ","))
	b.WriteString(") VALUES ")
	for i := 0; i < numRows; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(group)
	}
	return b.String()
}

// InsertBatch appends rows as one statement followed by COMMIT. Each row must
// hold one value per column, in column order. The statement either lands
// whole or not at all.
func (w *Writer) InsertBatch(ctx context.Context, id TableIdentifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if err := CheckNames("column", columns...); err != nil {
		return 0, &InsertError{Table: id.Quoted(), Rows: len(rows), Err: err}
	}

	query := InsertSQL(id, columns, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, convertRowValues(row)...)
	}

	// The driver refuses packets of max_allowed_packet and larger, 4 bytes of
	// header included.
	if size := interpolatedSize(query, args); size+4 > w.maxStatement {
		return 0, &InsertError{
			Table: id.Quoted(),
			SQL:   summarizeInsert(query, len(rows)),
			Rows:  len(rows),
			Err: fmt.Errorf("%w: about %d bytes for %d records, limit %d; lower batch_size_rows",
				ErrStatementTooLarge, size, len(rows), w.maxStatement),
		}
	}

	var affected int64
	err := w.withSession(ctx, func(s Session) error {
		n, err := s.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = n
		return s.Commit(ctx)
	})
	if err != nil {
		logging.Error("Error inserting records: %v, insert_sql: %s", err, summarizeInsert(query, len(rows)))
		return 0, &InsertError{Table: id.Quoted(), SQL: query, Rows: len(rows), Err: err}
	}
	return affected, nil
}

// summarizeInsert keeps the first placeholder group of a multi-row INSERT so
// the log line stays readable for large batches.
func summarizeInsert(query string, numRows int) string {
	if numRows <= 1 {
		return query
	}
	idx := strings.Index(query, "),(")
	if idx < 0 {
		return query
	}
	return fmt.Sprintf("%s) ... [%d row groups]", query[:idx], numRows)
}

// convertRowValues converts decoded JSON values to driver arguments.
// Objects and arrays are sent as JSON text, which Databend casts to VARIANT
// and ARRAY.
func convertRowValues(row []any) []any {
	result := make([]any, len(row))
	for i, v := range row {
		switch val := v.(type) {
		case json.Number:
			if n, err := val.Int64(); err == nil {
				result[i] = n
			} else if f, err := val.Float64(); err == nil {
				result[i] = f
			} else {
				result[i] = val.String()
			}
		case map[string]any, []any:
			b, err := json.Marshal(val)
			if err != nil {
				result[i] = fmt.Sprint(val)
				continue
			}
			result[i] = string(b)
		default:
			result[i] = v
		}
	}
	return result
}

// interpolatedSize estimates the length of query once the driver has replaced
// each placeholder with its escaped literal. It errs on the large side.
func interpolatedSize(query string, args []any) int {
	n := len(query) - len(args)
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			n += len("NULL")
		case bool:
			n++
		case int64:
			n += 20
		case float64:
			n += 24
		case string:
			n += len(v) + escapedBytes(v) + 2
		case []byte:
			n += len(v) + escapedBytes(string(v)) + len("_binary''")
		default:
			s := fmt.Sprint(v)
			n += len(s) + escapedBytes(s) + 2
		}
	}
	return n
}

// escapedBytes counts the bytes the driver prefixes with a backslash.
func escapedBytes(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0, '\n', '\r', '\\', '\'', '"', 0x1a:
			n++
		}
	}
	return n
}
