package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/johndauphine/target-databend/internal/driver/databend"
	"github.com/johndauphine/target-databend/internal/schema"
	"github.com/johndauphine/target-databend/internal/singer"
)

type insertCall struct {
	table   databend.TableIdentifier
	columns []string
	rows    [][]any
}

type fakeWarehouse struct {
	ensured   []databend.TableIdentifier
	schemas   []*schema.StreamSchema
	inserts   []insertCall
	ensureErr error
	insertErr error
}

func (f *fakeWarehouse) EnsureTable(ctx context.Context, id databend.TableIdentifier, s *schema.StreamSchema) error {
	f.ensured = append(f.ensured, id)
	f.schemas = append(f.schemas, s)
	return f.ensureErr
}

func (f *fakeWarehouse) InsertBatch(ctx context.Context, id databend.TableIdentifier, columns []string, rows [][]any) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserts = append(f.inserts, insertCall{id, columns, rows})
	return int64(len(rows)), nil
}

func ordersSchema() *schema.StreamSchema {
	return &schema.StreamSchema{Properties: []schema.Property{
		{Name: "order_id", Types: []string{"integer"}},
		{Name: "total", Types: []string{"number"}},
		{Name: "created_at", Types: []string{"string"}, Format: "date-time"},
	}}
}

func order(id, total, created string) singer.Record {
	return singer.Record{"order_id": json.Number(id), "total": json.Number(total), "created_at": created}
}

func TestFlushScenario(t *testing.T) {
	wh := &fakeWarehouse{}
	s, err := New("public-orders", "shop", ordersSchema(), 0, wh)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.Table().Table != "orders" {
		t.Fatalf("table = %q, want orders", s.Table().Table)
	}

	s.Append(order("1", "10.5", "2024-01-01T00:00:00Z"))
	s.Append(order("2", "20", "2024-01-02T00:00:00Z"))
	s.Append(order("3", "30", "2024-01-03T00:00:00Z"))

	n, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if n != 3 {
		t.Errorf("Flush() = %d, want 3", n)
	}
	if len(wh.ensured) != 1 || wh.ensured[0].Quoted() != "`shop`.`orders`" {
		t.Errorf("EnsureTable calls = %v", wh.ensured)
	}
	if len(wh.inserts) != 1 {
		t.Fatalf("expected one insert, got %d", len(wh.inserts))
	}
	call := wh.inserts[0]
	if len(call.rows) != 3 {
		t.Fatalf("expected 3 value groups, got %d", len(call.rows))
	}
	for i, row := range call.rows {
		if len(row) != 3 {
			t.Errorf("row %d has %d values, want 3", i, len(row))
		}
	}
	if call.rows[1][0] != json.Number("2") || call.rows[2][2] != "2024-01-03T00:00:00Z" {
		t.Errorf("values misaligned: %v", call.rows)
	}
	if s.State() != Empty || s.Len() != 0 {
		t.Errorf("after flush: state=%s len=%d", s.State(), s.Len())
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	wh := &fakeWarehouse{}
	s, _ := New("orders", "shop", ordersSchema(), 10, wh)

	n, err := s.Flush(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Flush() = %d, %v", n, err)
	}
	if len(wh.ensured) != 0 || len(wh.inserts) != 0 {
		t.Errorf("empty flush touched the warehouse: ensured=%v inserts=%v", wh.ensured, wh.inserts)
	}
}

func TestStateTransitions(t *testing.T) {
	s, _ := New("orders", "", ordersSchema(), 2, &fakeWarehouse{})
	if s.State() != Empty {
		t.Fatalf("initial state = %s", s.State())
	}
	if !s.OldestAt().IsZero() {
		t.Error("empty sink should have no oldest record")
	}

	s.Append(order("1", "1", "x"))
	if s.State() != Accumulating || s.IsFull() {
		t.Errorf("after one record: state=%s full=%v", s.State(), s.IsFull())
	}
	if s.OldestAt().IsZero() {
		t.Error("oldest record time not set")
	}

	s.Append(order("2", "2", "y"))
	if !s.IsFull() {
		t.Error("sink with maxSize records should be full")
	}
	if s.State() != Accumulating {
		t.Errorf("sink must not flush itself, state=%s", s.State())
	}
}

func TestFlushFailureKeepsRecords(t *testing.T) {
	insertErr := &databend.InsertError{Table: "`orders`", Rows: 1, Err: errors.New("boom")}
	wh := &fakeWarehouse{insertErr: insertErr}
	s, _ := New("orders", "", ordersSchema(), 10, wh)
	s.Append(order("1", "1", "x"))

	_, err := s.Flush(context.Background())
	var ie *databend.InsertError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *databend.InsertError", err)
	}
	if s.Len() != 1 || s.State() != Accumulating {
		t.Errorf("records lost after failure: len=%d state=%s", s.Len(), s.State())
	}
}

func TestFlushEnsureFailureSkipsInsert(t *testing.T) {
	wh := &fakeWarehouse{ensureErr: &databend.TableCreationError{Table: "`orders`", Err: errors.New("denied")}}
	s, _ := New("orders", "", ordersSchema(), 10, wh)
	s.Append(order("1", "1", "x"))

	_, err := s.Flush(context.Background())
	var tce *databend.TableCreationError
	if !errors.As(err, &tce) {
		t.Fatalf("error = %v, want *databend.TableCreationError", err)
	}
	if len(wh.inserts) != 0 {
		t.Error("insert must not run when the table cannot be created")
	}
}

func TestAlignRecord(t *testing.T) {
	cols := []string{"a", "b", "c"}
	rec := singer.Record{"c": 3, "a": 1, "extra": "dropped"}

	row := alignRecord(rec, cols)
	if len(row) != 3 || row[0] != 1 || row[1] != nil || row[2] != 3 {
		t.Errorf("alignRecord() = %v", row)
	}
}

func TestSetSchemaUsedOnNextFlush(t *testing.T) {
	wh := &fakeWarehouse{}
	s, _ := New("orders", "", ordersSchema(), 10, wh)

	next := &schema.StreamSchema{Properties: []schema.Property{{Name: "order_id", Types: []string{"integer"}}}}
	s.SetSchema(next)
	s.Append(order("1", "1", "x"))
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if wh.schemas[0] != next {
		t.Error("flush did not use the replaced schema")
	}
	if cols := wh.inserts[0].columns; len(cols) != 1 || cols[0] != "order_id" {
		t.Errorf("columns = %v", cols)
	}
}

func TestNewRejectsEmptyTableName(t *testing.T) {
	_, err := New("public-", "shop", ordersSchema(), 10, &fakeWarehouse{})
	var ie *databend.IdentifierError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *databend.IdentifierError", err)
	}
}

func TestFlushRejectsPlaceholderColumn(t *testing.T) {
	wh := &fakeWarehouse{}
	sc := &schema.StreamSchema{Properties: []schema.Property{
		{Name: "id", Types: []string{"integer"}},
		{Name: "is_paid?", Types: []string{"boolean"}},
	}}
	s, err := New("public-orders", "shop", sc, 10, wh)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.Append(singer.Record{"id": json.Number("1"), "is_paid?": true})

	_, err = s.Flush(context.Background())
	var pe *databend.PlaceholderNameError
	if !errors.As(err, &pe) || pe.Kind != "column" {
		t.Fatalf("error = %v, want column *databend.PlaceholderNameError", err)
	}
	if len(wh.ensured) != 0 || len(wh.inserts) != 0 {
		t.Errorf("nothing should reach the warehouse: ensured=%d inserts=%d", len(wh.ensured), len(wh.inserts))
	}
	if s.Len() != 1 || s.State() != Accumulating {
		t.Errorf("records lost after failure: len=%d state=%s", s.Len(), s.State())
	}
}

func TestNewRejectsPlaceholderTable(t *testing.T) {
	_, err := New("public-orders?", "shop", ordersSchema(), 10, &fakeWarehouse{})
	var pe *databend.PlaceholderNameError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *databend.PlaceholderNameError", err)
	}
}
