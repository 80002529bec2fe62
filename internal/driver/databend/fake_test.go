package databend

import (
	"context"
	"strings"
	"sync"
)

type statement struct {
	query string
	args  []any
}

// fakeDB records what sessions opened from it were asked to do.
type fakeDB struct {
	mu       sync.Mutex
	tables   map[string]bool // keyed by the LIKE argument
	execs    []statement
	queries  []statement
	commits  int
	opens    int
	closes   int
	openErr  error
	execErr  error
	queryErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string]bool)}
}

func (f *fakeDB) opener() Opener {
	return func(ctx context.Context) (Session, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.openErr != nil {
			return nil, f.openErr
		}
		f.opens++
		return &fakeSession{db: f}, nil
	}
}

type fakeSession struct {
	db *fakeDB
}

func (s *fakeSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.execs = append(s.db.execs, statement{query, args})
	if s.db.execErr != nil {
		return 0, s.db.execErr
	}
	if strings.HasPrefix(query, "INSERT") {
		return int64(strings.Count(query, "),(") + 1), nil
	}
	return 0, nil
}

func (s *fakeSession) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.queries = append(s.db.queries, statement{query, args})
	if s.db.queryErr != nil {
		return false, s.db.queryErr
	}
	if strings.HasPrefix(query, "SHOW TABLES") && len(args) == 1 {
		name, _ := args[0].(string)
		return s.db.tables[name], nil
	}
	return true, nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.commits++
	return nil
}

func (s *fakeSession) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.closes++
	return nil
}
