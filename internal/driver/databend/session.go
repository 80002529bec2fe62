package databend

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Session is a single short-lived connection. Every catalog lookup, DDL and
// DML call opens its own session and closes it before returning.
type Session interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Exists runs a query and reports whether it returned at least one row.
	Exists(ctx context.Context, query string, args ...any) (bool, error)

	// Commit ends the implicit transaction of the session.
	Commit(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Opener creates sessions.
type Opener func(ctx context.Context) (Session, error)

// MySQLOpener opens sessions over the MySQL protocol. Each session gets its
// own *sql.DB limited to one connection, so nothing is pooled across calls.
func MySQLOpener(dsn string) Opener {
	return func(ctx context.Context) (Session, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening connection: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connecting: %w", err)
		}
		return &sqlSession{db: db, conn: conn}, nil
	}
}

type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *sqlSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

func (s *sqlSession) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (s *sqlSession) Commit(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "COMMIT")
	return err
}

func (s *sqlSession) Close() error {
	connErr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return connErr
}
