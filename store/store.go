// Package store is the gateway to the relational database. It exposes the
// narrow contract the pipeline needs over either PostgreSQL (pgx) or
// SQLite: natural-key lookup, bulk load with a fast COPY path, row inserts,
// arbitrary execution and a transactional bracket. The gateway never
// caches; caching is strictly the resolver's job.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"

	"github.com/wdatafacility/wdf/schema"
)

// RowRejectedError reports that the fast bulk path rejected a specific row.
// Line is 1-based within the slice that was being loaded.
type RowRejectedError struct {
	Table string
	Line  int
	Cause error
}

func (e *RowRejectedError) Error() string {
	return fmt.Sprintf("copy to table %s rejected row at line %d: %v", e.Table, e.Line, e.Cause)
}

func (e *RowRejectedError) Unwrap() error { return e.Cause }

var copyLineRe = regexp.MustCompile(`line (\d+)`)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a single-consumer handle on the database. It is not safe for
// concurrent use; parallel imports each open their own Store.
type Store struct {
	db       *sql.DB
	dialect  schema.Dialect
	copyConn *pgx.Conn
	tx       *sql.Tx
}

// Dialect reports the SQL flavor of the underlying database.
func (s *Store) Dialect() schema.Dialect { return s.dialect }

// HasCopy reports whether the store exposes a fast binary bulk interface.
func (s *Store) HasCopy() bool { return s.copyConn != nil }

// Close releases the copy connection and closes the pool.
func (s *Store) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.copyConn != nil {
		if err := stdlib.ReleaseConn(s.db, s.copyConn); err != nil {
			return fmt.Errorf("releasing copy connection: %w", err)
		}
		s.copyConn = nil
	}
	return s.db.Close()
}

// Migrate applies the schema DDL for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema.DDL(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying DDL: %w", err)
		}
	}
	return nil
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Begin opens the transactional bracket. Only one bracket may be open.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("transaction already open")
	}
	var tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DB.BeginTx: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit closes the bracket, persisting everything written through it.
func (s *Store) Commit() error {
	if s.tx == nil {
		return errors.New("no open transaction")
	}
	var err = s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards the bracket. A Rollback with no open bracket is a no-op.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	var err = s.tx.Rollback()
	s.tx = nil
	return err
}

// Reset verifies the store is usable after a failed load. The fast bulk
// path runs on its own connection outside the bracket, so a rejected slice
// never poisons an open transaction; the copy connection itself is checked.
func (s *Store) Reset(ctx context.Context) error {
	if s.copyConn == nil {
		return nil
	}
	if err := s.copyConn.Ping(ctx); err != nil {
		return fmt.Errorf("copy connection unusable after failed load: %w", err)
	}
	return nil
}

// rebind rewrites ?-style placeholders into the dialect's parameter syntax.
func (s *Store) rebind(query string) string {
	if s.dialect == schema.SQLite {
		return query
	}
	var b strings.Builder
	var n = 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Exec runs a parameterized statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var res, err = s.q().ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	var n, _ = res.RowsAffected()
	return n, nil
}

// Query runs a parameterized query.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.q().QueryContext(ctx, s.rebind(query), args...)
}

// QueryRow runs a parameterized single-row query.
func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.q().QueryRowContext(ctx, s.rebind(query), args...)
}

// Lookup returns the natural-key → id mapping for rows of the table whose
// key column matches one of keys. An empty key set returns an empty map
// without touching the database.
func (s *Store) Lookup(ctx context.Context, table *schema.Table, keyColumn string, keys []string) (map[string]uuid.UUID, error) {
	var found = make(map[string]uuid.UUID, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	var placeholders = make([]string, len(keys))
	var args = make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}
	var query = fmt.Sprintf("SELECT %s, id FROM %s WHERE %s IN (%s)",
		keyColumn, table.Name, keyColumn, strings.Join(placeholders, ", "))

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("looking up %s by %s: %w", table.Name, keyColumn, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, rawID string
		if err = rows.Scan(&key, &rawID); err != nil {
			return nil, fmt.Errorf("scanning %s lookup: %w", table.Name, err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parsing %s id: %w", table.Name, err)
		}
		found[key] = id
	}
	return found, rows.Err()
}

// InsertRow writes a single row through the row path.
func (s *Store) InsertRow(ctx context.Context, row schema.Row) error {
	var table = row.Table()
	var cols = table.ColumnNames()
	var placeholders = make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	var query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.Exec(ctx, query, row.Values()...); err != nil {
		return fmt.Errorf("inserting into %s: %w", table.Name, err)
	}
	return nil
}

// CopyRows writes a slice of rows through the fast binary path. When the
// server rejects a specific input line the error is a *RowRejectedError so
// the loader can quarantine exactly that row.
func (s *Store) CopyRows(ctx context.Context, table *schema.Table, rows []schema.Row) error {
	if s.copyConn == nil {
		return errors.New("store has no fast bulk interface")
	}
	if len(rows) == 0 {
		return nil
	}

	var values = make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}

	var _, err = s.copyConn.CopyFrom(ctx,
		pgx.Identifier{table.Name}, table.ColumnNames(), pgx.CopyFromRows(values))
	if err == nil {
		return nil
	}

	// The server identifies the offending input line in the error context
	// ("COPY <table>, line N, ..."); surface it so the caller can evict it.
	var where = err.Error()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Where != "" {
		where = pgErr.Where
	}
	if m := copyLineRe.FindStringSubmatch(where); m != nil {
		var line, _ = strconv.Atoi(m[1])
		return &RowRejectedError{Table: table.Name, Line: line, Cause: err}
	}
	return fmt.Errorf("copy to table %s: %w", table.Name, err)
}
