package store

import (
	"context"
	"database/sql"
	"fmt"

	// The sqlite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/wdatafacility/wdf/schema"
)

// OpenSQLite opens a SQLite store. SQLite lacks a fast binary bulk
// interface, so the loader falls back to row inserts for every table.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The row-path queue and the bracket share one session.
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	return &Store{db: db, dialect: schema.SQLite}, nil
}
