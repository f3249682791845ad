package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned wppsync.db.
type DB struct {
	*sql.DB
	schema *Schema
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Rows are validated against schema.
func Open(path string, schema *Schema) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, schema: schema}, nil
}

// Schema returns the declared schema rows are validated against.
func (db *DB) Schema() *Schema {
	return db.schema
}
