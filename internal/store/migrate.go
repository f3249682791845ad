package store

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/wppsync/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations on the database.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}

// VerifySchema compares the live table layout with the declared schema:
// every declared table exists with the declared columns and NOT NULL flags.
func (db *DB) VerifySchema(ctx context.Context) error {
	for _, t := range db.schema.Tables {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(t.Name)))
		if err != nil {
			return fmt.Errorf("table_info %s: %w", t.Name, err)
		}
		live := make(map[string]bool)
		for rows.Next() {
			var (
				cid     int
				name    string
				typ     string
				notNull bool
				dflt    any
				pk      int
			)
			if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
				_ = rows.Close()
				return err
			}
			live[name] = notNull
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(live) == 0 {
			return fmt.Errorf("table %s missing", t.Name)
		}
		for _, c := range t.Columns {
			notNull, ok := live[c.Name]
			if !ok {
				return fmt.Errorf("column %s.%s missing", t.Name, c.Name)
			}
			if notNull != c.Required {
				return fmt.Errorf("column %s.%s: NOT NULL = %v, declared required = %v", t.Name, c.Name, notNull, c.Required)
			}
		}
	}
	return nil
}
