package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Gateway owns the on-device store: it opens and migrates it once, clears
// tables and deletes the whole database. Table writes from different tables
// are not grouped into a transaction.
type Gateway struct {
	path   string
	schema *Schema
	logger *zap.Logger

	mu sync.Mutex
	db *DB
}

// NewGateway creates a gateway for the database file at path. Nothing is
// opened until Initialize.
func NewGateway(path string, schema *Schema, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{path: path, schema: schema, logger: logger}
}

// Initialize opens, migrates and verifies the store. Calls after a successful
// one are no-ops. Failures return *InitError and leave the gateway closed, so
// a later call may retry.
func (g *Gateway) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db != nil {
		return nil
	}

	db, err := Open(g.path, g.schema)
	if err != nil {
		return &InitError{Path: g.path, Err: err}
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return &InitError{Path: g.path, Err: err}
	}
	if err := db.VerifySchema(ctx); err != nil {
		_ = db.Close()
		return &InitError{Path: g.path, Err: fmt.Errorf("verify schema: %w", err)}
	}

	if result.Changed {
		g.logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		g.logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	g.logger.Info("store initialized", zap.String("path", g.path))
	g.db = db
	return nil
}

// DB returns the open database, or ErrNotInitialized.
func (g *Gateway) DB() (*DB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil, ErrNotInitialized
	}
	return g.db, nil
}

// Path returns the database file path.
func (g *Gateway) Path() string {
	return g.path
}

// Tables returns the declared table names in schema order.
func (g *Gateway) Tables() []string {
	return g.schema.TableNames()
}

// ClearTable deletes every row of a declared table.
func (g *Gateway) ClearTable(ctx context.Context, name string) error {
	if _, ok := g.schema.Table(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	db, err := g.DB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+quote(name))
	if err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	g.logger.Info("table cleared", zap.String("table", name), zap.Int64("rows", n))
	return nil
}

// SaveUser upserts a user row.
func (g *Gateway) SaveUser(ctx context.Context, u *User) error {
	db, err := g.DB()
	if err != nil {
		return err
	}
	return db.UpsertUser(ctx, u)
}

// DropEntirely closes the store and deletes the database file together with
// its WAL and shared-memory files. The gateway is uninitialized afterwards.
func (g *Gateway) DropEntirely(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		if err := g.db.Close(); err != nil {
			g.logger.Warn("error closing store before drop", zap.Error(err))
		}
		g.db = nil
	}
	for _, p := range []string{g.path, g.path + "-wal", g.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	g.logger.Warn("store dropped", zap.String("path", g.path))
	return nil
}

// Close closes the store if open.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}
