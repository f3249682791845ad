package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a write transaction with the same row validation as DB.
type Tx struct {
	*sql.Tx
	schema *Schema
}

// Batch runs fn in a transaction, committing when fn returns nil.
func (db *DB) Batch(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{Tx: sqlTx, schema: db.schema}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Put validates and upserts a row inside the transaction.
func (tx *Tx) Put(ctx context.Context, table string, row Row) error {
	return put(ctx, tx.Tx, tx.schema, table, row)
}

// UpsertMessage inserts or updates a message inside the transaction.
func (tx *Tx) UpsertMessage(ctx context.Context, m *Message) error {
	return tx.Put(ctx, TableMessages, messageRow(m))
}

// EnsureConversation creates a missing conversation inside the transaction.
func (tx *Tx) EnsureConversation(ctx context.Context, id, encryptionParameters string) error {
	return ensureConversation(ctx, tx.Tx, id, encryptionParameters)
}
