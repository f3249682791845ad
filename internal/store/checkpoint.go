package store

import (
	"context"
	"fmt"
	"time"
)

// AdvanceCheckpoint records cp as the latest commit for its conversation and
// type. Older checkpoints of the same pair are replaced; a checkpoint older
// than the stored one is ignored, and so is a message already committed under
// another conversation or type. Reports whether cp was stored. Date is
// normalized in place with NormalizeTime.
func (db *DB) AdvanceCheckpoint(ctx context.Context, cp *Checkpoint) (bool, error) {
	cp.Date = NormalizeTime(cp.Date)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var newer int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM "message_commit_checkpoints"
		WHERE "conversationID" = ? AND "type" = ? AND "date" > ?`,
		cp.ConversationID, cp.Type, cp.Date.UnixMilli()).Scan(&newer); err != nil {
		return false, fmt.Errorf("compare checkpoint: %w", err)
	}
	if newer > 0 {
		return false, nil
	}

	var owned int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM "message_commit_checkpoints"
		WHERE "messageCommitID" = ? AND NOT ("conversationID" = ? AND "type" = ?)`,
		cp.MessageCommitID, cp.ConversationID, cp.Type).Scan(&owned); err != nil {
		return false, fmt.Errorf("check commit owner: %w", err)
	}
	if owned > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM "message_commit_checkpoints"
		WHERE "conversationID" = ? AND "type" = ?`,
		cp.ConversationID, cp.Type); err != nil {
		return false, fmt.Errorf("replace checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO "message_commit_checkpoints" ("messageCommitID", "conversationID", "type", "date")
		VALUES (?, ?, ?, ?)`,
		cp.MessageCommitID, cp.ConversationID, cp.Type, cp.Date.UnixMilli()); err != nil {
		return false, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit checkpoint: %w", err)
	}
	return true, nil
}

// LatestCheckpoint returns the newest checkpoint for a conversation and type, or nil.
func (db *DB) LatestCheckpoint(ctx context.Context, conversationID, typ string) (*Checkpoint, error) {
	rows, err := db.query(ctx, TableCheckpoints,
		`WHERE "conversationID" = ? AND "type" = ? ORDER BY "date" DESC LIMIT 1`, conversationID, typ)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	row := rows[0]
	return &Checkpoint{
		MessageCommitID: required[string](row, "messageCommitID"),
		ConversationID:  required[string](row, "conversationID"),
		Type:            required[string](row, "type"),
		Date:            required[time.Time](row, "date"),
	}, nil
}

// Counts returns the number of rows in each table.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int64
	}{
		{TableConversations, &c.Conversations},
		{TableMessages, &c.Messages},
		{TableUsers, &c.Users},
		{TableCheckpoints, &c.Checkpoints},
	} {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(q.table)).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return c, nil
}
