package store

import (
	"context"
	"fmt"
)

// UpsertConversation inserts or updates a conversation.
func (db *DB) UpsertConversation(ctx context.Context, c *Conversation) error {
	members := c.Members
	if members == nil {
		members = []string{}
	}
	row := Row{
		"id":                   c.ID,
		"encryptionParameters": c.EncryptionParameters,
		"members":              members,
	}
	setOptional(row, "name", c.Name)
	return db.Put(ctx, TableConversations, row)
}

// EnsureConversation creates a conversation with no members if the id is
// unknown; existing rows are left untouched.
func (db *DB) EnsureConversation(ctx context.Context, id, encryptionParameters string) error {
	return ensureConversation(ctx, db.DB, id, encryptionParameters)
}

func ensureConversation(ctx context.Context, ex execer, id, encryptionParameters string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO "conversations" ("id", "encryptionParameters", "members")
		VALUES (?, ?, '[]')
		ON CONFLICT("id") DO NOTHING`, id, encryptionParameters)
	if err != nil {
		return fmt.Errorf("ensure conversation %q: %w", id, err)
	}
	return nil
}

// GetConversation returns a conversation by id, or nil when absent.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row, err := db.Get(ctx, TableConversations, id)
	if err != nil || row == nil {
		return nil, err
	}
	return conversationFromRow(row), nil
}

// ListConversations returns every conversation ordered by id.
func (db *DB) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := db.query(ctx, TableConversations, `ORDER BY "id"`)
	if err != nil {
		return nil, err
	}
	convs := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, *conversationFromRow(row))
	}
	return convs, nil
}

func conversationFromRow(row Row) *Conversation {
	return &Conversation{
		ID:                   required[string](row, "id"),
		EncryptionParameters: required[string](row, "encryptionParameters"),
		Members:              required[[]string](row, "members"),
		Name:                 optional[string](row, "name"),
	}
}
