package store

import (
	"context"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on id). CreatedAt and
// UpdatedAt are normalized in place with NormalizeTime.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	return db.Put(ctx, TableMessages, messageRow(m))
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	row, err := db.Get(ctx, TableMessages, id)
	if err != nil || row == nil {
		return nil, err
	}
	return messageFromRow(row), nil
}

// ListMessages returns messages of a conversation created before the given
// time, newest first. A zero before means now.
func (db *DB) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().Add(time.Millisecond)
	}
	rows, err := db.query(ctx, TableMessages,
		`WHERE "conversationID" = ? AND "createdAt" < ? ORDER BY "createdAt" DESC LIMIT ?`,
		conversationID, before.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, *messageFromRow(row))
	}
	return msgs, nil
}

// OldestMessage returns the earliest stored message of a conversation, or nil.
func (db *DB) OldestMessage(ctx context.Context, conversationID string) (*Message, error) {
	rows, err := db.query(ctx, TableMessages,
		`WHERE "conversationID" = ? ORDER BY "createdAt" ASC LIMIT 1`, conversationID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return messageFromRow(rows[0]), nil
}

func messageRow(m *Message) Row {
	m.CreatedAt = NormalizeTime(m.CreatedAt)
	m.UpdatedAt = NormalizeTime(m.UpdatedAt)
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	row := Row{
		"id":               m.ID,
		"conversationID":   m.ConversationID,
		"type":             m.Type,
		"content":          m.Content,
		"attachments":      attachments,
		"isEdited":         m.IsEdited,
		"isSignatureValid": m.IsSignatureValid,
		"createdAt":        m.CreatedAt,
		"updatedAt":        m.UpdatedAt,
	}
	setOptional(row, "userID", m.UserID)
	setOptional(row, "read", m.Read)
	return row
}

func messageFromRow(row Row) *Message {
	return &Message{
		ID:               required[string](row, "id"),
		ConversationID:   required[string](row, "conversationID"),
		UserID:           optional[string](row, "userID"),
		Type:             required[string](row, "type"),
		Content:          required[string](row, "content"),
		Attachments:      required[[]string](row, "attachments"),
		IsEdited:         required[bool](row, "isEdited"),
		IsSignatureValid: required[bool](row, "isSignatureValid"),
		Read:             optional[bool](row, "read"),
		CreatedAt:        required[time.Time](row, "createdAt"),
		UpdatedAt:        required[time.Time](row, "updatedAt"),
	}
}
