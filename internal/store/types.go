package store

import "time"

// Conversation is a row of the conversations table.
type Conversation struct {
	ID                   string
	EncryptionParameters string
	Members              []string
	Name                 *string
}

// Message is a row of the messages table. UserID is nil for messages sent
// from this device's account.
type Message struct {
	ID               string
	ConversationID   string
	UserID           *string
	Type             string
	Content          string
	Attachments      []string
	IsEdited         bool
	IsSignatureValid bool
	Read             *bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User is a row of the users table.
type User struct {
	ID               string
	Username         string
	Name             *string
	Surname          *string
	RSAPublicKey     string
	ProfilePictureID *string
	LastAccess       *time.Time
}

// Checkpoint is a row of message_commit_checkpoints: the last message
// committed for a conversation by one kind of sync.
type Checkpoint struct {
	MessageCommitID string
	ConversationID  string
	Type            string
	Date            time.Time
}

// Counts holds row counts per table.
type Counts struct {
	Conversations int64
	Messages      int64
	Users         int64
	Checkpoints   int64
}

func setOptional[T any](row Row, col string, v *T) {
	if v != nil {
		row[col] = *v
	}
}

func optional[T any](row Row, col string) *T {
	v, ok := row[col].(T)
	if !ok {
		return nil
	}
	return &v
}

func required[T any](row Row, col string) T {
	v, _ := row[col].(T)
	return v
}
