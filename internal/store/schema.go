package store

import (
	"fmt"
	"time"
)

// ColumnType is the logical type of a column.
type ColumnType string

const (
	String    ColumnType = "string"
	List      ColumnType = "list"
	Bool      ColumnType = "bool"
	Timestamp ColumnType = "timestamp"
)

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// Table describes one table and its primary key column.
type Table struct {
	Name       string
	PrimaryKey string
	Columns    []Column
}

// Schema is the declared layout of the app store.
type Schema struct {
	Name   string
	Tables []Table
}

// Table names of AppSchema.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
	TableUsers         = "users"
	TableCheckpoints   = "message_commit_checkpoints"
)

// AppSchema is the layout created by the embedded migrations. Table and column
// names must stay byte-identical to data already stored on devices.
var AppSchema = &Schema{
	Name: "wppsync",
	Tables: []Table{
		{
			Name:       TableConversations,
			PrimaryKey: "id",
			Columns: []Column{
				{Name: "id", Type: String, Required: true},
				{Name: "encryptionParameters", Type: String, Required: true},
				{Name: "members", Type: List, Required: true},
				{Name: "name", Type: String},
			},
		},
		{
			Name:       TableMessages,
			PrimaryKey: "id",
			Columns: []Column{
				{Name: "id", Type: String, Required: true},
				{Name: "conversationID", Type: String, Required: true},
				{Name: "userID", Type: String},
				{Name: "type", Type: String, Required: true},
				{Name: "content", Type: String, Required: true},
				{Name: "attachments", Type: List, Required: true},
				{Name: "isEdited", Type: Bool, Required: true},
				{Name: "isSignatureValid", Type: Bool, Required: true},
				{Name: "read", Type: Bool},
				{Name: "createdAt", Type: Timestamp, Required: true},
				{Name: "updatedAt", Type: Timestamp, Required: true},
			},
		},
		{
			Name:       TableUsers,
			PrimaryKey: "id",
			Columns: []Column{
				{Name: "id", Type: String, Required: true},
				{Name: "username", Type: String, Required: true},
				{Name: "name", Type: String},
				{Name: "surname", Type: String},
				{Name: "RSAPublicKey", Type: String, Required: true},
				{Name: "profilePictureID", Type: String},
				{Name: "lastAccess", Type: Timestamp},
			},
		},
		{
			Name:       TableCheckpoints,
			PrimaryKey: "messageCommitID",
			Columns: []Column{
				{Name: "messageCommitID", Type: String, Required: true},
				{Name: "conversationID", Type: String, Required: true},
				{Name: "type", Type: String, Required: true},
				{Name: "date", Type: Timestamp, Required: true},
			},
		},
	},
}

// TableNames returns the declared table names in order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Row is a table row keyed by column name. Values use Go types: string for
// String, []string for List, bool for Bool and time.Time for Timestamp.
// A missing key or nil value means the column is absent.
type Row map[string]any

// ValidateRow checks a row against the table declaration: every required
// column is present, no undeclared column is set, values have the right type
// and the primary key is not empty.
func (t *Table) ValidateRow(row Row) error {
	declared := make(map[string]Column, len(t.Columns))
	for _, c := range t.Columns {
		declared[c.Name] = c
	}
	for name := range row {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, name)
		}
	}
	for _, c := range t.Columns {
		v, ok := row[c.Name]
		if !ok || v == nil {
			if c.Required {
				return fmt.Errorf("%w: %s.%s", ErrMissingColumn, t.Name, c.Name)
			}
			continue
		}
		if !c.Type.accepts(v) {
			return fmt.Errorf("%w: %s.%s want %s, got %T", ErrColumnType, t.Name, c.Name, c.Type, v)
		}
	}
	if key, _ := row[t.PrimaryKey].(string); key == "" {
		return fmt.Errorf("%w: %s.%s is empty", ErrMissingColumn, t.Name, t.PrimaryKey)
	}
	return nil
}

func (ct ColumnType) accepts(v any) bool {
	switch ct {
	case String:
		_, ok := v.(string)
		return ok
	case List:
		_, ok := v.([]string)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Timestamp:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}
