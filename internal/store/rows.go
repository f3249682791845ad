package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put validates row against the table declaration and upserts it on the
// primary key.
func (db *DB) Put(ctx context.Context, table string, row Row) error {
	return put(ctx, db.DB, db.schema, table, row)
}

func put(ctx context.Context, ex execer, schema *Schema, table string, row Row) error {
	t, ok := schema.Table(table)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err := t.ValidateRow(row); err != nil {
		return err
	}

	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	args := make([]any, len(t.Columns))
	var updates []string
	for i, c := range t.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
		v, err := encodeValue(c.Type, row[c.Name])
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", t.Name, c.Name, err)
		}
		args[i] = v
		if c.Name != t.PrimaryKey {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c.Name), quote(c.Name)))
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quote(t.Name), strings.Join(cols, ", "), strings.Join(marks, ", "),
		quote(t.PrimaryKey), strings.Join(updates, ", "))
	if _, err := ex.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("put %s: %w", t.Name, err)
	}
	return nil
}

// Get reads one row by primary key. Returns nil, nil when no row matches.
func (db *DB) Get(ctx context.Context, table string, key string) (Row, error) {
	t, ok := db.schema.Table(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", t.selectList(), quote(t.Name), quote(t.PrimaryKey))
	rows, err := db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return t.scanRow(rows)
}

// query runs a SELECT of every declared column with the given suffix
// (WHERE / ORDER BY / LIMIT) and decodes each result into a Row.
func (db *DB) query(ctx context.Context, table string, suffix string, args ...any) ([]Row, error) {
	t, ok := db.schema.Table(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	q := fmt.Sprintf("SELECT %s FROM %s %s", t.selectList(), quote(t.Name), suffix)
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		row, err := t.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *Table) selectList() string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quote(c.Name)
	}
	return strings.Join(cols, ", ")
}

func (t *Table) scanRow(rows *sql.Rows) (Row, error) {
	dest := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		switch c.Type {
		case Bool:
			dest[i] = new(sql.NullBool)
		case Timestamp:
			dest[i] = new(sql.NullInt64)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	row := make(Row, len(t.Columns))
	for i, c := range t.Columns {
		v, err := decodeValue(c.Type, dest[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", t.Name, c.Name, err)
		}
		if v != nil {
			row[c.Name] = v
		}
	}
	return row, nil
}

func encodeValue(ct ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ct {
	case List:
		list := v.([]string)
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case Timestamp:
		return v.(time.Time).UnixMilli(), nil
	default:
		return v, nil
	}
}

// NormalizeTime returns t the way the store reads it back: truncated to whole
// milliseconds since the epoch, in UTC.
func NormalizeTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

func decodeValue(ct ColumnType, dest any) (any, error) {
	switch ct {
	case Bool:
		nb := dest.(*sql.NullBool)
		if !nb.Valid {
			return nil, nil
		}
		return nb.Bool, nil
	case Timestamp:
		ni := dest.(*sql.NullInt64)
		if !ni.Valid {
			return nil, nil
		}
		return time.UnixMilli(ni.Int64).UTC(), nil
	case List:
		ns := dest.(*sql.NullString)
		if !ns.Valid {
			return nil, nil
		}
		list := []string{}
		if err := json.Unmarshal([]byte(ns.String), &list); err != nil {
			return nil, err
		}
		return list, nil
	default:
		ns := dest.(*sql.NullString)
		if !ns.Valid {
			return nil, nil
		}
		return ns.String, nil
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}
