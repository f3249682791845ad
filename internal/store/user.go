package store

import (
	"context"
	"time"
)

// UpsertUser inserts or updates a user. LastAccess is normalized in place
// with NormalizeTime.
func (db *DB) UpsertUser(ctx context.Context, u *User) error {
	if u.LastAccess != nil {
		t := NormalizeTime(*u.LastAccess)
		u.LastAccess = &t
	}
	row := Row{
		"id":           u.ID,
		"username":     u.Username,
		"RSAPublicKey": u.RSAPublicKey,
	}
	setOptional(row, "name", u.Name)
	setOptional(row, "surname", u.Surname)
	setOptional(row, "profilePictureID", u.ProfilePictureID)
	setOptional(row, "lastAccess", u.LastAccess)
	return db.Put(ctx, TableUsers, row)
}

// GetUser returns a user by id, or nil when absent.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	row, err := db.Get(ctx, TableUsers, id)
	if err != nil || row == nil {
		return nil, err
	}
	return userFromRow(row), nil
}

func userFromRow(row Row) *User {
	return &User{
		ID:               required[string](row, "id"),
		Username:         required[string](row, "username"),
		Name:             optional[string](row, "name"),
		Surname:          optional[string](row, "surname"),
		RSAPublicKey:     required[string](row, "RSAPublicKey"),
		ProfilePictureID: optional[string](row, "profilePictureID"),
		LastAccess:       optional[time.Time](row, "lastAccess"),
	}
}
