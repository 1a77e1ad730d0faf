// Package models defines server-side data models: persisted users and the
// in-memory diagnosis records kept in a session's history.
package models

import "time"

type User struct {
	ID           int64
	UserName     string
	PasswordHash string
	CreatedAt    time.Time
}
