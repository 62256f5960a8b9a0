// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Username and Email are always stored lowercased so that uniqueness is
// case-insensitive. PasswordHash holds a one-way digest, never the
// plaintext, and is never serialized to JSON.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DisplayName returns the first name when set, otherwise the username.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}
