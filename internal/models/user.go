package models

import "time"

// User represents an application user record.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sanitize returns a copy of the user without sensitive fields populated.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	return u
}

// CurrentUser is the identity handed to the chat core for an authenticated request.
type CurrentUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
