package model

import "time"

// UserID uniquely identifies a registered user
type UserID int64

// User is a registered account
type User struct {
	ID             UserID
	Username       string // unique, immutable
	CredentialHash string // bcrypt hash of the credential
	Reputation     int    // not used by game logic yet
	CreatedAt      time.Time
}
