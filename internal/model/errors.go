package model

import "errors"

// Common errors used across the application
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingCredentials = errors.New("username and password are required")

	// Fortune errors
	ErrFortuneNotFound  = errors.New("fortune not found")
	ErrNoFortunes       = errors.New("no fortunes match the filter")
	ErrEmptyFortuneText = errors.New("fortune text is empty")
	ErrInvalidCategory  = errors.New("invalid fortune category")
	ErrInvalidRarity    = errors.New("invalid fortune rarity")
)
