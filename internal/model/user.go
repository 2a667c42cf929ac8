// Package model defines domain models and data structures.
package model

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 6
	// bcrypt rejects longer input
	maxPasswordBytes = 72
)

// User represents a user entity.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	OrderCount   int64     `json:"order_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateUserParams represents parameters for creating a new user.
type CreateUserParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims surrounding whitespace and lowercases the email.
func (p *CreateUserParams) Normalize() {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
}

// Validate validates the create user parameters.
func (p *CreateUserParams) Validate() error {
	verr := NewValidationError()

	switch n := utf8.RuneCountInString(p.Username); {
	case n == 0:
		verr.Add("username", "username is required")
	case n < minUsernameLength || n > maxUsernameLength:
		verr.Add("username", "username must be between 3 and 50 characters")
	}

	if p.Email == "" {
		verr.Add("email", "email is required")
	} else if addr, err := mail.ParseAddress(p.Email); err != nil || addr.Address != p.Email {
		verr.Add("email", "email is not a valid address")
	}

	switch {
	case utf8.RuneCountInString(p.Password) < minPasswordLength:
		verr.Add("password", "password must be at least 6 characters")
	case len(p.Password) > maxPasswordBytes:
		verr.Add("password", "password must be at most 72 bytes")
	}

	return verr.OrNil()
}
