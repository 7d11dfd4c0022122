package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

type User struct {
	ID                int64     `json:"id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"` // never expose hash in JSON
	Verified          bool      `json:"verified"`
	VerificationToken *string   `json:"-"` // cleared once the address is verified
	CreatedAt         time.Time `json:"createdAt"`
}

// HasPendingVerification reports whether tok is the token this user still waits on.
func (u User) HasPendingVerification(tok string) bool {
	return !u.Verified && u.VerificationToken != nil && *u.VerificationToken == tok
}
