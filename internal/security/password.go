package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only reads the first 72 bytes of its input
const MaxPasswordBytes = 72

var (
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")
	ErrMismatch        = errors.New("password does not match")
)

// Hasher wraps bcrypt, which salts every hash with fresh randomness and
// stores the salt and cost in the hash string itself.
type Hasher struct {
	cost int
}

// NewHasher falls back to bcrypt.DefaultCost for an out of range cost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check returns ErrMismatch for a wrong password and any other error for a
// hash bcrypt cannot read.
func (h *Hasher) Check(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}
