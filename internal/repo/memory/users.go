package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/wascheduler/internal/domain/user"
)

type UsersRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  map[string]user.User // keyed by email
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.User),
	}
}

func (r *UsersRepo) Create(_ context.Context, email, passwordHash, verificationToken string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[email]; ok {
		return user.User{}, user.ErrEmailTaken
	}

	r.nextID++
	tok := verificationToken
	u := user.User{
		ID:                r.nextID,
		Email:             email,
		PasswordHash:      passwordHash,
		VerificationToken: &tok,
		CreatedAt:         time.Now().UTC(),
	}
	r.items[email] = u

	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) MarkVerified(_ context.Context, email, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[email]
	if !ok || !u.HasPendingVerification(token) {
		return user.ErrNotFound
	}

	u.Verified = true
	u.VerificationToken = nil
	r.items[email] = u
	return nil
}

// existsID lets the schedule repo mimic the users foreign key.
func (r *UsersRepo) existsID(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.ID == id {
			return true
		}
	}
	return false
}
