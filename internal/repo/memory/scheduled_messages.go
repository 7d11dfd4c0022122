package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/wascheduler/internal/domain/schedule"
)

type ScheduledMessagesRepo struct {
	mu     sync.RWMutex
	nextID int64
	items  []schedule.Message
	users  *UsersRepo
}

// NewScheduledMessagesRepo returns an in-memory store. When users is not nil
// inserts for unknown user ids fail like the postgres foreign key would.
func NewScheduledMessagesRepo(users *UsersRepo) *ScheduledMessagesRepo {
	return &ScheduledMessagesRepo{users: users}
}

func (r *ScheduledMessagesRepo) Create(_ context.Context, in schedule.NewMessage) (schedule.Message, error) {
	if r.users != nil && !r.users.existsID(in.UserID) {
		return schedule.Message{}, schedule.ErrUnknownUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	m := schedule.Message{
		ID:            r.nextID,
		UserID:        in.UserID,
		PhoneNumber:   in.PhoneNumber,
		Message:       in.Message,
		ScheduledTime: in.ScheduledTime.UTC(),
		Status:        schedule.StatusScheduled,
		CreatedAt:     time.Now().UTC(),
	}
	r.items = append(r.items, m)

	return m, nil
}

func (r *ScheduledMessagesRepo) ListByUser(_ context.Context, userID int64) ([]schedule.Message, error) {
	r.mu.RLock()
	out := make([]schedule.Message, 0)
	for _, m := range r.items {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()

	// same ordering as the postgres query: scheduled_time, then id
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})

	return out, nil
}
