package schedule

import (
	"errors"
	"strings"
	"time"
)

type Status string

// StatusScheduled is the only status this service ever writes; nothing
// dispatches messages, so records never move past it.
const StatusScheduled Status = "scheduled"

var (
	ErrUnknownUser = errors.New("scheduled message references unknown user")
	ErrInvalidTime = errors.New("invalid scheduled time")
)

// Message keeps the snake_case row shape clients already consume.
type Message struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	PhoneNumber   string    `json:"phone_number"`
	Message       string    `json:"message"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type NewMessage struct {
	UserID        int64
	PhoneNumber   string
	Message       string
	ScheduledTime time.Time
}

type ScheduleRequest struct {
	UserID        int64  `json:"userId" binding:"required,min=1"`
	PhoneNumber   string `json:"phoneNumber" binding:"required,max=20"`
	Message       string `json:"message" binding:"required"`
	ScheduledTime string `json:"scheduledTime" binding:"required"`
}

// accepted in order; the zone-less layouts are what a datetime-local input posts
var scheduledTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledTime reads a client supplied send time. Values without a
// zone are taken as UTC. Past times are accepted.
func ParseScheduledTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range scheduledTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTime
}
