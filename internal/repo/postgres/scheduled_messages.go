package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/wascheduler/internal/domain/schedule"
	"github.com/geocoder89/wascheduler/internal/observability"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduledMessagesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewScheduledMessagesRepo(pool *pgxpool.Pool, prom *observability.Prom) *ScheduledMessagesRepo {
	return &ScheduledMessagesRepo{pool: pool, prom: prom}
}

func (r *ScheduledMessagesRepo) observe(op string, fn func() error) error {
	return r.prom.ObserveDB(op, fn)
}

func (r *ScheduledMessagesRepo) Create(ctx context.Context, in schedule.NewMessage) (schedule.Message, error) {
	m := schedule.Message{
		UserID:        in.UserID,
		PhoneNumber:   in.PhoneNumber,
		Message:       in.Message,
		ScheduledTime: in.ScheduledTime,
	}

	err := r.observe("scheduled_messages.create", func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO scheduled_messages (user_id, phone_number, message, scheduled_time, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, scheduled_time, status, created_at`,
			in.UserID, in.PhoneNumber, in.Message, in.ScheduledTime, schedule.StatusScheduled,
		).Scan(&m.ID, &m.ScheduledTime, &m.Status, &m.CreatedAt)
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return schedule.Message{}, schedule.ErrUnknownUser
		}
		return schedule.Message{}, err
	}

	return m, nil
}

func (r *ScheduledMessagesRepo) ListByUser(ctx context.Context, userID int64) ([]schedule.Message, error) {
	out := make([]schedule.Message, 0)

	err := r.observe("scheduled_messages.list_by_user", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, user_id, phone_number, message, scheduled_time, status, created_at
			FROM scheduled_messages
			WHERE user_id = $1
			ORDER BY scheduled_time ASC, id ASC`,
			userID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m schedule.Message
			err = rows.Scan(&m.ID, &m.UserID, &m.PhoneNumber, &m.Message, &m.ScheduledTime, &m.Status, &m.CreatedAt)
			if err != nil {
				return err
			}
			out = append(out, m)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}
