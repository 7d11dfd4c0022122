package observability

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATEs the stores are expected to hit; anything else is labelled
// pg_<code>.
var pgErrClasses = map[string]string{
	"23505": "unique_violation",      // users.email
	"23503": "foreign_key_violation", // scheduled_messages.user_id
	"23502": "not_null_violation",
	"23514": "check_violation",
	"57014": "query_canceled",
	"40001": "serialization_failure",
}

// ObserveDB times fn as the logical operation op. A lookup that finds no
// row is recorded as a miss and not counted as an error.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		outcome = "miss"
	default:
		outcome = "error"
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}

	p.DbQueryDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return err
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if class, ok := pgErrClasses[pgErr.Code]; ok {
			return class
		}
		return "pg_" + pgErr.Code
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	default:
		return "unknown"
	}
}
