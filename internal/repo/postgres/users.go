package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/wascheduler/internal/domain/user"
	"github.com/geocoder89/wascheduler/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	return r.prom.ObserveDB(op, fn)
}

func (r *UsersRepo) Create(ctx context.Context, email, passwordHash, verificationToken string) (user.User, error) {
	u := user.User{
		Email:             email,
		PasswordHash:      passwordHash,
		VerificationToken: &verificationToken,
	}

	err := r.observe("users.create", func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, verification_token)
			VALUES ($1, $2, $3)
			RETURNING id, verified, created_at`,
			email, passwordHash, verificationToken,
		).Scan(&u.ID, &u.Verified, &u.CreatedAt)
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_email", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT id, email, password_hash, verified, verification_token, created_at
			FROM users
			WHERE email = $1`,
			email,
		).Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&u.Verified,
			&u.VerificationToken,
			&u.CreatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

// MarkVerified flips verified and clears the token, but only while token is
// still the one on record. A consumed or superseded token matches no row.
func (r *UsersRepo) MarkVerified(ctx context.Context, email, token string) error {
	var affected int64

	err := r.observe("users.mark_verified", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users
			SET verified = true, verification_token = NULL
			WHERE email = $1 AND verification_token = $2 AND verified = false`,
			email, token,
		)
		affected = tag.RowsAffected()
		return err
	})

	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}
