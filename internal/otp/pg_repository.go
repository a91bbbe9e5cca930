package otp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const challengeColumns = `id, appointment_id, code, expires_at, used, superseded, attempts, created_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge

	err := row.Scan(
		&c.ID,
		&c.AppointmentID,
		&c.Code,
		&c.ExpiresAt,
		&c.Used,
		&c.Superseded,
		&c.Attempts,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) Create(ctx context.Context, ch *Challenge) (*Challenge, error) {
	id := ch.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO otp_challenges (id, appointment_id, code, expires_at, used, superseded, attempts, created_at)
		VALUES ($1, $2, $3, $4, false, false, 0, now())
		RETURNING `+challengeColumns+`
	`, id, ch.AppointmentID, ch.Code, ch.ExpiresAt)

	return scanChallenge(row)
}

func (r *PgRepository) SupersedeLive(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE otp_challenges
		SET superseded = true
		WHERE appointment_id = $1
		  AND NOT used
		  AND NOT superseded
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("supersede challenges: %w", err)
	}
	return nil
}

func (r *PgRepository) GetCurrent(ctx context.Context, appointmentID uuid.UUID) (*Challenge, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+challengeColumns+`
		FROM otp_challenges
		WHERE appointment_id = $1
		  AND NOT superseded
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanChallenge(row)
}

func (r *PgRepository) IncrementAttempts(ctx context.Context, id uuid.UUID, max int) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE id = $1
		  AND attempts < $2
		RETURNING attempts
	`, id, max).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already saturated.
			return max, nil
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

func (r *PgRepository) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE otp_challenges
		SET used = true
		WHERE id = $1
		  AND NOT used
	`, id)
	if err != nil {
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
