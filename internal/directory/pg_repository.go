package directory

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

const doctorColumns = `id, name, specialization, experience_years, rating, patients, consultation_fee,
	modes, description, image, available, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.ExperienceYears,
		&d.Rating,
		&d.Patients,
		&d.ConsultationFee,
		&d.Modes,
		&d.Description,
		&d.Image,
		&d.Available,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, f Filter) ([]Doctor, error) {
	query := `
		SELECT ` + doctorColumns + `
		FROM doctors
		WHERE available
	`
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Specialization != "" {
		query += ` AND specialization = ` + next(f.Specialization)
	}
	if f.Mode != "" {
		query += ` AND ` + next(f.Mode) + ` = ANY(modes)`
	}
	if f.Search != "" {
		p := next("%" + f.Search + "%")
		query += ` AND (name ILIKE ` + p + ` OR specialization ILIKE ` + p + ` OR description ILIKE ` + p + `)`
	}
	if f.MinRating > 0 {
		query += ` AND rating >= ` + next(f.MinRating)
	}

	query += ` ORDER BY rating DESC, experience_years DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
