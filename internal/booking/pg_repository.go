package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const slotColumns = `id, doctor_id, start_time, end_time, status, locked_by, locked_at, appointment_id, created_at, updated_at`

const appointmentColumns = `id, patient_id, doctor_id, slot_id, start_time, end_time, mode, status,
	consultation_fee, notes, cancellation_reason, cancelled_at, rescheduled_to, otp_verified, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.LockedBy,
		&s.LockedAt,
		&s.AppointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.StartTime,
		&a.EndTime,
		&a.Mode,
		&a.Status,
		&a.ConsultationFee,
		&a.Notes,
		&a.CancellationReason,
		&a.CancelledAt,
		&a.RescheduledTo,
		&a.OTPVerified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]TimeSlot, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		  AND status = 'free'
		ORDER BY start_time
	`, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// TryLockSlot is the single atomic winner-takes-the-slot transition. The
// predicate admits a free slot or one whose previous hold went stale, so the
// row never has to be read first.
func (r *PgRepository) TryLockSlot(ctx context.Context, slotID, patientID uuid.UUID, now, staleBefore time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE time_slots
		SET status = 'locked',
		    locked_by = $2,
		    locked_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND (status = 'free' OR (status = 'locked' AND locked_at < $4))
	`, slotID, patientID, now, staleBefore)
	if err != nil {
		return fmt.Errorf("try lock slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgRepository) CommitSlotBooking(ctx context.Context, slotID, appointmentID, holder uuid.UUID, lockedAfter time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE time_slots
		SET status = 'booked',
		    appointment_id = $2,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'locked'
		  AND locked_by = $3
		  AND locked_at > $4
	`, slotID, appointmentID, holder, lockedAfter)
	if err != nil {
		return fmt.Errorf("commit slot booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockMismatch
	}
	return nil
}

func (r *PgRepository) ReleaseSlotLock(ctx context.Context, slotID, holder uuid.UUID) error {
	// Zero rows means the slot was already booked, re-locked or released;
	// all of those are fine for a deferred release.
	_, err := r.pool.Exec(ctx, `
		UPDATE time_slots
		SET status = 'free',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'locked'
		  AND locked_by = $2
	`, slotID, holder)
	if err != nil {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

func (r *PgRepository) ReleaseExpiredSlotLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE time_slots
		SET status = 'free',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE status = 'locked'
		  AND locked_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release expired slot locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) FreeSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE time_slots
		SET status = 'free',
		    locked_by = NULL,
		    locked_at = NULL,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
	`, slotID)
	if err != nil {
		return fmt.Errorf("free slot: %w", err)
	}
	return nil
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, start_time, end_time, mode, status,
			consultation_fee, notes, otp_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'booked', $8, $9, false, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.SlotID, appt.StartTime, appt.EndTime, appt.Mode,
		appt.ConsultationFee, appt.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE patient_id = $1
	`
	args := []any{patientID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
		    otp_verified = true,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		RETURNING `+appointmentColumns+`
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, reason string, now time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, reason, now)
	return scanAppointment(row)
}

func (r *PgRepository) CancelConfirmedAppointment(ctx context.Context, id, slotID uuid.UUID, reason string, now time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $2,
		    cancelled_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING `+appointmentColumns+`
	`, id, reason, now)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE time_slots
		SET status = 'free',
		    locked_by = NULL,
		    locked_at = NULL,
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
	`, slotID)
	if err != nil {
		return nil, fmt.Errorf("free cancelled slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}

	return a, nil
}

func (r *PgRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'booked'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Event log

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
