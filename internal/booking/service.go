package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careslot/booking-service/internal/config"
	"github.com/careslot/booking-service/internal/directory"
	"github.com/careslot/booking-service/internal/otp"
	redisclient "github.com/careslot/booking-service/internal/redis"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationExpired   = "RESERVATION_EXPIRED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrInvalidRequest           = errors.New("invalid booking request")
	ErrDoctorNotFound           = errors.New("doctor not found")
	ErrSlotBeingBooked          = errors.New("slot is currently being booked, please retry")
	ErrReservationExpired       = errors.New("reservation expired before confirmation")
	ErrNotCancellable           = errors.New("appointment is not in a cancellable state")
	ErrCancellationWindowClosed = errors.New("appointments can only be cancelled 24 hours in advance")
)

// OTPAuthority is the confirmation-code collaborator, satisfied by
// *otp.Authority.
type OTPAuthority interface {
	Issue(ctx context.Context, appointmentID uuid.UUID) (*otp.Challenge, error)
	Verify(ctx context.Context, appointmentID uuid.UUID, submitted string, now time.Time) error
}

// DoctorDirectory is the slice of the practitioner directory the engine
// needs: existence and current fee at booking time.
type DoctorDirectory interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
}

// Service drives the slot lifecycle free -> locked -> booked and the
// appointment lifecycle hanging off it. It is the only writer of slot and
// appointment status fields.
type Service struct {
	repo    Repository
	doctors DoctorDirectory
	otp     OTPAuthority
	mutex   redisclient.SlotMutex
	cfg     config.Config
	logger  *zap.Logger
}

func NewService(
	repo Repository,
	doctors DoctorDirectory,
	authority OTPAuthority,
	mutex redisclient.SlotMutex,
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:    repo,
		doctors: doctors,
		otp:     authority,
		mutex:   mutex,
		cfg:     cfg,
		logger:  logger,
	}
}

type BookRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotID    uuid.UUID
	Mode      ConsultationMode
	Notes     string
}

// Book reserves a slot for a patient: lock the slot, create the pending
// appointment, mint the OTP challenge. Under concurrent requests for the same
// slot exactly one caller gets past TryLockSlot. Any failure after the lock
// is taken rolls the lock back before the error returns.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, *otp.Challenge, error) {
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil || req.SlotID == uuid.Nil || !ValidMode(req.Mode) {
		return nil, nil, ErrInvalidRequest
	}

	doctor, err := s.doctors.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, directory.ErrDoctorNotFound) {
			return nil, nil, ErrDoctorNotFound
		}
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}

	slot, err := s.repo.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.DoctorID != req.DoctorID {
		return nil, nil, ErrInvalidRequest
	}

	now := time.Now()
	if slot.StartTime.Before(now) {
		return nil, nil, ErrSlotUnavailable
	}

	// Visibly unavailable slots are rejected before the mutex and the row
	// update; a lock that outlived its hold still counts as free. Contended
	// cases are decided by the conditional update below, not by this read.
	if slot.Status == SlotBooked || (slot.Status == SlotLocked && !slot.LockExpired(now, s.cfg.ReservationTTL)) {
		return nil, nil, ErrSlotUnavailable
	}

	var (
		created   *Appointment
		challenge *otp.Challenge
	)

	err = s.mutex.WithSlot(ctx, req.SlotID, func(lockCtx context.Context) error {
		// The hold on the row is the real gate; stale holds count as free.
		staleBefore := now.Add(-s.cfg.ReservationTTL)
		if err := s.repo.TryLockSlot(lockCtx, req.SlotID, req.PatientID, now, staleBefore); err != nil {
			return err
		}

		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			PatientID:       req.PatientID,
			DoctorID:        req.DoctorID,
			SlotID:          req.SlotID,
			StartTime:       slot.StartTime,
			EndTime:         slot.EndTime,
			Mode:            req.Mode,
			ConsultationFee: doctor.ConsultationFee,
			Notes:           req.Notes,
		})
		if err != nil {
			s.rollbackLock(lockCtx, req.SlotID, req.PatientID)
			return fmt.Errorf("create appointment: %w", err)
		}

		ch, err := s.otp.Issue(lockCtx, appt.ID)
		if err != nil {
			s.rollbackBooking(lockCtx, appt)
			return fmt.Errorf("issue otp: %w", err)
		}

		created = appt
		challenge = ch

		s.logEvent(lockCtx, appt.ID, EventReservationCreated, map[string]any{
			"slot_id":    req.SlotID.String(),
			"patient_id": req.PatientID.String(),
			"doctor_id":  req.DoctorID.String(),
			"expires_at": ch.ExpiresAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrMutexNotAcquired) {
			return nil, nil, ErrSlotBeingBooked
		}
		return nil, nil, err
	}

	s.logger.Info("reservation created",
		zap.String("appointment_id", created.ID.String()),
		zap.String("slot_id", req.SlotID.String()),
		zap.Time("otp_expires_at", challenge.ExpiresAt),
	)

	return created, challenge, nil
}

// rollbackLock undoes a taken slot lock after a failed booking step. The
// booking already failed, so a rollback error is logged, not returned.
func (s *Service) rollbackLock(ctx context.Context, slotID, holder uuid.UUID) {
	if err := s.repo.ReleaseSlotLock(ctx, slotID, holder); err != nil {
		s.logger.Error("rollback: release slot lock failed",
			zap.String("slot_id", slotID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) rollbackBooking(ctx context.Context, appt *Appointment) {
	if _, err := s.repo.CancelAppointment(ctx, appt.ID, StatusBooked, "booking failed", time.Now()); err != nil {
		s.logger.Error("rollback: cancel appointment failed",
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err),
		)
	}
	s.rollbackLock(ctx, appt.SlotID, appt.PatientID)
}

// Confirm consumes an OTP submission and finalizes the reservation. The slot
// commit happens before the appointment becomes observable as confirmed, so
// a confirmed appointment without a booked slot can never be read.
func (s *Service) Confirm(ctx context.Context, appointmentID, callerID uuid.UUID, submitted string, now time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.OwnedBy(callerID) {
		// Not-owned reads as not-found; existence is not leaked.
		return nil, ErrAppointmentNotFound
	}

	if err := s.otp.Verify(ctx, appointmentID, submitted, now); err != nil {
		return nil, err
	}

	lockedAfter := now.Add(-s.cfg.ReservationTTL)
	if err := s.repo.CommitSlotBooking(ctx, appt.SlotID, appt.ID, appt.PatientID, lockedAfter); err != nil {
		if errors.Is(err, ErrLockMismatch) {
			s.failExpiredConfirmation(ctx, appt, now)
			return nil, ErrReservationExpired
		}
		return nil, fmt.Errorf("commit slot booking: %w", err)
	}

	confirmed, err := s.repo.ConfirmAppointment(ctx, appointmentID)
	if err != nil {
		// The slot is already booked at this point. Whatever went wrong with
		// the appointment update, the slot goes back first; a booked slot
		// referencing an unconfirmed appointment must never outlive this call.
		if ferr := s.repo.FreeSlot(ctx, appt.SlotID); ferr != nil {
			s.logger.Error("free slot after failed confirmation failed",
				zap.String("slot_id", appt.SlotID.String()),
				zap.Error(ferr),
			)
		}
		// Not-found means the expiry worker cancelled the appointment between
		// the verify and this update.
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrReservationExpired
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, confirmed.ID, EventAppointmentConfirmed, map[string]any{
		"slot_id": confirmed.SlotID.String(),
	})

	s.logger.Info("appointment confirmed",
		zap.String("appointment_id", confirmed.ID.String()),
		zap.String("slot_id", confirmed.SlotID.String()),
	)

	return confirmed, nil
}

func (s *Service) failExpiredConfirmation(ctx context.Context, appt *Appointment, now time.Time) {
	if _, err := s.repo.CancelAppointment(ctx, appt.ID, StatusBooked, "reservation expired before confirmation", now); err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			s.logger.Error("mark expired reservation cancelled failed",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err),
			)
		}
	}
	s.logEvent(ctx, appt.ID, EventReservationExpired, map[string]any{
		"reason": "confirm_after_expiry",
	})
}

// Cancel applies the cancellation policy to a confirmed appointment. A
// reservation still awaiting OTP confirmation is not cancellable here; it is
// left to expire with its hold.
func (s *Service) Cancel(ctx context.Context, appointmentID, callerID uuid.UUID, reason string, now time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.OwnedBy(callerID) {
		return nil, ErrAppointmentNotFound
	}

	if appt.Status != StatusConfirmed {
		return nil, ErrNotCancellable
	}

	if appt.StartTime.Sub(now) < s.cfg.CancelWindow {
		return nil, ErrCancellationWindowClosed
	}

	cancelled, err := s.repo.CancelConfirmedAppointment(ctx, appointmentID, appt.SlotID, reason, now)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotCancellable
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, cancelled.ID, EventAppointmentCancelled, map[string]any{
		"slot_id": cancelled.SlotID.String(),
		"reason":  reason,
	})

	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", cancelled.ID.String()),
		zap.String("slot_id", cancelled.SlotID.String()),
	)

	return cancelled, nil
}

// ExpireStaleReservations is the durable deferred release: it cancels pending
// appointments whose confirmation window closed and frees their slots, then
// sweeps any leftover expired locks. Safe to run on any schedule from any
// number of instances; every step is a conditional update and releasing an
// already-booked slot is a no-op.
func (s *Service) ExpireStaleReservations(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.ReservationTTL)

	stale, err := s.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale reservations: %w", err)
	}

	for _, appt := range stale {
		if _, err := s.repo.CancelAppointment(ctx, appt.ID, StatusBooked, "confirmation window expired", now); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Confirmed or already cancelled since the query; skip.
				continue
			}
			s.logger.Error("expire reservation failed",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.repo.ReleaseSlotLock(ctx, appt.SlotID, appt.PatientID); err != nil {
			s.logger.Error("release expired slot lock failed",
				zap.String("slot_id", appt.SlotID.String()),
				zap.Error(err),
			)
		}

		s.logEvent(ctx, appt.ID, EventReservationExpired, map[string]any{
			"reason": "worker",
		})
	}

	freed, err := s.repo.ReleaseExpiredSlotLocks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("release expired slot locks: %w", err)
	}
	if len(stale) > 0 || freed > 0 {
		s.logger.Info("expiry sweep complete",
			zap.Int("reservations_expired", len(stale)),
			zap.Int64("locks_freed", freed),
		)
	}

	return nil
}

// Reads

func (s *Service) GetAppointment(ctx context.Context, id, callerID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.OwnedBy(callerID) {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error) {
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, status)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]TimeSlot, error) {
	slots, err := s.repo.ListAvailableSlots(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload failed", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log failed",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
