package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrLockMismatch        = errors.New("slot lock lost")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the reservation service.
// Every slot transition is a single conditional update; callers never get to
// read state and write it back in separate steps.
type Repository interface {
	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]TimeSlot, error)

	// TryLockSlot moves free -> locked for patientID. A lock whose holder
	// stopped renewing before staleBefore counts as free and is reclaimed.
	// Exactly one concurrent caller wins; the rest get ErrSlotUnavailable.
	TryLockSlot(ctx context.Context, slotID, patientID uuid.UUID, now, staleBefore time.Time) error

	// CommitSlotBooking moves locked -> booked, requiring the lock to still
	// be held by holder and taken after lockedAfter. ErrLockMismatch when the
	// hold expired or someone else re-locked in the interim.
	CommitSlotBooking(ctx context.Context, slotID, appointmentID, holder uuid.UUID, lockedAfter time.Time) error

	// ReleaseSlotLock moves locked -> free when still held by holder. On a
	// booked or already-free slot it is a no-op, so a stale deferred release
	// firing after a successful confirmation cannot corrupt the slot.
	ReleaseSlotLock(ctx context.Context, slotID, holder uuid.UUID) error

	// ReleaseExpiredSlotLocks frees every slot still locked before cutoff.
	// Used by the expiry worker; returns the number of slots freed.
	ReleaseExpiredSlotLocks(ctx context.Context, cutoff time.Time) (int64, error)

	// FreeSlot unconditionally returns a slot to free and clears its
	// appointment link. Cancellation path only.
	FreeSlot(ctx context.Context, slotID uuid.UUID) error

	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]Appointment, error)

	// ConfirmAppointment moves booked -> confirmed and sets the OTP-verified
	// flag in the same conditional update.
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// CancelAppointment moves from -> cancelled, recording reason and time.
	CancelAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, reason string, now time.Time) (*Appointment, error)

	// CancelConfirmedAppointment moves confirmed -> cancelled and frees the
	// slot in one transaction, so a failure between the two cannot leave a
	// booked slot pointing at a cancelled appointment.
	CancelConfirmedAppointment(ctx context.Context, id, slotID uuid.UUID, reason string, now time.Time) (*Appointment, error)

	// FindStalePending lists appointments still awaiting OTP confirmation
	// whose reservation window closed before cutoff. Expiry worker only.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
