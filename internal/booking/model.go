package booking

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

// Slot states are mutually exclusive: a locked slot carries a holder and a
// lock timestamp, a booked slot carries its appointment reference, and
// neither set of fields survives into the other state.
const (
	SlotFree   SlotStatus = "free"
	SlotLocked SlotStatus = "locked"
	SlotBooked SlotStatus = "booked"
)

type AppointmentStatus string

const (
	StatusBooked      AppointmentStatus = "booked"      // reservation created, awaiting OTP
	StatusConfirmed   AppointmentStatus = "confirmed"   // OTP verified, slot committed
	StatusCompleted   AppointmentStatus = "completed"   // set post-visit by external actors
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled" // set by external rescheduling
)

type ConsultationMode string

const (
	ModeOnline    ConsultationMode = "online"
	ModeInPerson  ConsultationMode = "in_person"
	ModeHomeVisit ConsultationMode = "home_visit"
)

// ValidMode reports whether m is one of the closed consultation mode set.
func ValidMode(m ConsultationMode) bool {
	switch m {
	case ModeOnline, ModeInPerson, ModeHomeVisit:
		return true
	}
	return false
}

// TimeSlot is one bookable interval for one doctor. It is the only shared
// mutable resource in the engine; every transition goes through a conditional
// update in the repository.
type TimeSlot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Status        SlotStatus
	LockedBy      *uuid.UUID // patient holding the reservation, locked state only
	LockedAt      *time.Time
	AppointmentID *uuid.UUID // set when booked
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LockExpired reports whether a locked slot's hold has outlived ttl at now.
// Free and booked slots never report an expired lock.
func (s *TimeSlot) LockExpired(now time.Time, ttl time.Duration) bool {
	if s.Status != SlotLocked || s.LockedAt == nil {
		return false
	}
	return now.Sub(*s.LockedAt) > ttl
}

// Appointment is a patient's claim on a slot. Date, times and fee are copied
// from the slot and doctor at booking time and never mutated afterwards;
// cancellation adds fields instead of rewriting the schedule.
type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	SlotID             uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Mode               ConsultationMode
	Status             AppointmentStatus
	ConsultationFee    int64 // minor currency units
	Notes              string
	CancellationReason *string
	CancelledAt        *time.Time
	RescheduledTo      *time.Time
	OTPVerified        bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Owner check used by confirm, cancel and the owner-scoped reads.
func (a *Appointment) OwnedBy(patientID uuid.UUID) bool {
	return a.PatientID == patientID
}

// EventLog is an append-only audit record of a lifecycle transition.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
