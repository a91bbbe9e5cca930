package otp

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is a short-lived numeric secret bound to exactly one appointment.
// At most one live (not used, not superseded) challenge exists per
// appointment; issuing a new one marks the previous one inert.
type Challenge struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Code          string // fixed-length numeric, never logged
	ExpiresAt     time.Time
	Used          bool
	Superseded    bool
	Attempts      int
	CreatedAt     time.Time
}
