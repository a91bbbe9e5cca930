package otp

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrChallengeNotFound = errors.New("otp challenge not found")

// Repository persists challenges. Attempt counting and the single-use consume
// are conditional updates so that concurrent verifies cannot both succeed.
type Repository interface {
	Create(ctx context.Context, ch *Challenge) (*Challenge, error)

	// SupersedeLive marks every live challenge for the appointment inert.
	SupersedeLive(ctx context.Context, appointmentID uuid.UUID) error

	// GetCurrent returns the most recent non-superseded challenge, used or
	// not. A used challenge must stay observable so a replay gets the
	// already-used answer rather than not-found.
	GetCurrent(ctx context.Context, appointmentID uuid.UUID) (*Challenge, error)

	// IncrementAttempts bumps the counter, saturating at max, and returns
	// the new value.
	IncrementAttempts(ctx context.Context, id uuid.UUID, max int) (int, error)

	// Consume flips used to true exactly once. The second and every later
	// call reports false.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
}
