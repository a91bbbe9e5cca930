package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const codeDigits = 6

var (
	ErrExpired          = errors.New("otp expired")
	ErrAlreadyUsed      = errors.New("otp already used")
	ErrAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrMismatch         = errors.New("otp mismatch")
)

// Authority issues and verifies confirmation codes. Codes come from
// crypto/rand; with 6 digits and a 3-attempt ceiling the guess probability
// stays at 3 in a million per challenge.
type Authority struct {
	repo        Repository
	ttl         time.Duration
	maxAttempts int
}

func NewAuthority(repo Repository, ttl time.Duration, maxAttempts int) *Authority {
	return &Authority{
		repo:        repo,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// Issue mints a fresh challenge for the appointment, superseding any live
// one, so at most one challenge is ever matchable.
func (a *Authority) Issue(ctx context.Context, appointmentID uuid.UUID) (*Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp code: %w", err)
	}

	if err := a.repo.SupersedeLive(ctx, appointmentID); err != nil {
		return nil, err
	}

	ch := &Challenge{
		AppointmentID: appointmentID,
		Code:          code,
		ExpiresAt:     time.Now().Add(a.ttl),
	}

	return a.repo.Create(ctx, ch)
}

// Verify checks a submitted code against the appointment's current challenge.
// now is the server clock supplied at the call boundary. On success the
// challenge is consumed atomically; a concurrent identical verify loses and
// gets ErrAlreadyUsed.
func (a *Authority) Verify(ctx context.Context, appointmentID uuid.UUID, submitted string, now time.Time) error {
	ch, err := a.repo.GetCurrent(ctx, appointmentID)
	if err != nil {
		return err
	}

	if ch.Used {
		return ErrAlreadyUsed
	}
	if ch.Attempts >= a.maxAttempts {
		// Hard ceiling: no further increment once saturated.
		return ErrAttemptsExceeded
	}
	if now.After(ch.ExpiresAt) {
		return ErrExpired
	}

	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(submitted)) != 1 {
		if _, err := a.repo.IncrementAttempts(ctx, ch.ID, a.maxAttempts); err != nil {
			return err
		}
		return ErrMismatch
	}

	consumed, err := a.repo.Consume(ctx, ch.ID)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrAlreadyUsed
	}

	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
