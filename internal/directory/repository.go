package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// ListDoctors returns available doctors matching the filter, ordered by
	// rating then experience, both descending.
	ListDoctors(ctx context.Context, f Filter) ([]Doctor, error)
}
