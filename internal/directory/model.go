package directory

import (
	"time"

	"github.com/google/uuid"
)

// Doctor is a read-mostly directory entry. The booking engine only ever needs
// the existence check and the current consultation fee; the rest serves the
// listing endpoints.
type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	ExperienceYears int
	Rating          float64
	Patients        int
	ConsultationFee int64 // minor currency units
	Modes           []string
	Description     string
	Image           string
	Available       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Filter narrows a directory listing. Zero values mean "no constraint".
type Filter struct {
	Specialization string
	Mode           string
	Search         string // matches name, specialization or description
	MinRating      float64
}
