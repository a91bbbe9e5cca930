package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careslot/booking-service/internal/booking"
	"github.com/careslot/booking-service/internal/directory"
)

type BookAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	SlotID   string `json:"slot_id"`
	Mode     string `json:"mode"`
	Notes    string `json:"notes,omitempty"`
}

// BookAppointmentResponse carries the OTP back to the caller; delivering it
// over another channel is the gateway's concern, not the engine's.
type BookAppointmentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Status        string    `json:"status"`
	OTP           string    `json:"otp"`
	OTPExpiresAt  time.Time `json:"otp_expires_at"`
}

type ConfirmAppointmentRequest struct {
	OTP string `json:"otp"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	SlotID             uuid.UUID  `json:"slot_id"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Mode               string     `json:"mode"`
	Status             string     `json:"status"`
	ConsultationFee    int64      `json:"consultation_fee"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	RescheduledTo      *time.Time `json:"rescheduled_to,omitempty"`
	OTPVerified        bool       `json:"otp_verified"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		SlotID:             a.SlotID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Mode:               string(a.Mode),
		Status:             string(a.Status),
		ConsultationFee:    a.ConsultationFee,
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		CancelledAt:        a.CancelledAt,
		RescheduledTo:      a.RescheduledTo,
		OTPVerified:        a.OTPVerified,
		CreatedAt:          a.CreatedAt,
	}
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func toSlotResponse(s booking.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}

type DoctorResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Specialization  string    `json:"specialization"`
	ExperienceYears int       `json:"experience_years"`
	Rating          float64   `json:"rating"`
	Patients        int       `json:"patients"`
	ConsultationFee int64     `json:"consultation_fee"`
	Modes           []string  `json:"modes"`
	Description     string    `json:"description"`
	Image           string    `json:"image,omitempty"`
}

func toDoctorResponse(d *directory.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:              d.ID,
		Name:            d.Name,
		Specialization:  d.Specialization,
		ExperienceYears: d.ExperienceYears,
		Rating:          d.Rating,
		Patients:        d.Patients,
		ConsultationFee: d.ConsultationFee,
		Modes:           d.Modes,
		Description:     d.Description,
		Image:           d.Image,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
