package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careslot/booking-service/internal/booking"
	"github.com/careslot/booking-service/internal/directory"
	"github.com/careslot/booking-service/internal/otp"
)

// ReservationService is the slice of the booking engine the handlers need,
// satisfied by *booking.Service.
type ReservationService interface {
	Book(ctx context.Context, req booking.BookRequest) (*booking.Appointment, *otp.Challenge, error)
	Confirm(ctx context.Context, appointmentID, callerID uuid.UUID, submitted string, now time.Time) (*booking.Appointment, error)
	Cancel(ctx context.Context, appointmentID, callerID uuid.UUID, reason string, now time.Time) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id, callerID uuid.UUID) (*booking.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status *booking.AppointmentStatus) ([]booking.Appointment, error)
	ListOpenSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]booking.TimeSlot, error)
}

func bookAppointmentHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := GetPatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "caller identity is required")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, challenge, err := svc.Book(r.Context(), booking.BookRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			SlotID:    slotID,
			Mode:      booking.ConsultationMode(req.Mode),
			Notes:     req.Notes,
		})
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookAppointmentResponse{
			AppointmentID: appt.ID,
			Status:        string(appt.Status),
			OTP:           challenge.Code,
			OTPExpiresAt:  challenge.ExpiresAt,
		})
	}
}

func confirmAppointmentHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := GetPatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "caller identity is required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req ConfirmAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.OTP == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "otp is required")
			return
		}

		appt, err := svc.Confirm(r.Context(), id, patientID, req.OTP, time.Now())
		if err != nil {
			handleConfirmError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := GetPatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "caller identity is required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, patientID, req.Reason, time.Now())
		if err != nil {
			handleCancelError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := GetPatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "caller identity is required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, patientID)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch appointment")
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := GetPatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "caller identity is required")
			return
		}

		var status *booking.AppointmentStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := booking.AppointmentStatus(raw)
			switch st {
			case booking.StatusBooked, booking.StatusConfirmed, booking.StatusCompleted,
				booking.StatusCancelled, booking.StatusRescheduled:
				status = &st
			default:
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
				return
			}
		}

		appts, err := svc.ListPatientAppointments(r.Context(), patientID, status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list appointments")
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorSlotsHandler(svc ReservationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		rawDate := r.URL.Query().Get("date")
		if rawDate == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "date query parameter is required")
			return
		}
		day, err := time.Parse("2006-01-02", rawDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), doctorID, day)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list slots")
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorsHandler(doctors directory.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		f := directory.Filter{
			Specialization: q.Get("specialization"),
			Mode:           q.Get("mode"),
			Search:         q.Get("search"),
		}
		if raw := q.Get("rating"); raw != "" {
			rating, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_rating", "rating must be a number")
				return
			}
			f.MinRating = rating
		}

		list, err := doctors.ListDoctors(r.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to list doctors")
			return
		}

		resp := make([]DoctorResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toDoctorResponse(&list[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(doctors directory.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		doctor, err := doctors.GetDoctorByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, directory.ErrDoctorNotFound) {
				writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch doctor")
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "time slot is not available")
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to book appointment")
	}
}

func handleConfirmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, otp.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "otp_not_found", err.Error())
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusBadRequest, "otp_expired", err.Error())
	case errors.Is(err, otp.ErrAlreadyUsed):
		writeError(w, http.StatusConflict, "otp_already_used", err.Error())
	case errors.Is(err, otp.ErrAttemptsExceeded):
		writeError(w, http.StatusTooManyRequests, "otp_attempts_exceeded", err.Error())
	case errors.Is(err, otp.ErrMismatch):
		writeError(w, http.StatusBadRequest, "otp_mismatch", err.Error())
	case errors.Is(err, booking.ErrReservationExpired):
		writeError(w, http.StatusConflict, "reservation_expired", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to confirm appointment")
	}
}

func handleCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNotCancellable):
		writeError(w, http.StatusConflict, "not_cancellable", err.Error())
	case errors.Is(err, booking.ErrCancellationWindowClosed):
		writeError(w, http.StatusConflict, "cancellation_window_closed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to cancel appointment")
	}
}
