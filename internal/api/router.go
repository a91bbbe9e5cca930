package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careslot/booking-service/internal/directory"
)

type RouterConfig struct {
	Reservations ReservationService
	Doctors      directory.Repository
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Directory endpoints, no identity required
	r.Get("/doctors", listDoctorsHandler(cfg.Doctors))
	r.Get("/doctors/{id}", getDoctorHandler(cfg.Doctors))
	r.Get("/doctors/{id}/slots", listDoctorSlotsHandler(cfg.Reservations))

	// Reservation endpoints, identity required
	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/appointments", bookAppointmentHandler(cfg.Reservations))
		r.Get("/appointments", listAppointmentsHandler(cfg.Reservations))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Reservations))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Reservations))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Reservations))
	})

	return r
}
