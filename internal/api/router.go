package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

type ReservationService interface {
	Reserve(ctx context.Context, key reservation.SlotKey, reservedBy reservation.ReservedBy, ownerID string) (*reservation.Reservation, error)
	Confirm(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, key reservation.SlotKey) (*reservation.Reservation, error)
}

type AppointmentService interface {
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, in appointment.UpdateInput) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BlockSlot(ctx context.Context, in appointment.BlockInput) (*appointment.Appointment, error)
	SaveSchedule(ctx context.Context, s appointment.DoctorSchedule) (*appointment.DoctorSchedule, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetSchedule(ctx context.Context, clinicID, doctorID string) (*appointment.DoctorSchedule, error)
	ListForDoctorDay(ctx context.Context, clinicID, doctorID, date string) ([]appointment.Appointment, error)
	ListForClinicDay(ctx context.Context, clinicID, date string) ([]appointment.Appointment, error)
}

type AvailabilityService interface {
	ComputeSlots(ctx context.Context, clinicID, doctorID, date string) ([]availability.AvailableSlot, error)
	ValidateAvailability(ctx context.Context, clinicID, doctorID, date string) (availability.Validation, error)
	NextAvailableDates(ctx context.Context, clinicID, doctorID, from string, limit int) ([]string, error)
}

type RouterConfig struct {
	Reservations ReservationService
	Appointments AppointmentService
	Availability AvailabilityService
	Events       notify.Subscriber
	Health       *HealthHandler
	Metrics      http.Handler
	Logger       *zap.Logger

	CORSOrigins []string
	// ReservationRateLimit caps reservation attempts per client IP per minute.
	ReservationRateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Reservation endpoints
	reserve := createReservationHandler(cfg.Reservations, log)
	if cfg.ReservationRateLimit > 0 {
		r.With(httprate.LimitByIP(cfg.ReservationRateLimit, time.Minute)).Post("/reservations", reserve)
	} else {
		r.Post("/reservations", reserve)
	}
	r.Get("/reservations", getReservationHandler(cfg.Reservations, log))
	r.Post("/reservations/{id}/confirm", releaseReservationHandler(cfg.Reservations.Confirm, log))
	r.Post("/reservations/{id}/cancel", releaseReservationHandler(cfg.Reservations.Cancel, log))

	// Availability endpoints
	r.Route("/clinics/{clinic}", func(r chi.Router) {
		r.Get("/board", boardHandler(cfg.Appointments, log))
		r.Route("/doctors/{doctor}", func(r chi.Router) {
			r.Get("/slots", slotsHandler(cfg.Availability, log))
			r.Get("/availability", availabilityHandler(cfg.Availability, log))
			r.Get("/next-available", nextAvailableHandler(cfg.Availability, log))
			r.Get("/schedule", getScheduleHandler(cfg.Appointments, log))
			r.Put("/schedule", saveScheduleHandler(cfg.Appointments, log))
		})
	})

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Appointments, log))
	r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, log))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, log))
	r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Appointments, log))
	r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Appointments, log))
	r.Post("/appointments/{id}/status", changeStatusHandler(cfg.Appointments, log))
	r.Post("/blocks", blockSlotHandler(cfg.Appointments, log))

	if cfg.Events != nil {
		ws := NewWebSocketHandler(cfg.Events, cfg.Availability, cfg.Appointments, origins, log)
		r.Get("/ws", ws.HandleConnect)
	}

	return r
}
