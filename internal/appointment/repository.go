package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrScheduleNotFound    = errors.New("doctor schedule not found")
	ErrSlotAlreadyBooked   = errors.New("slot already has an appointment")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListForDoctorDay(ctx context.Context, clinicID, doctorID, date string) ([]Appointment, error)
	ListForClinicDay(ctx context.Context, clinicID, date string) ([]Appointment, error)

	// CreateAppointment fails with ErrSlotAlreadyBooked when another
	// slot-occupying appointment holds the same clinic, doctor, date and time.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	GetSchedule(ctx context.Context, clinicID, doctorID string) (*DoctorSchedule, error)
	UpsertSchedule(ctx context.Context, s DoctorSchedule) (*DoctorSchedule, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
