package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

// ReservationHolder is the part of the reservation manager the service uses
// to honour in-flight bookings.
type ReservationHolder interface {
	Get(ctx context.Context, key reservation.SlotKey) (*reservation.Reservation, error)
	Confirm(ctx context.Context, id string) error
}

type CreateInput struct {
	ClinicID     string `json:"clinic_id" validate:"required"`
	DoctorID     string `json:"doctor_id" validate:"required"`
	PatientName  string `json:"patient_name" validate:"required,max=200"`
	PatientPhone string `json:"patient_phone" validate:"omitempty,max=32"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string `json:"time" validate:"required,datetime=15:04"`
	Notes        string `json:"notes" validate:"max=2000"`
	// ReservationID is the reservation taken while the booking form was open.
	ReservationID string `json:"reservation_id"`
}

// UpdateInput carries a partial update; nil fields are left alone.
type UpdateInput struct {
	PatientName  *string `json:"patient_name" validate:"omitempty,min=1,max=200"`
	PatientPhone *string `json:"patient_phone" validate:"omitempty,max=32"`
	Date         *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time         *string `json:"time" validate:"omitempty,datetime=15:04"`
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
}

type BlockInput struct {
	ClinicID string `json:"clinic_id" validate:"required"`
	DoctorID string `json:"doctor_id" validate:"required"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time" validate:"required,datetime=15:04"`
	Reason   string `json:"reason" validate:"max=500"`
}

type Service struct {
	repo         Repository
	reservations ReservationHolder
	events       notify.Publisher
	log          *zap.Logger
	now          func() time.Time
}

func NewService(repo Repository, reservations ReservationHolder, events notify.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		reservations: reservations,
		events:       events,
		log:          log,
		now:          time.Now,
	}
}

// Create books a slot. A live reservation on the slot blocks the write unless
// in.ReservationID names it; on success that reservation is confirmed.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	key := reservation.SlotKey{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Date: in.Date, Time: in.Time}
	held, err := s.checkReservation(ctx, key, in.ReservationID)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateAppointment(ctx, Appointment{
		ClinicID:     in.ClinicID,
		DoctorID:     in.DoctorID,
		PatientName:  in.PatientName,
		PatientPhone: in.PatientPhone,
		Date:         in.Date,
		Time:         in.Time,
		Status:       StatusScheduled,
		Notes:        in.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	if held != nil {
		if err := s.reservations.Confirm(ctx, held.ID); err != nil {
			// The appointment exists; the reservation will lapse on its own.
			s.log.Warn("appointment.Create confirm reservation failed",
				zap.String("reservation_id", held.ID),
				zap.String("appointment_id", created.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logEvent(ctx, created.ID, string(notify.AppointmentCreated), map[string]any{
		"slot":           key.String(),
		"reservation_id": in.ReservationID,
	})
	s.publish(ctx, notify.AppointmentCreated, created)

	return created, nil
}

// checkReservation returns the caller's own reservation when it still holds
// key, nil when the slot is unreserved, or a conflict.
func (s *Service) checkReservation(ctx context.Context, key reservation.SlotKey, ownID string) (*reservation.Reservation, error) {
	if s.reservations == nil {
		return nil, nil
	}

	held, err := s.reservations.Get(ctx, key)
	if errors.Is(err, reservation.ErrNotFound) {
		if ownID != "" {
			s.log.Info("appointment.checkReservation reservation lapsed before write",
				zap.String("slot", key.String()),
				zap.String("reservation_id", ownID),
			)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check reservation: %w", err)
	}
	if ownID == "" || held.ID != ownID {
		return nil, &reservation.ConflictError{Existing: *held}
	}
	return held, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if in.PatientName != nil {
		next.PatientName = *in.PatientName
	}
	if in.PatientPhone != nil {
		next.PatientPhone = *in.PatientPhone
	}
	if in.Date != nil {
		next.Date = *in.Date
	}
	if in.Time != nil {
		next.Time = *in.Time
	}
	if in.Notes != nil {
		next.Notes = *in.Notes
	}

	moved := next.Date != current.Date || next.Time != current.Time
	if moved {
		key := reservation.SlotKey{ClinicID: next.ClinicID, DoctorID: next.DoctorID, Date: next.Date, Time: next.Time}
		if _, err := s.checkReservation(ctx, key, ""); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.UpdateAppointment(ctx, next)
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	payload := map[string]any{}
	if moved {
		payload["from"] = current.Date + " " + current.Time
		payload["to"] = updated.Date + " " + updated.Time
	}
	s.logEvent(ctx, updated.ID, string(notify.AppointmentUpdated), payload)
	s.publish(ctx, notify.AppointmentUpdated, updated)
	if moved && current.Date != updated.Date {
		// Views of the old day also lost a booking.
		s.publish(ctx, notify.AppointmentUpdated, current)
	}

	return updated, nil
}

// ChangeStatus moves an appointment along the pipeline. Moving to the status
// it already has is a no-op.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() || to == StatusBlocked {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !current.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidStatusTransition)
		}
		if errors.Is(err, ErrSlotAlreadyBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("change status: %w", err)
	}

	s.logEvent(ctx, updated.ID, string(notify.AppointmentStatusChanged), map[string]any{
		"from": current.Status,
		"to":   to,
	})
	s.publish(ctx, notify.AppointmentStatusChanged, updated)

	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, string(notify.AppointmentDeleted), map[string]any{
		"slot": current.Date + " " + current.Time,
	})
	s.publish(ctx, notify.AppointmentDeleted, current)
	return nil
}

// BlockSlot closes one slot manually. The closure is stored as an
// appointment in StatusBlocked so it occupies the slot like a booking.
func (s *Service) BlockSlot(ctx context.Context, in BlockInput) (*Appointment, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	key := reservation.SlotKey{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Date: in.Date, Time: in.Time}
	if _, err := s.checkReservation(ctx, key, ""); err != nil {
		return nil, err
	}

	blocked, err := s.repo.CreateAppointment(ctx, Appointment{
		ClinicID: in.ClinicID,
		DoctorID: in.DoctorID,
		Date:     in.Date,
		Time:     in.Time,
		Status:   StatusBlocked,
		Notes:    in.Reason,
	})
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("block slot: %w", err)
	}

	s.logEvent(ctx, blocked.ID, string(notify.AppointmentCreated), map[string]any{
		"slot":    key.String(),
		"blocked": true,
	})
	s.publish(ctx, notify.AppointmentCreated, blocked)
	return blocked, nil
}

func (s *Service) SaveSchedule(ctx context.Context, sched DoctorSchedule) (*DoctorSchedule, error) {
	if err := validateSchedule(sched); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpsertSchedule(ctx, sched)
	if err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}

	if s.events != nil {
		s.events.Publish(ctx, notify.ChangeEvent{
			Type:       notify.AvailabilityConfigUpdated,
			ClinicID:   saved.ClinicID,
			DoctorID:   saved.DoctorID,
			OccurredAt: s.now(),
		})
	}
	return saved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *Service) ListForDoctorDay(ctx context.Context, clinicID, doctorID, date string) ([]Appointment, error) {
	list, err := s.repo.ListForDoctorDay(ctx, clinicID, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments for doctor: %w", err)
	}
	return list, nil
}

func (s *Service) ListForClinicDay(ctx context.Context, clinicID, date string) ([]Appointment, error) {
	list, err := s.repo.ListForClinicDay(ctx, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments for clinic: %w", err)
	}
	return list, nil
}

func (s *Service) GetSchedule(ctx context.Context, clinicID, doctorID string) (*DoctorSchedule, error) {
	sched, err := s.repo.GetSchedule(ctx, clinicID, doctorID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

func (s *Service) publish(ctx context.Context, t notify.EventType, a *Appointment) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, notify.ChangeEvent{
		Type:          t,
		ClinicID:      a.ClinicID,
		DoctorID:      a.DoctorID,
		Date:          a.Date,
		AppointmentID: a.ID.String(),
		OccurredAt:    s.now(),
	})
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("appointment.logEvent marshal payload failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("appointment.logEvent insert failed",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
