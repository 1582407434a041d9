package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusConfirmed      Status = "confirmed"
	StatusArrived        Status = "arrived"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"

	// StatusBlocked marks a manual schedule closure. It occupies a slot like
	// a booking but never appears on the patient pipeline.
	StatusBlocked Status = "blocked"
)

// PipelineStatuses is the kanban column order.
var PipelineStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusArrived,
	StatusInConsultation,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func (s Status) Valid() bool {
	if s == StatusBlocked {
		return true
	}
	for _, p := range PipelineStatuses {
		if s == p {
			return true
		}
	}
	return false
}

// OccupiesSlot reports whether an appointment in this status keeps its slot
// from being booked again.
func (s Status) OccupiesSlot() bool {
	return s != StatusCancelled
}

var transitions = map[Status][]Status{
	StatusScheduled:      {StatusConfirmed, StatusArrived, StatusCancelled, StatusNoShow},
	StatusConfirmed:      {StatusScheduled, StatusArrived, StatusCancelled, StatusNoShow},
	StatusArrived:        {StatusConfirmed, StatusInConsultation, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInConsultation: {StatusArrived, StatusCompleted},
	StatusCompleted:      {StatusInConsultation},
	StatusCancelled:      {StatusScheduled},
	StatusNoShow:         {StatusScheduled, StatusArrived},
}

// CanTransition reports whether the pipeline allows moving from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID           uuid.UUID `json:"id"`
	ClinicID     string    `json:"clinic_id"`
	DoctorID     string    `json:"doctor_id"`
	PatientName  string    `json:"patient_name,omitempty"`
	PatientPhone string    `json:"patient_phone,omitempty"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Status       Status    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DateRange struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

// DoctorSchedule is a doctor's working-hours configuration at one clinic.
type DoctorSchedule struct {
	ClinicID        string         `json:"clinic_id" validate:"required"`
	DoctorID        string         `json:"doctor_id" validate:"required"`
	StartTime       string         `json:"start_time" validate:"required,datetime=15:04"`
	EndTime         string         `json:"end_time" validate:"required,datetime=15:04"`
	IntervalMinutes int            `json:"interval_minutes" validate:"required,min=5,max=240"`
	WorkingDays     []time.Weekday `json:"working_days" validate:"dive,min=0,max=6"`
	DaysOff         []string       `json:"days_off,omitempty" validate:"dive,datetime=2006-01-02"`
	Vacations       []DateRange    `json:"vacations,omitempty" validate:"dive"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
