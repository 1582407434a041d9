package api

import (
	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

type CreateReservationRequest struct {
	ClinicID   string `json:"clinic_id" validate:"required"`
	DoctorID   string `json:"doctor_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string `json:"time" validate:"required,datetime=15:04"`
	ReservedBy string `json:"reserved_by" validate:"omitempty,oneof=interactive automated"`
	OwnerID    string `json:"owner_id" validate:"max=200"`
}

func (r CreateReservationRequest) SlotKey() reservation.SlotKey {
	return reservation.SlotKey{ClinicID: r.ClinicID, DoctorID: r.DoctorID, Date: r.Date, Time: r.Time}
}

type ChangeStatusRequest struct {
	Status appointment.Status `json:"status" validate:"required"`
}

type SlotsResponse struct {
	ClinicID string                       `json:"clinic_id"`
	DoctorID string                       `json:"doctor_id"`
	Date     string                       `json:"date"`
	Slots    []availability.AvailableSlot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Existing is the reservation that caused a slot_reserved conflict.
	Existing *reservation.Reservation `json:"existing,omitempty"`
}
