package availability

import (
	"errors"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidSchedule = errors.New("invalid working hours")
)

type SlotState string

const (
	SlotFree     SlotState = "free"
	SlotReserved SlotState = "reserved"
	SlotBooked   SlotState = "booked"
	SlotBlocked  SlotState = "blocked"
)

// AvailableSlot is the derived state of one time point. At most one of
// IsBooked, IsBlocked and IsReserved is set.
type AvailableSlot struct {
	Time       string `json:"time"`
	IsBooked   bool   `json:"is_booked"`
	IsBlocked  bool   `json:"is_blocked"`
	IsReserved bool   `json:"is_reserved"`
	// OffGrid marks an appointment whose time is not on the current grid.
	OffGrid     bool                     `json:"off_grid,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
}

func (s AvailableSlot) State() SlotState {
	switch {
	case s.IsBlocked:
		return SlotBlocked
	case s.IsBooked:
		return SlotBooked
	case s.IsReserved:
		return SlotReserved
	default:
		return SlotFree
	}
}

// Unavailability reasons reported by ValidateAvailability.
const (
	ReasonNoWorkingHours = "no working hours configured"
	ReasonNotWorkingDay  = "doctor does not work on this weekday"
	ReasonDayOff         = "doctor has a day off"
	ReasonVacation       = "doctor is on vacation"
)

type Validation struct {
	Available     bool     `json:"available"`
	Reason        string   `json:"reason,omitempty"`
	NextAvailable []string `json:"next_available,omitempty"`
}
