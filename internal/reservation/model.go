package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	// DefaultTTL is how long a reservation blocks a slot while a booking is composed.
	DefaultTTL = 5 * time.Minute
)

var (
	ErrSlotReserved      = errors.New("slot is currently being booked")
	ErrInvalidSlotKey    = errors.New("invalid slot key")
	ErrInvalidReservedBy = errors.New("invalid reservation source")
	ErrNotFound          = errors.New("reservation not found")
)

type ReservedBy string

const (
	ReservedByInteractive ReservedBy = "interactive"
	ReservedByAutomated   ReservedBy = "automated"
)

func (r ReservedBy) Valid() bool {
	return r == ReservedByInteractive || r == ReservedByAutomated
}

// SlotKey identifies one bookable time point and is the unit of mutual exclusion.
type SlotKey struct {
	ClinicID string `json:"clinic_id"`
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// keyEscaper keeps the ":" separator unambiguous when an id contains one.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// String is the storage key for the slot. Distinct keys always map to distinct
// strings.
func (k SlotKey) String() string {
	return strings.Join([]string{keyEscaper.Replace(k.ClinicID), keyEscaper.Replace(k.DoctorID), k.Date, k.Time}, ":")
}

func (k SlotKey) Validate() error {
	if strings.TrimSpace(k.ClinicID) == "" {
		return fmt.Errorf("%w: clinic is required", ErrInvalidSlotKey)
	}
	if strings.TrimSpace(k.DoctorID) == "" {
		return fmt.Errorf("%w: doctor is required", ErrInvalidSlotKey)
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidSlotKey, k.Date)
	}
	if _, err := time.Parse(TimeLayout, k.Time); err != nil {
		return fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidSlotKey, k.Time)
	}
	return nil
}

// Reservation is a short-lived claim on a slot. Records are replaced, never
// updated in place.
type Reservation struct {
	ID         string     `json:"id"`
	Key        SlotKey    `json:"slot"`
	ReservedBy ReservedBy `json:"reserved_by"`
	OwnerID    string     `json:"owner_id,omitempty"`
	ReservedAt time.Time  `json:"reserved_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Live reports whether the reservation still blocks its slot at now.
func (r Reservation) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// ConflictError is returned by Reserve when another live reservation already
// holds the slot. It matches ErrSlotReserved.
type ConflictError struct {
	Existing Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s already reserved (%s, id=%s) until %s",
		e.Existing.Key, e.Existing.ReservedBy, e.Existing.ID, e.Existing.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotReserved
}
