package notify

import (
	"fmt"
	"time"
)

// EventType identifies a change notification. The set is closed.
type EventType string

const (
	AppointmentCreated        EventType = "APPOINTMENT_CREATED"
	AppointmentUpdated        EventType = "APPOINTMENT_UPDATED"
	AppointmentDeleted        EventType = "APPOINTMENT_DELETED"
	AppointmentStatusChanged  EventType = "APPOINTMENT_STATUS_CHANGED"
	AvailabilityConfigUpdated EventType = "AVAILABILITY_CONFIG_UPDATED"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	AppointmentCreated,
	AppointmentUpdated,
	AppointmentDeleted,
	AppointmentStatusChanged,
	AvailabilityConfigUpdated,
}

func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// ChangeEvent says that schedule state changed somewhere. The identifying
// fields let a consumer judge relevance; the bus itself only looks at Type.
type ChangeEvent struct {
	Type          EventType `json:"type"`
	ClinicID      string    `json:"clinic_id"`
	DoctorID      string    `json:"doctor_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	// Origin is set by relays to the process that first published the event.
	Origin string `json:"origin,omitempty"`
}
