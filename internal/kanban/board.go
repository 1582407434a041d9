// Package kanban lays a clinic's appointments for one day out as a patient
// pipeline board.
package kanban

import (
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
)

type Card struct {
	AppointmentID uuid.UUID          `json:"appointment_id"`
	DoctorID      string             `json:"doctor_id"`
	PatientName   string             `json:"patient_name"`
	Time          string             `json:"time"`
	Status        appointment.Status `json:"status"`
}

type Column struct {
	Status appointment.Status `json:"status"`
	Cards  []Card             `json:"cards"`
}

type Board struct {
	ClinicID string   `json:"clinic_id"`
	Date     string   `json:"date"`
	Columns  []Column `json:"columns"`
}

// Build groups appointments into the pipeline columns. Blocked slots are not
// patients and are left out.
func Build(clinicID, date string, appts []appointment.Appointment) Board {
	b := Board{ClinicID: clinicID, Date: date, Columns: emptyColumns()}
	for _, a := range appts {
		i := columnIndex(a.Status)
		if i < 0 {
			continue
		}
		b.Columns[i].Cards = append(b.Columns[i].Cards, Card{
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			PatientName:   a.PatientName,
			Time:          a.Time,
			Status:        a.Status,
		})
	}
	for i := range b.Columns {
		sortCards(b.Columns[i].Cards)
	}
	return b
}

func emptyColumns() []Column {
	cols := make([]Column, len(appointment.PipelineStatuses))
	for i, s := range appointment.PipelineStatuses {
		cols[i] = Column{Status: s, Cards: []Card{}}
	}
	return cols
}

func columnIndex(s appointment.Status) int {
	for i, p := range appointment.PipelineStatuses {
		if p == s {
			return i
		}
	}
	return -1
}

func sortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Time != cards[j].Time {
			return cards[i].Time < cards[j].Time
		}
		return cards[i].DoctorID < cards[j].DoctorID
	})
}

func (b Board) Find(id uuid.UUID) (Card, bool) {
	for _, col := range b.Columns {
		for _, c := range col.Cards {
			if c.AppointmentID == id {
				return c, true
			}
		}
	}
	return Card{}, false
}

// Move returns a copy of b with the card moved to the to column. b itself is
// not modified. The second result is false when the card or column is unknown.
func (b Board) Move(id uuid.UUID, to appointment.Status) (Board, bool) {
	target := columnIndex(to)
	card, ok := b.Find(id)
	if target < 0 || !ok {
		return b, false
	}

	out := Board{ClinicID: b.ClinicID, Date: b.Date, Columns: make([]Column, len(b.Columns))}
	for i, col := range b.Columns {
		cards := make([]Card, 0, len(col.Cards)+1)
		for _, c := range col.Cards {
			if c.AppointmentID != id {
				cards = append(cards, c)
			}
		}
		out.Columns[i] = Column{Status: col.Status, Cards: cards}
	}

	card.Status = to
	out.Columns[target].Cards = append(out.Columns[target].Cards, card)
	sortCards(out.Columns[target].Cards)
	return out, true
}
