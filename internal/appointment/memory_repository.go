package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository enforcing the same unique-slot
// rule as the appointments table. It backs tests and the load simulator.
type MemoryRepository struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]Appointment
	schedules map[string]DoctorSchedule
	events    []EventLog
	createErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts:     make(map[uuid.UUID]Appointment),
		schedules: make(map[string]DoctorSchedule),
	}
}

func (r *MemoryRepository) slotTaken(a Appointment) bool {
	for id, other := range r.appts {
		if id != a.ID && other.Status.OccupiesSlot() &&
			other.ClinicID == a.ClinicID && other.DoctorID == a.DoctorID &&
			other.Date == a.Date && other.Time == a.Time {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListForDoctorDay(_ context.Context, clinicID, doctorID, date string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.DoctorID == doctorID && a.Date == date {
			out = append(out, a)
		}
	}
	sortByTime(out)
	return out, nil
}

func (r *MemoryRepository) ListForClinicDay(_ context.Context, clinicID, date string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.Date == date {
			out = append(out, a)
		}
	}
	sortByTime(out)
	return out, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if r.slotTaken(a) {
		return nil, ErrSlotAlreadyBooked
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.appts[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	if r.slotTaken(a) {
		return nil, ErrSlotAlreadyBooked
	}
	r.appts[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if !from.OccupiesSlot() && to.OccupiesSlot() && r.slotTaken(a) {
		return nil, ErrSlotAlreadyBooked
	}
	r.appts[id] = a
	return &a, nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appts, id)
	return nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, clinicID, doctorID string) (*DoctorSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[clinicID+"/"+doctorID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) UpsertSchedule(_ context.Context, s DoctorSchedule) (*DoctorSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ClinicID+"/"+s.DoctorID] = s
	return &s, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func sortByTime(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Time != list[j].Time {
			return list[i].Time < list[j].Time
		}
		return list[i].DoctorID < list[j].DoctorID
	})
}

// Count reports how many appointments occupy a slot.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.Status.OccupiesSlot() {
			n++
		}
	}
	return n
}
