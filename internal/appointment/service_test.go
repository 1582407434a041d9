package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.ChangeEvent
}

func (r *recorder) handle(_ context.Context, ev notify.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc          *Service
	repo         *MemoryRepository
	reservations *reservation.Manager
	rec          *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := NewMemoryRepository()
	bus := notify.NewBus(nil, nil)
	rec := &recorder{}
	t.Cleanup(bus.SubscribeGroup(notify.AllEventTypes, rec.handle))
	mgr := reservation.NewManager(reservation.NewMemoryStore())
	return fixture{
		svc:          NewService(repo, mgr, bus, nil),
		repo:         repo,
		reservations: mgr,
		rec:          rec,
	}
}

func bookingInput() CreateInput {
	return CreateInput{
		ClinicID:    "clinic-1",
		DoctorID:    "dr-a",
		PatientName: "Ana Lima",
		Date:        "2025-03-10",
		Time:        "09:30",
	}
}

func TestService_Create_WithOwnReservationConfirmsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := bookingInput()

	key := reservation.SlotKey{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Date: in.Date, Time: in.Time}
	res, err := f.reservations.Reserve(ctx, key, reservation.ReservedByInteractive, "desk-1")
	require.NoError(t, err)

	in.ReservationID = res.ID
	appt, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)

	reserved, err := f.reservations.IsReserved(ctx, key)
	require.NoError(t, err)
	assert.False(t, reserved, "reservation should be released after the write")

	assert.Equal(t, []notify.EventType{notify.AppointmentCreated}, f.rec.types())
	require.Len(t, f.repo.events, 1)
	assert.Equal(t, string(notify.AppointmentCreated), f.repo.events[0].EventType)
}

func TestService_Create_ForeignReservationConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := bookingInput()

	key := reservation.SlotKey{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Date: in.Date, Time: in.Time}
	held, err := f.reservations.Reserve(ctx, key, reservation.ReservedByAutomated, "assistant")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, reservation.ErrSlotReserved)

	var conflict *reservation.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, held.ID, conflict.Existing.ID)
	assert.Equal(t, reservation.ReservedByAutomated, conflict.Existing.ReservedBy)

	assert.Empty(t, f.rec.types(), "nothing is published for a rejected write")
}

func TestService_Create_DoubleBookingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, bookingInput())
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, bookingInput())
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestService_Create_Validation(t *testing.T) {
	f := newFixture(t)

	in := bookingInput()
	in.Time = "9.30"
	in.PatientName = ""

	_, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "PatientName is required")
	assert.Contains(t, err.Error(), "Time must match 15:04")
}

func TestService_Create_PersistenceFailureKeepsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := bookingInput()

	key := reservation.SlotKey{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Date: in.Date, Time: in.Time}
	res, err := f.reservations.Reserve(ctx, key, reservation.ReservedByInteractive, "desk-1")
	require.NoError(t, err)

	f.repo.createErr = errors.New("connection reset")
	in.ReservationID = res.ID
	_, err = f.svc.Create(ctx, in)
	require.Error(t, err)

	reserved, err := f.reservations.IsReserved(ctx, key)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Empty(t, f.rec.types())
}

func TestService_ChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, bookingInput())
	require.NoError(t, err)

	moved, err := f.svc.ChangeStatus(ctx, appt.ID, StatusArrived)
	require.NoError(t, err)
	assert.Equal(t, StatusArrived, moved.Status)

	_, err = f.svc.ChangeStatus(ctx, appt.ID, StatusScheduled)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.ChangeStatus(ctx, appt.ID, StatusBlocked)
	assert.ErrorIs(t, err, ErrValidation)

	same, err := f.svc.ChangeStatus(ctx, appt.ID, StatusArrived)
	require.NoError(t, err)
	assert.Equal(t, StatusArrived, same.Status)

	assert.Equal(t, []notify.EventType{notify.AppointmentCreated, notify.AppointmentStatusChanged}, f.rec.types())
}

func TestService_UpdateReschedulesAndPublishesBothDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, bookingInput())
	require.NoError(t, err)

	date, tm := "2025-03-11", "10:00"
	updated, err := f.svc.Update(ctx, appt.ID, UpdateInput{Date: &date, Time: &tm})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", updated.Date)

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	require.Len(t, f.rec.events, 3)
	assert.Equal(t, "2025-03-11", f.rec.events[1].Date)
	assert.Equal(t, "2025-03-10", f.rec.events[2].Date)
}

func TestService_DeleteAndBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Create(ctx, bookingInput())
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, appt.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, appt.ID), ErrAppointmentNotFound)

	blocked, err := f.svc.BlockSlot(ctx, BlockInput{
		ClinicID: "clinic-1", DoctorID: "dr-a", Date: "2025-03-10", Time: "09:30", Reason: "staff meeting",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, blocked.Status)

	_, err = f.svc.Create(ctx, bookingInput())
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	assert.Equal(t, []notify.EventType{
		notify.AppointmentCreated,
		notify.AppointmentDeleted,
		notify.AppointmentCreated,
	}, f.rec.types())
}

func TestService_SaveSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched := DoctorSchedule{
		ClinicID:        "clinic-1",
		DoctorID:        "dr-a",
		StartTime:       "08:00",
		EndTime:         "18:00",
		IntervalMinutes: 30,
		WorkingDays:     []time.Weekday{time.Monday, time.Wednesday},
	}
	_, err := f.svc.SaveSchedule(ctx, sched)
	require.NoError(t, err)
	assert.Equal(t, []notify.EventType{notify.AvailabilityConfigUpdated}, f.rec.types())

	bad := sched
	bad.EndTime = "07:00"
	_, err = f.svc.SaveSchedule(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = sched
	bad.IntervalMinutes = 0
	_, err = f.svc.SaveSchedule(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = sched
	bad.Vacations = []DateRange{{From: "2025-05-10", To: "2025-05-01"}}
	_, err = f.svc.SaveSchedule(ctx, bad)
	assert.ErrorIs(t, err, ErrValidation)
}
