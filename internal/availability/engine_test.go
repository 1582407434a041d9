package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

type fakeSource struct {
	schedule *appointment.DoctorSchedule
	appts    []appointment.Appointment
	err      error
}

func (f *fakeSource) GetSchedule(_ context.Context, _, _ string) (*appointment.DoctorSchedule, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.schedule == nil {
		return nil, appointment.ErrScheduleNotFound
	}
	s := *f.schedule
	return &s, nil
}

func (f *fakeSource) ListForDoctorDay(_ context.Context, _, _, _ string) ([]appointment.Appointment, error) {
	return f.appts, f.err
}

func weekdaySchedule(interval int) *appointment.DoctorSchedule {
	return &appointment.DoctorSchedule{
		ClinicID:        "clinic-1",
		DoctorID:        "dr-a",
		StartTime:       "08:00",
		EndTime:         "18:00",
		IntervalMinutes: interval,
		WorkingDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

func booking(at string, status appointment.Status) appointment.Appointment {
	return appointment.Appointment{
		ID:       uuid.New(),
		ClinicID: "clinic-1",
		DoctorID: "dr-a",
		Date:     "2025-03-10",
		Time:     at,
		Status:   status,
	}
}

func stateCounts(slots []AvailableSlot) map[SlotState]int {
	out := map[SlotState]int{}
	for _, s := range slots {
		out[s.State()]++
	}
	return out
}

func TestGenerateGrid(t *testing.T) {
	grid, err := GenerateGrid("08:00", "18:00", 30)
	require.NoError(t, err)
	assert.Len(t, grid, 20)
	assert.Equal(t, "08:00", grid[0])
	assert.Equal(t, "17:30", grid[19])

	grid, err = GenerateGrid("08:00", "18:00", 60)
	require.NoError(t, err)
	assert.Len(t, grid, 10)

	grid, err = GenerateGrid("09:00", "10:00", 45)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:45"}, grid)

	for _, tc := range []struct {
		name       string
		start, end string
		interval   int
	}{
		{"zero interval", "08:00", "18:00", 0},
		{"reversed", "18:00", "08:00", 30},
		{"bad clock", "8am", "18:00", 30},
		{"minutes out of range", "08:75", "18:00", 30},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateGrid(tc.start, tc.end, tc.interval)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestGridCache_NewIntervalRegenerates(t *testing.T) {
	cache := NewGridCache(4)

	a, err := cache.Grid("08:00", "18:00", 30)
	require.NoError(t, err)
	a[0] = "mutated"

	b, err := cache.Grid("08:00", "18:00", 30)
	require.NoError(t, err)
	assert.Equal(t, "08:00", b[0], "callers get copies")

	c, err := cache.Grid("08:00", "18:00", 60)
	require.NoError(t, err)
	assert.Len(t, c, 10)
	assert.Equal(t, 2, cache.Len())
}

func TestComputeSlots_BookingFlipsOnlyThatSlot(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{schedule: weekdaySchedule(30)}
	engine := NewEngine(src, nil)

	slots, err := engine.ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, slots, 20)
	assert.Equal(t, 20, stateCounts(slots)[SlotFree])

	src.appts = []appointment.Appointment{booking("10:30", appointment.StatusScheduled)}
	after, err := engine.ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, after, 20)

	for i := range after {
		if after[i].Time == "10:30" {
			assert.True(t, after[i].IsBooked)
			require.NotNil(t, after[i].Appointment)
			continue
		}
		assert.Equal(t, slots[i], after[i], "slot %s changed", after[i].Time)
	}
}

func TestComputeSlots_RegridKeepsOffGridBooking(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		schedule: weekdaySchedule(15),
		appts:    []appointment.Appointment{booking("08:15", appointment.StatusConfirmed)},
	}
	engine := NewEngine(src, nil)

	before, err := engine.ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, before, 40)

	src.schedule = weekdaySchedule(60)
	after, err := engine.ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, after, 11)

	assert.Equal(t, "08:00", after[0].Time)
	assert.Equal(t, "08:15", after[1].Time)
	assert.True(t, after[1].IsBooked)
	assert.True(t, after[1].OffGrid)
	assert.Equal(t, "09:00", after[2].Time)

	grid := 0
	for _, s := range after {
		if !s.OffGrid {
			grid++
		}
	}
	assert.Equal(t, 10, grid)
}

func TestComputeSlots_BlockedReservedAndCancelled(t *testing.T) {
	ctx := context.Background()
	store := reservation.NewMemoryStore()
	mgr := reservation.NewManager(store)

	_, err := mgr.Reserve(ctx, reservation.SlotKey{ClinicID: "clinic-1", DoctorID: "dr-a", Date: "2025-03-10", Time: "11:00"},
		reservation.ReservedByAutomated, "")
	require.NoError(t, err)
	// A reservation on a booked slot must not surface as reserved.
	_, err = mgr.Reserve(ctx, reservation.SlotKey{ClinicID: "clinic-1", DoctorID: "dr-a", Date: "2025-03-10", Time: "09:00"},
		reservation.ReservedByInteractive, "")
	require.NoError(t, err)

	src := &fakeSource{
		schedule: weekdaySchedule(30),
		appts: []appointment.Appointment{
			booking("09:00", appointment.StatusScheduled),
			booking("12:00", appointment.StatusBlocked),
			booking("13:00", appointment.StatusCancelled),
		},
	}
	engine := NewEngine(src, mgr)

	slots, err := engine.ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, slots, 20)

	byTime := map[string]AvailableSlot{}
	for _, s := range slots {
		byTime[s.Time] = s
	}
	assert.Equal(t, SlotBooked, byTime["09:00"].State())
	assert.False(t, byTime["09:00"].IsReserved)
	assert.Equal(t, SlotReserved, byTime["11:00"].State())
	assert.Equal(t, SlotBlocked, byTime["12:00"].State())
	assert.Equal(t, SlotFree, byTime["13:00"].State())
	assert.Equal(t, map[SlotState]int{SlotFree: 17, SlotBooked: 1, SlotReserved: 1, SlotBlocked: 1}, stateCounts(slots))

	assert.Equal(t, 2, store.Len(), "computing slots never touches reservations")
}

func TestComputeSlots_NoScheduleAndErrors(t *testing.T) {
	ctx := context.Background()

	slots, err := NewEngine(&fakeSource{}, nil).ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NotNil(t, slots)

	_, err = NewEngine(&fakeSource{}, nil).ComputeSlots(ctx, "clinic-1", "dr-a", "10/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)

	boom := errors.New("db down")
	_, err = NewEngine(&fakeSource{err: boom}, nil).ComputeSlots(ctx, "clinic-1", "dr-a", "2025-03-10")
	assert.ErrorIs(t, err, boom)
}

func TestValidateAvailability(t *testing.T) {
	ctx := context.Background()
	sched := weekdaySchedule(30)
	sched.DaysOff = []string{"2025-03-12"}
	sched.Vacations = []appointment.DateRange{{From: "2025-03-24", To: "2025-03-28"}}
	engine := NewEngine(&fakeSource{schedule: sched}, nil)

	tests := []struct {
		name   string
		date   string
		reason string
		next   []string
	}{
		{name: "working day", date: "2025-03-10"},
		{
			name:   "weekend",
			date:   "2025-03-15",
			reason: ReasonNotWorkingDay,
			next:   []string{"2025-03-17", "2025-03-18", "2025-03-19", "2025-03-20", "2025-03-21"},
		},
		{
			name:   "day off",
			date:   "2025-03-12",
			reason: ReasonDayOff,
			next:   []string{"2025-03-13", "2025-03-14", "2025-03-17", "2025-03-18", "2025-03-19"},
		},
		{
			name:   "vacation",
			date:   "2025-03-25",
			reason: ReasonVacation,
			next:   []string{"2025-03-31", "2025-04-01", "2025-04-02", "2025-04-03", "2025-04-04"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := engine.ValidateAvailability(ctx, "clinic-1", "dr-a", tc.date)
			require.NoError(t, err)
			assert.Equal(t, tc.reason == "", v.Available)
			assert.Equal(t, tc.reason, v.Reason)
			if tc.next != nil {
				assert.Equal(t, tc.next, v.NextAvailable)
			} else {
				assert.Empty(t, v.NextAvailable)
			}
		})
	}
}

func TestValidateAvailability_NoWorkingHours(t *testing.T) {
	v, err := NewEngine(&fakeSource{}, nil).ValidateAvailability(context.Background(), "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	assert.False(t, v.Available)
	assert.Equal(t, ReasonNoWorkingHours, v.Reason)
	assert.Empty(t, v.NextAvailable)
}

func TestNextAvailableDates_LimitAndHorizon(t *testing.T) {
	ctx := context.Background()
	sched := weekdaySchedule(30)
	sched.WorkingDays = []time.Weekday{time.Sunday}

	engine := NewEngine(&fakeSource{schedule: sched}, nil, WithNextAvailableLimit(3), WithSearchHorizon(14))

	dates, err := engine.NextAvailableDates(ctx, "clinic-1", "dr-a", "2025-03-10", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-16", "2025-03-23"}, dates, "horizon cuts the search short")

	dates, err = engine.NextAvailableDates(ctx, "clinic-1", "dr-a", "2025-03-16", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-16"}, dates)
}
