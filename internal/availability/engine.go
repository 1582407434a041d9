package availability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

const (
	DefaultNextAvailableLimit = 5
	DefaultSearchHorizonDays  = 90
)

// ScheduleSource reads working hours and the day's appointments.
// appointment.Repository and appointment.Service both satisfy it.
type ScheduleSource interface {
	GetSchedule(ctx context.Context, clinicID, doctorID string) (*appointment.DoctorSchedule, error)
	ListForDoctorDay(ctx context.Context, clinicID, doctorID, date string) ([]appointment.Appointment, error)
}

type ReservationChecker interface {
	IsReserved(ctx context.Context, key reservation.SlotKey) (bool, error)
}

// Engine merges working hours, appointments and live reservations into
// per-slot state. It only reads its collaborators.
type Engine struct {
	source       ScheduleSource
	reservations ReservationChecker
	grids        *GridCache
	nextLimit    int
	horizonDays  int
	log          *zap.Logger
}

type Option func(*Engine)

func WithGridCache(c *GridCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.grids = c
		}
	}
}

func WithNextAvailableLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.nextLimit = n
		}
	}
}

func WithSearchHorizon(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.horizonDays = days
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine builds an engine. reservations may be nil, in which case no
// slot is ever reported as reserved.
func NewEngine(source ScheduleSource, reservations ReservationChecker, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		reservations: reservations,
		nextLimit:    DefaultNextAvailableLimit,
		horizonDays:  DefaultSearchHorizonDays,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.grids == nil {
		e.grids = NewGridCache(DefaultGridCacheSize)
	}
	return e
}

func parseDate(date string) (time.Time, error) {
	d, err := time.Parse(reservation.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q must be YYYY-MM-DD", ErrInvalidDate, date)
	}
	return d, nil
}

// ComputeSlots returns one slot per grid point plus any appointment that sits
// off the grid, sorted by time. A doctor without working hours yields an
// empty list.
func (e *Engine) ComputeSlots(ctx context.Context, clinicID, doctorID, date string) ([]AvailableSlot, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}

	sched, err := e.source.GetSchedule(ctx, clinicID, doctorID)
	if errors.Is(err, appointment.ErrScheduleNotFound) {
		return []AvailableSlot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	grid, err := e.grids.Grid(sched.StartTime, sched.EndTime, sched.IntervalMinutes)
	if err != nil {
		return nil, err
	}

	appts, err := e.source.ListForDoctorDay(ctx, clinicID, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	byTime := make(map[string]appointment.Appointment, len(appts))
	for _, a := range appts {
		if !a.Status.OccupiesSlot() {
			continue
		}
		if _, dup := byTime[a.Time]; !dup {
			byTime[a.Time] = a
		}
	}

	slots := make([]AvailableSlot, 0, len(grid)+len(byTime))
	for _, t := range grid {
		slot := AvailableSlot{Time: t}
		if a, ok := byTime[t]; ok {
			occupy(&slot, a)
			delete(byTime, t)
		} else if e.reservations != nil {
			key := reservation.SlotKey{ClinicID: clinicID, DoctorID: doctorID, Date: date, Time: t}
			reserved, err := e.reservations.IsReserved(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("check reservation %s: %w", key, err)
			}
			slot.IsReserved = reserved
		}
		slots = append(slots, slot)
	}

	// Whatever is left in byTime does not align with the grid.
	for _, a := range byTime {
		slot := AvailableSlot{Time: a.Time, OffGrid: true}
		occupy(&slot, a)
		slots = append(slots, slot)
	}
	if len(slots) > len(grid) {
		e.log.Debug("availability.ComputeSlots off-grid appointments",
			zap.String("clinic_id", clinicID),
			zap.String("doctor_id", doctorID),
			zap.String("date", date),
			zap.Int("count", len(slots)-len(grid)),
		)
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

func occupy(slot *AvailableSlot, a appointment.Appointment) {
	appt := a
	slot.Appointment = &appt
	if a.Status == appointment.StatusBlocked {
		slot.IsBlocked = true
	} else {
		slot.IsBooked = true
	}
}

// ValidateAvailability reports whether the doctor takes appointments on date
// at all. When not, it names the reason and suggests the next working dates.
func (e *Engine) ValidateAvailability(ctx context.Context, clinicID, doctorID, date string) (Validation, error) {
	day, err := parseDate(date)
	if err != nil {
		return Validation{}, err
	}

	sched, err := e.source.GetSchedule(ctx, clinicID, doctorID)
	if errors.Is(err, appointment.ErrScheduleNotFound) {
		return Validation{Reason: ReasonNoWorkingHours}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("load schedule: %w", err)
	}

	reason := unavailableReason(sched, day)
	if reason == "" {
		return Validation{Available: true}, nil
	}

	v := Validation{Reason: reason}
	if reason != ReasonNoWorkingHours {
		v.NextAvailable = e.scan(sched, day.AddDate(0, 0, 1), e.nextLimit)
	}
	return v, nil
}

// NextAvailableDates lists up to limit working dates starting at from
// (inclusive) within the search horizon.
func (e *Engine) NextAvailableDates(ctx context.Context, clinicID, doctorID, from string, limit int) ([]string, error) {
	day, err := parseDate(from)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.nextLimit
	}

	sched, err := e.source.GetSchedule(ctx, clinicID, doctorID)
	if errors.Is(err, appointment.ErrScheduleNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	return e.scan(sched, day, limit), nil
}

func (e *Engine) scan(sched *appointment.DoctorSchedule, from time.Time, limit int) []string {
	out := []string{}
	for i := 0; i < e.horizonDays && len(out) < limit; i++ {
		day := from.AddDate(0, 0, i)
		if unavailableReason(sched, day) == "" {
			out = append(out, day.Format(reservation.DateLayout))
		}
	}
	return out
}

func unavailableReason(sched *appointment.DoctorSchedule, day time.Time) string {
	if sched.StartTime == "" || sched.EndTime == "" || sched.IntervalMinutes <= 0 || len(sched.WorkingDays) == 0 {
		return ReasonNoWorkingHours
	}
	if !slices.Contains(sched.WorkingDays, day.Weekday()) {
		return ReasonNotWorkingDay
	}

	date := day.Format(reservation.DateLayout)
	if slices.Contains(sched.DaysOff, date) {
		return ReasonDayOff
	}
	for _, v := range sched.Vacations {
		// Dates in YYYY-MM-DD order lexically.
		if date >= v.From && date <= v.To {
			return ReasonVacation
		}
	}
	return ""
}
