package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/config"
	"github.com/hackgods/frontdesk-scheduling/internal/db"
	"github.com/hackgods/frontdesk-scheduling/internal/logging"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
)

type seedOptions struct {
	clinics    int
	doctors    int
	days       int
	fillRatio  float64
	blockRatio float64
}

func main() {
	var opts seedOptions
	flag.IntVar(&opts.clinics, "clinics", 3, "number of clinics")
	flag.IntVar(&opts.doctors, "doctors", 4, "doctors per clinic")
	flag.IntVar(&opts.days, "days", 10, "calendar days to fill starting today")
	flag.Float64Var(&opts.fillRatio, "fill", 0.45, "share of free slots to book")
	flag.Float64Var(&opts.blockRatio, "block", 0.05, "share of free slots to block")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("seed starting",
		zap.Int("clinics", opts.clinics),
		zap.Int("doctors", opts.doctors),
		zap.Int("days", opts.days),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	cancel()
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	// No reservations are held while seeding, so the service runs without
	// a reservation manager and the bus has no listeners.
	svc := appointment.NewService(repo, nil, notify.NewBus(log, nil), log)
	engine := availability.NewEngine(repo, nil)

	s := &seeder{
		svc:    svc,
		engine: engine,
		faker:  gofakeit.New(0),
		log:    log,
		opts:   opts,
	}
	if err := s.run(context.Background(), time.Now()); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	log.Info("seed complete",
		zap.Int("schedules", s.schedules),
		zap.Int("appointments", s.booked),
		zap.Int("blocks", s.blocked),
	)
}

type seeder struct {
	svc    *appointment.Service
	engine *availability.Engine
	faker  *gofakeit.Faker
	log    *zap.Logger
	opts   seedOptions

	schedules int
	booked    int
	blocked   int
}

func (s *seeder) run(ctx context.Context, today time.Time) error {
	for c := 1; c <= s.opts.clinics; c++ {
		clinicID := fmt.Sprintf("clinic-%d", c)
		for d := 1; d <= s.opts.doctors; d++ {
			doctorID := fmt.Sprintf("doctor-%d-%02d", c, d)

			if _, err := s.svc.SaveSchedule(ctx, s.schedule(clinicID, doctorID, today)); err != nil {
				return fmt.Errorf("save schedule %s/%s: %w", clinicID, doctorID, err)
			}
			s.schedules++

			for i := 0; i < s.opts.days; i++ {
				date := today.AddDate(0, 0, i).Format("2006-01-02")
				if err := s.fillDay(ctx, clinicID, doctorID, date); err != nil {
					return err
				}
			}
		}
		s.log.Info("clinic seeded", zap.String("clinic_id", clinicID))
	}
	return nil
}

func (s *seeder) schedule(clinicID, doctorID string, today time.Time) appointment.DoctorSchedule {
	starts := []string{"08:00", "08:30", "09:00"}
	ends := []string{"16:00", "17:00", "18:00"}
	intervals := []int{15, 20, 30}

	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	if s.faker.Number(0, 3) == 0 {
		days = append(days, time.Saturday)
	}

	sched := appointment.DoctorSchedule{
		ClinicID:        clinicID,
		DoctorID:        doctorID,
		StartTime:       starts[s.faker.Number(0, len(starts)-1)],
		EndTime:         ends[s.faker.Number(0, len(ends)-1)],
		IntervalMinutes: intervals[s.faker.Number(0, len(intervals)-1)],
		WorkingDays:     days,
		DaysOff:         []string{today.AddDate(0, 0, s.faker.Number(3, 20)).Format("2006-01-02")},
	}
	if s.faker.Number(0, 2) == 0 {
		from := today.AddDate(0, 0, s.faker.Number(14, 40))
		sched.Vacations = []appointment.DateRange{{
			From: from.Format("2006-01-02"),
			To:   from.AddDate(0, 0, s.faker.Number(2, 9)).Format("2006-01-02"),
		}}
	}
	return sched
}

func (s *seeder) fillDay(ctx context.Context, clinicID, doctorID, date string) error {
	check, err := s.engine.ValidateAvailability(ctx, clinicID, doctorID, date)
	if err != nil {
		return fmt.Errorf("validate %s/%s %s: %w", clinicID, doctorID, date, err)
	}
	if !check.Available {
		return nil
	}

	slots, err := s.engine.ComputeSlots(ctx, clinicID, doctorID, date)
	if err != nil {
		return fmt.Errorf("compute slots %s/%s %s: %w", clinicID, doctorID, date, err)
	}

	fill := int(s.opts.fillRatio * 100)
	block := int(s.opts.blockRatio * 100)

	for _, slot := range slots {
		if slot.State() != availability.SlotFree {
			continue
		}

		roll := s.faker.Number(0, 99)
		switch {
		case roll < block:
			_, err = s.svc.BlockSlot(ctx, appointment.BlockInput{
				ClinicID: clinicID,
				DoctorID: doctorID,
				Date:     date,
				Time:     slot.Time,
				Reason:   "Admin time",
			})
			if err == nil {
				s.blocked++
			}
		case roll < block+fill:
			err = s.book(ctx, clinicID, doctorID, date, slot.Time)
		default:
			continue
		}

		// reruns hit slots an earlier run already filled
		if errors.Is(err, appointment.ErrSlotAlreadyBooked) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed slot %s/%s %s %s: %w", clinicID, doctorID, date, slot.Time, err)
		}
	}
	return nil
}

func (s *seeder) book(ctx context.Context, clinicID, doctorID, date, at string) error {
	a, err := s.svc.Create(ctx, appointment.CreateInput{
		ClinicID:     clinicID,
		DoctorID:     doctorID,
		PatientName:  s.faker.Name(),
		PatientPhone: s.faker.Phone(),
		Date:         date,
		Time:         at,
	})
	if err != nil {
		return err
	}
	s.booked++

	if s.faker.Number(0, 1) == 0 {
		if _, err := s.svc.ChangeStatus(ctx, a.ID, appointment.StatusConfirmed); err != nil {
			return err
		}
	}
	return nil
}
