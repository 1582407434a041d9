package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `
	id, clinic_id, doctor_id, patient_name, patient_phone,
	to_char(appt_date, 'YYYY-MM-DD'), to_char(appt_time, 'HH24:MI'),
	status, notes, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.PatientName,
		&a.PatientPhone,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrSlotAlreadyBooked
		}
		return nil, err
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListForDoctorDay(ctx context.Context, clinicID, doctorID, date string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
		  AND doctor_id = $2
		  AND appt_date = $3::date
		ORDER BY appt_time
	`, clinicID, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListForClinicDay(ctx context.Context, clinicID, date string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
		  AND appt_date = $2::date
		ORDER BY appt_time, doctor_id
	`, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("list clinic appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_name, patient_phone, appt_date, appt_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::time, $8, $9, now(), now())
		RETURNING`+appointmentColumns,
		a.ID, a.ClinicID, a.DoctorID, a.PatientName, a.PatientPhone, a.Date, a.Time, a.Status, a.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET patient_name = $2,
		    patient_phone = $3,
		    appt_date = $4::date,
		    appt_time = $5::time,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING`+appointmentColumns,
		a.ID, a.PatientName, a.PatientPhone, a.Date, a.Time, a.Notes)

	return scanAppointment(row)
}

// UpdateStatus only applies when the row is still in status from, so two
// desks moving the same card cannot both win.
func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING`+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	var days []int32
	var vacations []byte

	err := row.Scan(
		&s.ClinicID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.IntervalMinutes,
		&days,
		&s.DaysOff,
		&vacations,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	for _, d := range days {
		s.WorkingDays = append(s.WorkingDays, time.Weekday(d))
	}
	if len(vacations) > 0 {
		if err := json.Unmarshal(vacations, &s.Vacations); err != nil {
			return nil, fmt.Errorf("decode vacations: %w", err)
		}
	}

	return &s, nil
}

const scheduleColumns = `
	clinic_id, doctor_id,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	interval_minutes, working_days, days_off, vacations, updated_at`

func (r *PgRepository) GetSchedule(ctx context.Context, clinicID, doctorID string) (*DoctorSchedule, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+scheduleColumns+`
		FROM doctor_schedules
		WHERE clinic_id = $1 AND doctor_id = $2
	`, clinicID, doctorID)
	return scanSchedule(row)
}

func (r *PgRepository) UpsertSchedule(ctx context.Context, s DoctorSchedule) (*DoctorSchedule, error) {
	days := make([]int32, 0, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		days = append(days, int32(d))
	}
	daysOff := s.DaysOff
	if daysOff == nil {
		daysOff = []string{}
	}
	vacations, err := json.Marshal(s.Vacations)
	if err != nil {
		return nil, fmt.Errorf("encode vacations: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO doctor_schedules (clinic_id, doctor_id, start_time, end_time, interval_minutes, working_days, days_off, vacations, updated_at)
		VALUES ($1, $2, $3::time, $4::time, $5, $6, $7, $8, now())
		ON CONFLICT (clinic_id, doctor_id) DO UPDATE
		SET start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    interval_minutes = EXCLUDED.interval_minutes,
		    working_days = EXCLUDED.working_days,
		    days_off = EXCLUDED.days_off,
		    vacations = EXCLUDED.vacations,
		    updated_at = now()
		RETURNING`+scheduleColumns,
		s.ClinicID, s.DoctorID, s.StartTime, s.EndTime, s.IntervalMinutes, days, daysOff, vacations)

	return scanSchedule(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
