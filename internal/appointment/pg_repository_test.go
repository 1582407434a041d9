package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "clinic_id", "doctor_id", "patient_name", "patient_phone",
	"appt_date", "appt_time", "status", "notes", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgRepository_CreateAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(id, "clinic-1", "dr-a", "Ana Lima", "555-0101", "2025-03-10", "09:30", StatusScheduled, "").
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(id, "clinic-1", "dr-a", "Ana Lima", "555-0101", "2025-03-10", "09:30", "scheduled", "", now, now))

	got, err := repo.CreateAppointment(context.Background(), Appointment{
		ID:           id,
		ClinicID:     "clinic-1",
		DoctorID:     "dr-a",
		PatientName:  "Ana Lima",
		PatientPhone: "555-0101",
		Date:         "2025-03-10",
		Time:         "09:30",
		Status:       StatusScheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, "09:30", got.Time)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_CreateAppointment_UniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "clinic-1", "dr-a", "Ana Lima", "", "2025-03-10", "09:30", StatusScheduled, "").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_slot_unique"})

	_, err := repo.CreateAppointment(context.Background(), Appointment{
		ClinicID:    "clinic-1",
		DoctorID:    "dr-a",
		PatientName: "Ana Lima",
		Date:        "2025-03-10",
		Time:        "09:30",
		Status:      StatusScheduled,
	})
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetAppointment_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetAppointment(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPgRepository_ListForDoctorDay(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	rows := pgxmock.NewRows(appointmentCols).
		AddRow(uuid.New(), "clinic-1", "dr-a", "Ana", "", "2025-03-10", "08:00", "confirmed", "", now, now).
		AddRow(uuid.New(), "clinic-1", "dr-a", "", "", "2025-03-10", "08:30", "blocked", "lunch", now, now)
	mock.ExpectQuery("FROM appointments").WithArgs("clinic-1", "dr-a", "2025-03-10").WillReturnRows(rows)

	list, err := repo.ListForDoctorDay(context.Background(), "clinic-1", "dr-a", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StatusConfirmed, list[0].Status)
	assert.Equal(t, StatusBlocked, list[1].Status)
	assert.Equal(t, "lunch", list[1].Notes)
}

func TestPgRepository_UpdateStatus_StaleFromStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, StatusArrived, StatusConfirmed).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusConfirmed, StatusArrived)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPgRepository_DeleteAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM appointments").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.DeleteAppointment(context.Background(), id))

	mock.ExpectExec("DELETE FROM appointments").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, repo.DeleteAppointment(context.Background(), id), ErrAppointmentNotFound)
}

func TestPgRepository_Schedule(t *testing.T) {
	repo, mock := newMockRepo(t)
	cols := []string{"clinic_id", "doctor_id", "start_time", "end_time", "interval_minutes", "working_days", "days_off", "vacations", "updated_at"}
	now := time.Now()

	mock.ExpectQuery("INSERT INTO doctor_schedules").
		WithArgs("clinic-1", "dr-a", "08:00", "18:00", 30, []int32{1, 2, 3, 4, 5}, []string{"2025-03-14"}, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"clinic-1", "dr-a", "08:00", "18:00", 30,
			[]int32{1, 2, 3, 4, 5}, []string{"2025-03-14"},
			[]byte(`[{"from":"2025-04-01","to":"2025-04-10"}]`), now,
		))

	saved, err := repo.UpsertSchedule(context.Background(), DoctorSchedule{
		ClinicID:        "clinic-1",
		DoctorID:        "dr-a",
		StartTime:       "08:00",
		EndTime:         "18:00",
		IntervalMinutes: 30,
		WorkingDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		DaysOff:         []string{"2025-03-14"},
		Vacations:       []DateRange{{From: "2025-04-01", To: "2025-04-10"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, saved.WorkingDays)
	assert.Equal(t, []DateRange{{From: "2025-04-01", To: "2025-04-10"}}, saved.Vacations)

	mock.ExpectQuery("FROM doctor_schedules").WithArgs("clinic-1", "dr-b").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetSchedule(context.Background(), "clinic-1", "dr-b")
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
