package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/kanban"
)

func parseAppointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in appointment.CreateInput
		if !decodeJSON(w, r, &in) {
			return
		}

		appt, err := svc.Create(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clinicID, doctorID, date := q.Get("clinic_id"), q.Get("doctor_id"), q.Get("date")
		if clinicID == "" || date == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "clinic_id and date are required")
			return
		}

		var (
			list []appointment.Appointment
			err  error
		)
		if doctorID != "" {
			list, err = svc.ListForDoctorDay(r.Context(), clinicID, doctorID, date)
		} else {
			list, err = svc.ListForClinicDay(r.Context(), clinicID, date)
		}
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if list == nil {
			list = []appointment.Appointment{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func updateAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var in appointment.UpdateInput
		if !decodeJSON(w, r, &in) {
			return
		}

		appt, err := svc.Update(r.Context(), id, in)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func deleteAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func changeStatusHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req ChangeStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, req.Status)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func blockSlotHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in appointment.BlockInput
		if !decodeJSON(w, r, &in) {
			return
		}

		appt, err := svc.BlockSlot(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

// boardHandler returns a one-off pipeline board. Live boards go through /ws.
func boardHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID := chi.URLParam(r, "clinic")
		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "date is required")
			return
		}

		list, err := svc.ListForClinicDay(r.Context(), clinicID, date)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, kanban.Build(clinicID, date, list))
	}
}
