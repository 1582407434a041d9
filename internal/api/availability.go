package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
)

func slotsHandler(svc AvailabilityService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, doctorID := chi.URLParam(r, "clinic"), chi.URLParam(r, "doctor")
		date := r.URL.Query().Get("date")

		slots, err := svc.ComputeSlots(r.Context(), clinicID, doctorID, date)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			ClinicID: clinicID,
			DoctorID: doctorID,
			Date:     date,
			Slots:    slots,
		})
	}
}

func availabilityHandler(svc AvailabilityService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.ValidateAvailability(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "doctor"), r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, v)
	}
}

func nextAvailableHandler(svc AvailabilityService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 31 {
				writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 31")
				return
			}
			limit = n
		}

		dates, err := svc.NextAvailableDates(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "doctor"), q.Get("from"), limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string][]string{"dates": dates})
	}
}

func getScheduleHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, err := svc.GetSchedule(r.Context(), chi.URLParam(r, "clinic"), chi.URLParam(r, "doctor"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, sched)
	}
}

// saveScheduleHandler replaces a doctor's working hours. Clinic and doctor
// come from the path, not the body.
func saveScheduleHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sched appointment.DoctorSchedule
		sched.ClinicID = chi.URLParam(r, "clinic")
		sched.DoctorID = chi.URLParam(r, "doctor")
		if !decodeJSON(w, r, &sched) {
			return
		}
		sched.ClinicID = chi.URLParam(r, "clinic")
		sched.DoctorID = chi.URLParam(r, "doctor")

		saved, err := svc.SaveSchedule(r.Context(), sched)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, saved)
	}
}
