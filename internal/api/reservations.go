package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/reservation"
)

func createReservationHandler(svc ReservationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		by := reservation.ReservedBy(req.ReservedBy)
		if by == "" {
			by = reservation.ReservedByInteractive
		}

		res, err := svc.Reserve(r.Context(), req.SlotKey(), by, req.OwnerID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, res)
	}
}

// getReservationHandler reports who currently holds a slot, if anyone.
func getReservationHandler(svc ReservationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key := reservation.SlotKey{
			ClinicID: q.Get("clinic_id"),
			DoctorID: q.Get("doctor_id"),
			Date:     q.Get("date"),
			Time:     q.Get("time"),
		}
		if err := key.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		res, err := svc.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, reservation.ErrNotFound) {
				writeError(w, http.StatusNotFound, "reservation_not_found", "slot is not reserved")
				return
			}
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// releaseReservationHandler serves both confirm and cancel. Unknown ids
// succeed.
func releaseReservationHandler(release func(ctx context.Context, id string) error, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := release(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
