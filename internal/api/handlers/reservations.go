package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-feed-sync/backend/internal/api/middleware"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// ListUnitReservations returns the reservations of a unit ordered by check-in.
func ListUnitReservations(repo *storage.ReservationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservations, err := repo.ListByUnit(r.Context(), mux.Vars(r)["unitID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "Failed to query reservations")
			return
		}
		if reservations == nil {
			reservations = []models.Reservation{}
		}
		writeJSON(w, http.StatusOK, reservations)
	}
}

// GetReservationByExternalID looks up a reservation by its feed UID.
func GetReservationByExternalID(repo *storage.ReservationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := repo.GetByExternalID(r.Context(), mux.Vars(r)["externalID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, "Failed to query reservation")
			return
		}
		if res == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, "Reservation not found")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
