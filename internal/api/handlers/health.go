// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-feed-sync/backend/internal/api/middleware"
	"github.com/rental-feed-sync/backend/internal/calendar"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	WSClients   int    `json:"ws_clients"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		}
		if hub != nil {
			response.WSClients = hub.ClientCount()
		}
		writeJSON(w, code, response)
	}
}

// SchedulerStatus reports the recurring jobs and their last runs.
func SchedulerStatus(scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, scheduler.Status())
	}
}

// TriggerJob starts a scheduled job immediately.
func TriggerJob(scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["jobID"]
		if err := scheduler.Trigger(id); err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": id})
	}
}
