// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"

	"github.com/rental-feed-sync/backend/internal/api/handlers"
	"github.com/rental-feed-sync/backend/internal/api/middleware"
	"github.com/rental-feed-sync/backend/internal/calendar"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/websocket"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	DB           *storage.DB
	Hub          *websocket.Hub
	Feeds        *calendar.FeedService
	Sync         *calendar.SyncService
	Reservations *storage.ReservationRepository
	Scheduler    *calendar.Scheduler
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(svc Services) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(svc.DB, svc.Hub)).Methods("GET")

	// WebSocket endpoint
	if svc.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(svc.Hub)).Methods("GET")
	}

	// Feed endpoints
	api.HandleFunc("/tenants/{tenantID}/feeds", handlers.ListTenantFeeds(svc.Feeds)).Methods("GET")
	api.HandleFunc("/tenants/{tenantID}/sync", handlers.SyncTenant(svc.Sync)).Methods("POST")
	api.HandleFunc("/feeds", handlers.RegisterFeed(svc.Feeds)).Methods("POST")
	api.HandleFunc("/feeds/{id}", handlers.GetFeed(svc.Feeds)).Methods("GET")
	api.HandleFunc("/feeds/{id}", handlers.DeleteFeed(svc.Feeds)).Methods("DELETE")
	api.HandleFunc("/feeds/{id}/sync", handlers.SyncFeed(svc.Sync)).Methods("POST")
	api.HandleFunc("/feeds/{id}/pause", handlers.PauseFeed(svc.Feeds)).Methods("POST")
	api.HandleFunc("/feeds/{id}/resume", handlers.ResumeFeed(svc.Feeds)).Methods("POST")

	// Reservation endpoints
	api.HandleFunc("/units/{unitID}/reservations", handlers.ListUnitReservations(svc.Reservations)).Methods("GET")
	api.HandleFunc("/reservations/{externalID}", handlers.GetReservationByExternalID(svc.Reservations)).Methods("GET")

	// Scheduler endpoints
	if svc.Scheduler != nil {
		api.HandleFunc("/scheduler", handlers.SchedulerStatus(svc.Scheduler)).Methods("GET")
		api.HandleFunc("/scheduler/jobs/{jobID}/run", handlers.TriggerJob(svc.Scheduler)).Methods("POST")
	}

	return r
}
