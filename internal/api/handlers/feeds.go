package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-feed-sync/backend/internal/api/middleware"
	"github.com/rental-feed-sync/backend/internal/calendar"
)

// ListTenantFeeds returns the sync status of every feed of a tenant.
func ListTenantFeeds(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := feeds.ListByTenant(r.Context(), mux.Vars(r)["tenantID"])
		if err != nil {
			middleware.WriteKindError(w, err, "Failed to list feeds")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// RegisterFeed adds a calendar feed to a unit.
func RegisterFeed(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req calendar.RegisterFeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "Invalid request body")
			return
		}

		feed, err := feeds.Register(r.Context(), req)
		if err != nil {
			middleware.WriteKindError(w, err, "Failed to register feed")
			return
		}
		writeJSON(w, http.StatusCreated, feed)
	}
}

// GetFeed returns a single feed by ID.
func GetFeed(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, err := feeds.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteKindError(w, err, "Failed to load feed")
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// DeleteFeed removes a feed registration.
func DeleteFeed(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := feeds.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
			middleware.WriteKindError(w, err, "Failed to delete feed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PauseFeed stops a feed from being synced.
func PauseFeed(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, err := feeds.Pause(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteKindError(w, err, "Failed to pause feed")
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// ResumeFeed returns a paused or failed feed to the sweep.
func ResumeFeed(feeds *calendar.FeedService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, err := feeds.Resume(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteKindError(w, err, "Failed to resume feed")
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// SyncFeed runs a manual sync of one feed and returns its result.
// A sync that ran but failed still answers 200 with success=false.
func SyncFeed(syncService *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := syncService.SyncFeed(r.Context(), mux.Vars(r)["id"])
		if result == nil {
			middleware.WriteKindError(w, err, "Failed to sync feed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// SyncTenant sweeps every eligible feed of a tenant.
func SyncTenant(syncService *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sweep := syncService.SyncTenant(r.Context(), mux.Vars(r)["tenantID"])
		status := http.StatusOK
		if !sweep.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, sweep)
	}
}
