package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rental-feed-sync/backend/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.Warnf("Writing response: %v", err)
	}
}
