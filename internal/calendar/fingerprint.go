package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// canonicalEvent fixes field order and time encoding for hashing.
type canonicalEvent struct {
	UID         string `json:"uid"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"all_day"`
	Status      string `json:"status"`
}

// Fingerprint returns the hex SHA-256 of the canonical serialization of events.
// Equal event sequences always produce equal fingerprints.
func Fingerprint(events []models.BookingEvent) string {
	canonical := make([]canonicalEvent, len(events))
	for i, e := range events {
		canonical[i] = canonicalEvent{
			UID:         e.UID,
			Summary:     e.Summary,
			Description: e.Description,
			Start:       e.Start.UTC().Format(time.RFC3339Nano),
			End:         e.End.UTC().Format(time.RFC3339Nano),
			AllDay:      e.AllDay,
			Status:      string(e.Status),
		}
	}

	// Marshalling a slice of flat structs of strings and bools cannot fail.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
