package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rental-feed-sync/backend/internal/storage/models"
)

func sampleEvents() []models.BookingEvent {
	return []models.BookingEvent{
		{
			UID:     "RES-100",
			Summary: "Jane Doe",
			Start:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			End:     time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
			AllDay:  true,
			Status:  models.EventStatusConfirmed,
		},
		{
			UID:         "RES-101",
			Summary:     "John Roe",
			Description: "late arrival",
			Start:       time.Date(2025, 2, 1, 15, 0, 0, 0, time.UTC),
			End:         time.Date(2025, 2, 3, 11, 0, 0, 0, time.UTC),
			Status:      models.EventStatusConfirmed,
		},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(sampleEvents())
	b := Fingerprint(sampleEvents())

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_SameInstantDifferentZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	events := sampleEvents()
	shifted := sampleEvents()
	shifted[1].Start = shifted[1].Start.In(tokyo)
	shifted[1].End = shifted[1].End.In(tokyo)

	assert.Equal(t, Fingerprint(events), Fingerprint(shifted))
}

func TestFingerprint_SensitiveToContent(t *testing.T) {
	base := Fingerprint(sampleEvents())

	mutations := map[string]func([]models.BookingEvent){
		"summary":     func(e []models.BookingEvent) { e[0].Summary = "Jane D." },
		"description": func(e []models.BookingEvent) { e[0].Description = "note" },
		"end":         func(e []models.BookingEvent) { e[0].End = e[0].End.AddDate(0, 0, 1) },
		"status":      func(e []models.BookingEvent) { e[1].Status = models.EventStatusCancelled },
		"all day":     func(e []models.BookingEvent) { e[1].AllDay = true },
		"order": func(e []models.BookingEvent) {
			e[0], e[1] = e[1], e[0]
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			events := sampleEvents()
			mutate(events)
			assert.NotEqual(t, base, Fingerprint(events))
		})
	}
}

func TestFingerprint_Empty(t *testing.T) {
	assert.Equal(t, Fingerprint(nil), Fingerprint([]models.BookingEvent{}))
	assert.NotEqual(t, Fingerprint(nil), Fingerprint(sampleEvents()[:1]))
}
