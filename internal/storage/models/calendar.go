// Package models contains the domain models for the application.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SyncStatus is the persisted state of a calendar feed.
type SyncStatus string

// SyncStatus values
const (
	SyncStatusNeverSynced SyncStatus = "NEVER_SYNCED"
	SyncStatusActive      SyncStatus = "ACTIVE"
	SyncStatusPaused      SyncStatus = "PAUSED"
	SyncStatusError       SyncStatus = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusNeverSynced, SyncStatusActive, SyncStatusPaused, SyncStatusError:
		return true
	}
	return false
}

// Sweepable reports whether scheduled sweeps pick up a feed in this status.
func (s SyncStatus) Sweepable() bool {
	return s == SyncStatusActive || s == SyncStatusNeverSynced
}

// Scan implements sql.Scanner and rejects unknown values.
func (s *SyncStatus) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	status := SyncStatus(v)
	if !status.Valid() {
		return fmt.Errorf("invalid sync status %q", v)
	}
	*s = status
	return nil
}

// Value implements driver.Valuer.
func (s SyncStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sync status %q", string(s))
	}
	return string(s), nil
}

// CalendarFeed is one external iCal source bound to one rental unit.
type CalendarFeed struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	UnitID          string     `json:"unit_id"`
	URL             string     `json:"url"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LastFetchedAt   *time.Time `json:"last_fetched_at,omitempty"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastETag        *string    `json:"last_etag,omitempty"`
	LastFingerprint *string    `json:"-"`
	EventCount      int        `json:"event_count"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EventStatus is the STATUS carried by a VEVENT.
type EventStatus string

// EventStatus values
const (
	EventStatusConfirmed EventStatus = "CONFIRMED"
	EventStatusTentative EventStatus = "TENTATIVE"
	EventStatusCancelled EventStatus = "CANCELLED"
)

// ParseEventStatus maps a raw STATUS value to a known status.
func ParseEventStatus(v string) (EventStatus, bool) {
	switch s := EventStatus(v); s {
	case EventStatusConfirmed, EventStatusTentative, EventStatusCancelled:
		return s, true
	}
	return "", false
}

// BookingEvent is a normalized VEVENT parsed from a feed.
type BookingEvent struct {
	UID         string      `json:"uid"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	AllDay      bool        `json:"all_day"`
	Status      EventStatus `json:"status"`
}

// CalendarSyncResult is the outcome of syncing one feed.
type CalendarSyncResult struct {
	FeedID       string    `json:"feed_id"`
	UnitID       string    `json:"unit_id"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	NewCount     int       `json:"new_count"`
	UpdatedCount int       `json:"updated_count"`
	TotalEvents  int       `json:"total_events"`
	Unchanged    bool      `json:"unchanged"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	Error        error     `json:"-"`
	SyncedAt     time.Time `json:"synced_at"`
}

// SweepResult aggregates one pass over a tenant's eligible feeds.
type SweepResult struct {
	TenantID       string               `json:"tenant_id"`
	Success        bool                 `json:"success"`
	Message        string               `json:"message"`
	SuccessCount   int                  `json:"success_count"`
	ErrorCount     int                  `json:"error_count"`
	CancelledCount int                  `json:"cancelled_count,omitempty"`
	TotalFeeds     int                  `json:"total_feeds"`
	Results        []CalendarSyncResult `json:"results,omitempty"`
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}
