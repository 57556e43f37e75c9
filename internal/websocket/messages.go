package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeCalendarSyncCompleted MessageType = "calendar.sync_completed"
	TypeCalendarSyncError     MessageType = "calendar.sync_error"
	TypeTenantSweepCompleted  MessageType = "calendar.sweep_completed"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ClientMessage is a command sent by a client.
type ClientMessage struct {
	Type MessageType `json:"type"`
}

// CalendarSyncPayload is the payload for calendar.sync_completed events.
type CalendarSyncPayload struct {
	FeedID       string    `json:"feed_id"`
	UnitID       string    `json:"unit_id"`
	Message      string    `json:"message"`
	Unchanged    bool      `json:"unchanged"`
	NewCount     int       `json:"new_count"`
	UpdatedCount int       `json:"updated_count"`
	TotalEvents  int       `json:"total_events"`
	SyncedAt     time.Time `json:"synced_at"`
}

// CalendarSyncErrorPayload is the payload for calendar.sync_error events.
type CalendarSyncErrorPayload struct {
	FeedID  string `json:"feed_id"`
	UnitID  string `json:"unit_id"`
	Error   string `json:"error"` // error kind
	Message string `json:"message"`
}

// SweepPayload is the payload for calendar.sweep_completed events.
type SweepPayload struct {
	TenantID       string `json:"tenant_id"`
	SuccessCount   int    `json:"success_count"`
	ErrorCount     int    `json:"error_count"`
	CancelledCount int    `json:"cancelled_count,omitempty"`
	TotalFeeds     int    `json:"total_feeds"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
