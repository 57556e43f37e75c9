package websocket

import (
	"github.com/rental-feed-sync/backend/internal/calendar"
	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// EventBroadcaster turns sync results into WebSocket events.
// It satisfies calendar.SyncNotifier.
type EventBroadcaster struct {
	hub *Hub
}

var _ calendar.SyncNotifier = (*EventBroadcaster)(nil)

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// SyncCompleted sends a calendar.sync_completed event.
func (b *EventBroadcaster) SyncCompleted(result models.CalendarSyncResult) {
	b.broadcast(NewMessage(TypeCalendarSyncCompleted, CalendarSyncPayload{
		FeedID:       result.FeedID,
		UnitID:       result.UnitID,
		Message:      result.Message,
		Unchanged:    result.Unchanged,
		NewCount:     result.NewCount,
		UpdatedCount: result.UpdatedCount,
		TotalEvents:  result.TotalEvents,
		SyncedAt:     result.SyncedAt,
	}))
}

// SyncFailed sends a calendar.sync_error event.
func (b *EventBroadcaster) SyncFailed(result models.CalendarSyncResult) {
	b.broadcast(NewMessage(TypeCalendarSyncError, CalendarSyncErrorPayload{
		FeedID:  result.FeedID,
		UnitID:  result.UnitID,
		Error:   string(calendar.KindOf(result.Error)),
		Message: result.Message,
	}))
}

// SweepCompleted sends a calendar.sweep_completed event.
func (b *EventBroadcaster) SweepCompleted(sweep models.SweepResult) {
	b.broadcast(NewMessage(TypeTenantSweepCompleted, SweepPayload{
		TenantID:       sweep.TenantID,
		SuccessCount:   sweep.SuccessCount,
		ErrorCount:     sweep.ErrorCount,
		CancelledCount: sweep.CancelledCount,
		TotalFeeds:     sweep.TotalFeeds,
	}))
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	if b == nil || b.hub == nil {
		return
	}
	data, err := msg.JSON()
	if err != nil {
		logging.Logger.Errorf("Error encoding WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(data)
}
