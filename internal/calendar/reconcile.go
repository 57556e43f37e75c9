package calendar

import (
	"context"
	"errors"
	"fmt"

	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// ReservationStore is the persistence the reconciler needs.
// *storage.ReservationRepository implements it.
type ReservationStore interface {
	Upsert(
		ctx context.Context,
		externalID string,
		create func() *models.Reservation,
		update func(existing *models.Reservation) bool,
	) (storage.UpsertOutcome, error)
}

// ReconcilePolicy holds the configurable parts of the event-to-reservation mapping.
type ReconcilePolicy struct {
	// DefaultGuestCount is set on creation only. Feeds carry no party size.
	DefaultGuestCount int
	// AllowUncancel lets a later feed version move CANCELLED back to CONFIRMED.
	AllowUncancel bool
}

// DefaultReconcilePolicy mirrors the built-in configuration defaults.
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{DefaultGuestCount: 2, AllowUncancel: true}
}

// ReconcileResult counts what one batch did.
type ReconcileResult struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// Reconciler merges parsed booking events into the reservation store.
type Reconciler struct {
	store  ReservationStore
	policy ReconcilePolicy
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store ReservationStore, policy ReconcilePolicy) *Reconciler {
	if policy.DefaultGuestCount < 1 {
		policy.DefaultGuestCount = DefaultReconcilePolicy().DefaultGuestCount
	}
	return &Reconciler{store: store, policy: policy}
}

// Reconcile upserts one reservation per event for unitID. Each event commits
// on its own, so a failure leaves earlier events applied; the batch keeps
// going and every failure is joined into the returned error. Re-running the
// same batch is safe.
func (r *Reconciler) Reconcile(ctx context.Context, unitID string, events []models.BookingEvent) (ReconcileResult, error) {
	var result ReconcileResult
	var errs []error

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		outcome, err := r.store.Upsert(ctx, event.UID,
			func() *models.Reservation { return r.newReservation(unitID, event) },
			func(existing *models.Reservation) bool { return r.apply(existing, event) },
		)
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("event %s: %w", event.UID, err))
			continue
		}

		switch outcome {
		case storage.OutcomeCreated:
			result.Created++
		case storage.OutcomeUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	if len(errs) > 0 {
		return result, ReconcileError(
			fmt.Sprintf("%d of %d events failed to reconcile", len(errs), len(events)),
			errors.Join(errs...))
	}
	return result, nil
}

func (r *Reconciler) newReservation(unitID string, event models.BookingEvent) *models.Reservation {
	return &models.Reservation{
		ExternalID:     event.UID,
		UnitID:         unitID,
		GuestName:      event.Summary,
		CheckIn:        event.Start,
		CheckOut:       event.End,
		Status:         models.ReservationStatusFor(event.Status),
		GuestNotes:     optionalNote(event.Description),
		NumberOfGuests: r.policy.DefaultGuestCount,
	}
}

// apply overwrites the feed-owned fields of existing with event's values and
// reports whether anything changed. Guest count, price and unit are never touched.
func (r *Reconciler) apply(existing *models.Reservation, event models.BookingEvent) bool {
	status := models.ReservationStatusFor(event.Status)
	if !r.policy.AllowUncancel && existing.Status == models.ReservationStatusCancelled {
		status = models.ReservationStatusCancelled
	}
	notes := optionalNote(event.Description)

	changed := existing.GuestName != event.Summary ||
		!existing.CheckIn.Equal(event.Start) ||
		!existing.CheckOut.Equal(event.End) ||
		existing.Status != status ||
		!equalNotes(existing.GuestNotes, notes)
	if !changed {
		return false
	}

	existing.GuestName = event.Summary
	existing.CheckIn = event.Start
	existing.CheckOut = event.End
	existing.Status = status
	existing.GuestNotes = notes
	return true
}

func optionalNote(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalNotes(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
