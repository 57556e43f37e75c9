package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rental-feed-sync/backend/internal/storage/models"
)

const feedColumns = `
	id, tenant_id, unit_id, url, sync_status, last_fetched_at, last_attempt_at,
	last_etag, last_fingerprint, event_count, error_message, created_at, updated_at`

// FeedRepository provides data access for calendar feeds.
type FeedRepository struct {
	BaseRepository
}

// NewFeedRepository creates a new feed repository.
func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// SyncOutcome is what a successful reconciliation persists on a feed.
type SyncOutcome struct {
	Fingerprint string
	ETag        string
	FetchedAt   time.Time
	EventCount  int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*models.CalendarFeed, error) {
	feed := &models.CalendarFeed{}
	err := row.Scan(
		&feed.ID, &feed.TenantID, &feed.UnitID, &feed.URL, &feed.SyncStatus,
		&feed.LastFetchedAt, &feed.LastAttemptAt, &feed.LastETag, &feed.LastFingerprint,
		&feed.EventCount, &feed.ErrorMessage, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// Create inserts a new feed in NEVER_SYNCED state.
// Returns ErrDuplicateFeed if the unit already has a feed with the same URL.
func (r *FeedRepository) Create(ctx context.Context, feed *models.CalendarFeed) error {
	feed.ID = GenerateID()
	feed.CreatedAt = r.Now()
	feed.UpdatedAt = feed.CreatedAt
	feed.SyncStatus = models.SyncStatusNeverSynced

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO calendar_feeds (
			id, tenant_id, unit_id, url, sync_status, event_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`,
		feed.ID, feed.TenantID, feed.UnitID, feed.URL, feed.SyncStatus,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateFeed
	}
	if err != nil {
		return fmt.Errorf("inserting feed: %w", err)
	}

	return nil
}

// GetByID retrieves a feed by its ID. Returns nil, nil when absent.
func (r *FeedRepository) GetByID(ctx context.Context, id string) (*models.CalendarFeed, error) {
	feed, err := scanFeed(r.DB().QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM calendar_feeds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed: %w", err)
	}
	return feed, nil
}

// FindByUnitAndURL returns the feed registered for unitID with url, or nil.
func (r *FeedRepository) FindByUnitAndURL(ctx context.Context, unitID, url string) (*models.CalendarFeed, error) {
	feed, err := scanFeed(r.DB().QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM calendar_feeds WHERE unit_id = ? AND url = ?`, unitID, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed: %w", err)
	}
	return feed, nil
}

// ListByTenant returns every feed of a tenant ordered by unit.
func (r *FeedRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.CalendarFeed, error) {
	return r.list(ctx, `
		SELECT `+feedColumns+` FROM calendar_feeds
		WHERE tenant_id = ?
		ORDER BY unit_id, created_at
	`, tenantID)
}

// ListSweepable returns the tenant's feeds that scheduled sweeps should sync:
// ACTIVE and NEVER_SYNCED. Least recently fetched first.
func (r *FeedRepository) ListSweepable(ctx context.Context, tenantID string) ([]models.CalendarFeed, error) {
	return r.list(ctx, `
		SELECT `+feedColumns+` FROM calendar_feeds
		WHERE tenant_id = ? AND sync_status IN (?, ?)
		ORDER BY last_fetched_at ASC NULLS FIRST, created_at
	`, tenantID, models.SyncStatusActive, models.SyncStatusNeverSynced)
}

// ListSweepableTenants returns the tenants with at least one sweepable feed.
func (r *FeedRepository) ListSweepableTenants(ctx context.Context) ([]string, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM calendar_feeds
		WHERE sync_status IN (?, ?)
		ORDER BY tenant_id
	`, models.SyncStatusActive, models.SyncStatusNeverSynced)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

func (r *FeedRepository) list(ctx context.Context, query string, args ...any) ([]models.CalendarFeed, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.CalendarFeed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	return feeds, rows.Err()
}

// MarkAttempt records the start of a sync attempt without changing status.
func (r *FeedRepository) MarkAttempt(ctx context.Context, id string) error {
	now := r.Now()
	return r.exec(ctx, "marking attempt", `
		UPDATE calendar_feeds SET last_attempt_at = ?, updated_at = ? WHERE id = ?
	`, now, now, id)
}

// The Mark* writes below run when a sync finishes. A feed paused while its
// sync was in flight stays PAUSED with its error message untouched; fetch
// metadata is still recorded.
const (
	keepPausedStatus  = `sync_status = CASE WHEN sync_status = 'PAUSED' THEN sync_status ELSE ? END`
	keepPausedMessage = `error_message = CASE WHEN sync_status = 'PAUSED' THEN error_message ELSE ? END`
)

// MarkFailed moves the feed to ERROR with message. Fingerprint and entity tag are left alone.
func (r *FeedRepository) MarkFailed(ctx context.Context, id, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return r.exec(ctx, "marking failure", `
		UPDATE calendar_feeds SET `+keepPausedStatus+`, `+keepPausedMessage+`, updated_at = ? WHERE id = ?
	`, models.SyncStatusError, message, r.Now(), id)
}

// MarkUnchanged records a fetch whose content matched the stored fingerprint.
// An empty etag keeps the previous one.
func (r *FeedRepository) MarkUnchanged(ctx context.Context, id string, fetchedAt time.Time, etag string) error {
	return r.exec(ctx, "marking unchanged", `
		UPDATE calendar_feeds SET
			`+keepPausedStatus+`, `+keepPausedMessage+`, last_fetched_at = ?,
			last_etag = COALESCE(?, last_etag), updated_at = ?
		WHERE id = ?
	`, models.SyncStatusActive, nil, fetchedAt.UTC(), nullString(etag), r.Now(), id)
}

// MarkSynced persists a completed reconciliation.
func (r *FeedRepository) MarkSynced(ctx context.Context, id string, out SyncOutcome) error {
	return r.exec(ctx, "marking synced", `
		UPDATE calendar_feeds SET
			`+keepPausedStatus+`, `+keepPausedMessage+`, last_fetched_at = ?,
			last_etag = ?, last_fingerprint = ?, event_count = ?, updated_at = ?
		WHERE id = ?
	`, models.SyncStatusActive, nil, out.FetchedAt.UTC(), nullString(out.ETag),
		out.Fingerprint, out.EventCount, r.Now(), id)
}

// SetStatus is the operator override used to pause or resume a feed.
// Moving to ACTIVE or PAUSED clears any error message. A feed that has never
// been fetched successfully resumes as NEVER_SYNCED rather than ACTIVE.
func (r *FeedRepository) SetStatus(ctx context.Context, id string, status models.SyncStatus) error {
	if status == models.SyncStatusError || status == models.SyncStatusNeverSynced {
		return fmt.Errorf("status %s cannot be set directly", status)
	}
	return r.exec(ctx, "setting status", `
		UPDATE calendar_feeds SET
			sync_status = CASE WHEN ? = 'ACTIVE' AND last_fetched_at IS NULL THEN ? ELSE ? END,
			error_message = NULL, updated_at = ?
		WHERE id = ?
	`, status, models.SyncStatusNeverSynced, status, r.Now(), id)
}

// Delete removes a feed. Reservations it produced are kept.
func (r *FeedRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "deleting feed", "DELETE FROM calendar_feeds WHERE id = ?", id)
}

func (r *FeedRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%s: feed %s: %w", op, args[len(args)-1], ErrNotFound)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
