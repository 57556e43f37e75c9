package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

// FeedStore is the feed persistence the orchestrator needs.
// *storage.FeedRepository implements it.
type FeedStore interface {
	GetByID(ctx context.Context, id string) (*models.CalendarFeed, error)
	ListSweepable(ctx context.Context, tenantID string) ([]models.CalendarFeed, error)
	ListSweepableTenants(ctx context.Context) ([]string, error)
	MarkAttempt(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
	MarkUnchanged(ctx context.Context, id string, fetchedAt time.Time, etag string) error
	MarkSynced(ctx context.Context, id string, out storage.SyncOutcome) error
}

// SyncNotifier is told about every finished feed sync.
type SyncNotifier interface {
	SyncCompleted(result models.CalendarSyncResult)
	SyncFailed(result models.CalendarSyncResult)
}

// SweepNotifier is optionally implemented by a SyncNotifier that also wants
// tenant sweep summaries.
type SweepNotifier interface {
	SweepCompleted(sweep models.SweepResult)
}

// statusWriteTimeout bounds status writes that must outlive a cancelled sync.
const statusWriteTimeout = 10 * time.Second

// SyncService drives feeds through fetch, fingerprint, reconcile and status update.
type SyncService struct {
	feeds       FeedStore
	fetcher     FeedFetcher
	parser      *Parser
	reconciler  *Reconciler
	notifier    SyncNotifier
	concurrency int
	now         func() time.Time
}

// SyncOption configures a SyncService.
type SyncOption func(*SyncService)

// WithNotifier registers a listener for finished syncs.
func WithNotifier(n SyncNotifier) SyncOption {
	return func(s *SyncService) {
		s.notifier = n
	}
}

// WithConcurrency sets how many feeds of one sweep are synced at once.
func WithConcurrency(n int) SyncOption {
	return func(s *SyncService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		s.now = now
	}
}

// NewSyncService creates a new calendar sync service.
func NewSyncService(
	feeds FeedStore,
	fetcher FeedFetcher,
	parser *Parser,
	reconciler *Reconciler,
	opts ...SyncOption,
) *SyncService {
	s := &SyncService{
		feeds:       feeds,
		fetcher:     fetcher,
		parser:      parser,
		reconciler:  reconciler,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncFeed synchronizes one feed on demand, regardless of whether sweeps
// currently skip it because of an ERROR status. Paused feeds are refused.
// The error mirrors result.Error.
func (s *SyncService) SyncFeed(ctx context.Context, feedID string) (*models.CalendarSyncResult, error) {
	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("getting feed: %w", err)
	}
	if feed == nil {
		return nil, NotFoundError("feed not found: " + feedID)
	}
	if feed.SyncStatus == models.SyncStatusPaused {
		return nil, ValidationError("feed is paused; resume it before syncing")
	}

	result := s.syncOne(ctx, feed)
	return &result, result.Error
}

// SyncTenant sweeps every ACTIVE or NEVER_SYNCED feed of a tenant. A failing
// feed is recorded and counted; it never stops the sweep.
func (s *SyncService) SyncTenant(ctx context.Context, tenantID string) models.SweepResult {
	sweep := models.SweepResult{TenantID: tenantID}

	feeds, err := s.feeds.ListSweepable(ctx, tenantID)
	if err != nil {
		logging.Logger.Errorf("Listing feeds for tenant %s: %v", tenantID, err)
		sweep.Message = "Failed to list feeds: " + err.Error()
		return sweep
	}

	results := make([]models.CalendarSyncResult, len(feeds))

	// Feeds own distinct units and identifiers, so they share no state.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range feeds {
		if ctx.Err() != nil {
			results[i] = s.abandon(ctx, &feeds[i], models.CalendarSyncResult{FeedID: feeds[i].ID, UnitID: feeds[i].UnitID})
			continue
		}
		i := i
		g.Go(func() error {
			results[i] = s.syncOne(ctx, &feeds[i])
			return nil
		})
	}
	g.Wait()

	for _, r := range results {
		switch {
		case r.Success:
			sweep.SuccessCount++
		case r.Cancelled:
			sweep.CancelledCount++
		default:
			sweep.ErrorCount++
		}
	}

	sweep.TotalFeeds = len(feeds)
	sweep.Results = results
	if sweep.CancelledCount > 0 {
		sweep.Message = fmt.Sprintf("Sweep cancelled: synced %d feeds, %d errors, %d not finished",
			sweep.SuccessCount, sweep.ErrorCount, sweep.CancelledCount)
	} else {
		sweep.Success = true
		sweep.Message = fmt.Sprintf("Synced %d feeds, %d errors", sweep.SuccessCount, sweep.ErrorCount)
	}

	logging.Logger.WithField("tenant_id", tenantID).Infof("Sweep finished: %s", sweep.Message)
	if n, ok := s.notifier.(SweepNotifier); ok {
		n.SweepCompleted(sweep)
	}
	return sweep
}

// SyncAll sweeps every tenant that has at least one sweepable feed.
// This is the recurring job's entry point.
func (s *SyncService) SyncAll(ctx context.Context) ([]models.SweepResult, error) {
	tenants, err := s.feeds.ListSweepableTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	sweeps := make([]models.SweepResult, 0, len(tenants))
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return sweeps, err
		}
		sweeps = append(sweeps, s.SyncTenant(ctx, tenantID))
	}
	return sweeps, nil
}

// syncOne runs the single-feed procedure and converts every failure into an
// ERROR status on the feed. The fingerprint only advances after the whole
// batch reconciled. An attempt cut short by ctx is abandoned without touching
// the feed's status.
func (s *SyncService) syncOne(ctx context.Context, feed *models.CalendarFeed) (result models.CalendarSyncResult) {
	log := logging.WithFeed(feed.ID, feed.UnitID)
	result = models.CalendarSyncResult{
		FeedID: feed.ID,
		UnitID: feed.UnitID,
	}

	defer func() {
		if p := recover(); p != nil {
			result = s.fail(ctx, feed, result, fmt.Errorf("sync panicked: %v", p))
		}
		if !result.Cancelled {
			s.notify(result)
		}
	}()

	if ctx.Err() != nil {
		return s.abandon(ctx, feed, result)
	}

	if err := s.feeds.MarkAttempt(ctx, feed.ID); err != nil {
		log.Warnf("Failed to record sync attempt: %v", err)
	}

	log.Debug("Fetching calendar feed")
	fetched, err := s.fetcher.Fetch(ctx, feed.URL, deref(feed.LastETag))
	if err != nil {
		if ctx.Err() != nil {
			return s.abandon(ctx, feed, result)
		}
		return s.fail(ctx, feed, result, err)
	}
	fetchedAt := s.now().UTC()

	if fetched.NotModified {
		return s.unchanged(ctx, feed, result, fetchedAt, fetched.ETag, feed.EventCount)
	}

	parsed, err := s.parser.ParseFeed(fetched.Body)
	if err != nil {
		return s.fail(ctx, feed, result, err)
	}
	if parsed.Dropped > 0 {
		log.Infof("Dropped %d incomplete events", parsed.Dropped)
	}

	fingerprint := Fingerprint(parsed.Events)
	if feed.LastFingerprint != nil && *feed.LastFingerprint == fingerprint {
		return s.unchanged(ctx, feed, result, fetchedAt, fetched.ETag, len(parsed.Events))
	}

	rec, err := s.reconciler.Reconcile(ctx, feed.UnitID, parsed.Events)
	result.NewCount = rec.Created
	result.UpdatedCount = rec.Updated
	result.TotalEvents = len(parsed.Events)
	if err != nil {
		if ctx.Err() != nil {
			return s.abandon(ctx, feed, result)
		}
		return s.fail(ctx, feed, result, err)
	}

	err = detached(ctx, func(ctx context.Context) error {
		return s.feeds.MarkSynced(ctx, feed.ID, storage.SyncOutcome{
			Fingerprint: fingerprint,
			ETag:        fetched.ETag,
			FetchedAt:   fetchedAt,
			EventCount:  len(parsed.Events),
		})
	})
	if err != nil {
		return s.fail(ctx, feed, result, fmt.Errorf("recording sync: %w", err))
	}

	result.Success = true
	result.SyncedAt = fetchedAt
	result.Message = fmt.Sprintf("Synced %d events", len(parsed.Events))
	log.Infof("Calendar sync completed: %d events, %d created, %d updated",
		result.TotalEvents, result.NewCount, result.UpdatedCount)
	return result
}

func (s *SyncService) unchanged(
	ctx context.Context,
	feed *models.CalendarFeed,
	result models.CalendarSyncResult,
	fetchedAt time.Time,
	etag string,
	totalEvents int,
) models.CalendarSyncResult {
	err := detached(ctx, func(ctx context.Context) error {
		return s.feeds.MarkUnchanged(ctx, feed.ID, fetchedAt, etag)
	})
	if err != nil {
		return s.fail(ctx, feed, result, fmt.Errorf("recording fetch: %w", err))
	}

	result.Success = true
	result.Unchanged = true
	result.TotalEvents = totalEvents
	result.SyncedAt = fetchedAt
	result.Message = "No changes detected"
	logging.WithFeed(feed.ID, feed.UnitID).Debug("Calendar feed unchanged")
	return result
}

func (s *SyncService) fail(
	ctx context.Context,
	feed *models.CalendarFeed,
	result models.CalendarSyncResult,
	err error,
) models.CalendarSyncResult {
	log := logging.WithFeed(feed.ID, feed.UnitID)
	log.WithField("kind", KindOf(err)).Errorf("Calendar sync failed: %v", err)

	markErr := detached(ctx, func(ctx context.Context) error {
		return s.feeds.MarkFailed(ctx, feed.ID, err.Error())
	})
	if markErr != nil {
		log.Errorf("Failed to record sync error: %v", markErr)
	}

	result.Success = false
	result.Error = err
	result.Message = err.Error()
	result.SyncedAt = s.now().UTC()
	return result
}

// abandon reports an attempt stopped by its caller. Nothing is persisted:
// status, error message and fingerprint stay as they were, so the next run
// reprocesses the feed from scratch.
func (s *SyncService) abandon(
	ctx context.Context,
	feed *models.CalendarFeed,
	result models.CalendarSyncResult,
) models.CalendarSyncResult {
	err := fmt.Errorf("sync cancelled: %w", ctx.Err())
	logging.WithFeed(feed.ID, feed.UnitID).Infof("Calendar sync abandoned: %v", ctx.Err())

	result.Success = false
	result.Cancelled = true
	result.Error = err
	result.Message = err.Error()
	result.SyncedAt = s.now().UTC()
	return result
}

func (s *SyncService) notify(result models.CalendarSyncResult) {
	if s.notifier == nil {
		return
	}
	if result.Success {
		s.notifier.SyncCompleted(result)
	} else {
		s.notifier.SyncFailed(result)
	}
}

// detached runs a status write that must land even when the sync's own
// context has expired.
func detached(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return fn(ctx)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
