package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

func TestMain(m *testing.M) {
	logging.Discard()
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "feedsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db))
	return db
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, RunMigrations(db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestFeedRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))

	feed := &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}
	require.NoError(t, repo.Create(ctx, feed))
	assert.NotEmpty(t, feed.ID)

	got, err := repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncStatusNeverSynced, got.SyncStatus)
	assert.Nil(t, got.LastFetchedAt)
	assert.Nil(t, got.LastFingerprint)
	assert.Zero(t, got.EventCount)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	found, err := repo.FindByUnitAndURL(ctx, "unit-1", "https://example.com/a.ics")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, feed.ID, found.ID)
}

func TestFeedRepository_DuplicateFeed(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}))
	err := repo.Create(ctx, &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"})
	assert.ErrorIs(t, err, ErrDuplicateFeed)
}

func TestFeedRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))
	feed := &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}
	require.NoError(t, repo.Create(ctx, feed))

	fetchedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSynced(ctx, feed.ID, SyncOutcome{
		Fingerprint: "abc", ETag: `"v1"`, FetchedAt: fetchedAt, EventCount: 4,
	}))
	got, err := repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusActive, got.SyncStatus)
	assert.Equal(t, "abc", *got.LastFingerprint)
	assert.Equal(t, `"v1"`, *got.LastETag)
	assert.Equal(t, 4, got.EventCount)
	assert.True(t, fetchedAt.Equal(*got.LastFetchedAt))

	require.NoError(t, repo.MarkFailed(ctx, feed.ID, "HTTP 500"))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	assert.Equal(t, "HTTP 500", *got.ErrorMessage)
	assert.Equal(t, "abc", *got.LastFingerprint)

	later := fetchedAt.Add(time.Hour)
	require.NoError(t, repo.MarkUnchanged(ctx, feed.ID, later, ""))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusActive, got.SyncStatus)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, `"v1"`, *got.LastETag)
	assert.True(t, later.Equal(*got.LastFetchedAt))

	require.NoError(t, repo.MarkAttempt(ctx, feed.ID))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastAttemptAt)

	assert.Error(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusError))
	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusPaused))

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, repo.SetStatus(ctx, "missing", models.SyncStatusActive), ErrNotFound)
}

func TestFeedRepository_PauseSurvivesSyncWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))
	feed := &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}
	require.NoError(t, repo.Create(ctx, feed))
	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusPaused))

	fetchedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSynced(ctx, feed.ID, SyncOutcome{Fingerprint: "abc", FetchedAt: fetchedAt, EventCount: 2}))
	got, err := repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPaused, got.SyncStatus)
	assert.Equal(t, "abc", *got.LastFingerprint)
	assert.Equal(t, 2, got.EventCount)
	assert.True(t, fetchedAt.Equal(*got.LastFetchedAt))

	require.NoError(t, repo.MarkFailed(ctx, feed.ID, "HTTP 500"))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPaused, got.SyncStatus)
	assert.Nil(t, got.ErrorMessage)

	require.NoError(t, repo.MarkUnchanged(ctx, feed.ID, fetchedAt.Add(time.Hour), `"v2"`))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPaused, got.SyncStatus)
	assert.Equal(t, `"v2"`, *got.LastETag)

	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusActive))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusActive, got.SyncStatus)
}

func TestFeedRepository_ResumeNeverFetched(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))
	feed := &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}
	require.NoError(t, repo.Create(ctx, feed))

	require.NoError(t, repo.MarkFailed(ctx, feed.ID, "HTTP 503"))
	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusActive))
	got, err := repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNeverSynced, got.SyncStatus)
	assert.Nil(t, got.ErrorMessage)

	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusPaused))
	require.NoError(t, repo.SetStatus(ctx, feed.ID, models.SyncStatusActive))
	got, err = repo.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNeverSynced, got.SyncStatus)
}

func TestFeedRepository_Sweepable(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))

	create := func(tenant, unit string) *models.CalendarFeed {
		f := &models.CalendarFeed{TenantID: tenant, UnitID: unit, URL: "https://example.com/" + unit + ".ics"}
		require.NoError(t, repo.Create(ctx, f))
		return f
	}
	fresh := create("org-1", "u1")
	synced := create("org-1", "u2")
	failed := create("org-1", "u3")
	paused := create("org-1", "u4")
	create("org-2", "u5")
	pausedOnly := create("org-3", "u6")

	require.NoError(t, repo.MarkSynced(ctx, synced.ID, SyncOutcome{Fingerprint: "f", FetchedAt: time.Now()}))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "boom"))
	require.NoError(t, repo.SetStatus(ctx, paused.ID, models.SyncStatusPaused))
	require.NoError(t, repo.SetStatus(ctx, pausedOnly.ID, models.SyncStatusPaused))

	feeds, err := repo.ListSweepable(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, fresh.ID, feeds[0].ID, "never fetched feeds come first")
	assert.Equal(t, synced.ID, feeds[1].ID)

	tenants, err := repo.ListSweepableTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-1", "org-2"}, tenants)

	all, err := repo.ListByTenant(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFeedRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewFeedRepository(newTestDB(t))
	feed := &models.CalendarFeed{TenantID: "org-1", UnitID: "unit-1", URL: "https://example.com/a.ics"}
	require.NoError(t, repo.Create(ctx, feed))

	require.NoError(t, repo.Delete(ctx, feed.ID))
	assert.ErrorIs(t, repo.Delete(ctx, feed.ID), ErrNotFound)
}

func newReservation(unitID, name string) func() *models.Reservation {
	return func() *models.Reservation {
		return &models.Reservation{
			UnitID:         unitID,
			GuestName:      name,
			CheckIn:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			CheckOut:       time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
			Status:         models.ReservationStatusConfirmed,
			NumberOfGuests: 2,
		}
	}
}

func TestReservationRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository(newTestDB(t))

	rename := func(name string) func(*models.Reservation) bool {
		return func(r *models.Reservation) bool {
			if r.GuestName == name {
				return false
			}
			r.GuestName = name
			return true
		}
	}

	outcome, err := repo.Upsert(ctx, "RES-100", newReservation("unit-1", "Jane"), rename("Jane"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	outcome, err = repo.Upsert(ctx, "RES-100", newReservation("unit-1", "Jane"), rename("Jane"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	outcome, err = repo.Upsert(ctx, "RES-100", newReservation("unit-1", "Jane"), rename("Janet"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, "updated", outcome.String())

	res, err := repo.GetByExternalID(ctx, "RES-100")
	require.NoError(t, err)
	assert.Equal(t, "Janet", res.GuestName)
	assert.Equal(t, "RES-100", res.ExternalID)
}

func TestReservationRepository_ConcurrentUpsertSameID(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository(newTestDB(t))

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("writer-%d", i)
			_, errs[i] = repo.Upsert(ctx, "RES-RACE", newReservation("unit-1", name), func(r *models.Reservation) bool {
				r.GuestName = name
				return true
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	list, err := repo.ListByUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReservationRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository(newTestDB(t))

	res := newReservation("unit-1", "Manual")()
	res.ExternalID = "MANUAL-1"
	require.NoError(t, repo.Create(ctx, res))

	dup := newReservation("unit-1", "Manual")()
	dup.ExternalID = "MANUAL-1"
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestReservationRepository_ListByUnitOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository(newTestDB(t))

	for i, day := range []int{20, 5, 12} {
		res := newReservation("unit-1", "g")()
		res.ExternalID = fmt.Sprintf("R-%d", i)
		res.CheckIn = time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
		res.CheckOut = res.CheckIn.AddDate(0, 0, 2)
		require.NoError(t, repo.Create(ctx, res))
	}

	list, err := repo.ListByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 5, list[0].CheckIn.Day())
	assert.Equal(t, 12, list[1].CheckIn.Day())
	assert.Equal(t, 20, list[2].CheckIn.Day())

	empty, err := repo.ListByUnit(ctx, "unit-none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
