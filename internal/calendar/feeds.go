package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/storage/models"
)

var feedValidate = validator.New()

// RegisterFeedRequest registers an external calendar feed for one unit.
type RegisterFeedRequest struct {
	TenantID string `json:"tenant_id" validate:"required,max=128"`
	UnitID   string `json:"unit_id" validate:"required,max=128"`
	URL      string `json:"url" validate:"required,url,max=2048"`
}

// FeedRegistry is the feed persistence the feed service needs.
type FeedRegistry interface {
	Create(ctx context.Context, feed *models.CalendarFeed) error
	GetByID(ctx context.Context, id string) (*models.CalendarFeed, error)
	FindByUnitAndURL(ctx context.Context, unitID, url string) (*models.CalendarFeed, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.CalendarFeed, error)
	SetStatus(ctx context.Context, id string, status models.SyncStatus) error
	Delete(ctx context.Context, id string) error
}

// FeedService manages feed registrations and their operator-facing status.
type FeedService struct {
	feeds FeedRegistry
}

// NewFeedService creates a new feed service.
func NewFeedService(feeds FeedRegistry) *FeedService {
	return &FeedService{feeds: feeds}
}

// Register validates and stores a new feed. The feed starts as NEVER_SYNCED
// and is picked up by the next sweep.
func (s *FeedService) Register(ctx context.Context, req RegisterFeedRequest) (*models.CalendarFeed, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.URL = strings.TrimSpace(req.URL)

	if err := feedValidate.Struct(req); err != nil {
		return nil, ValidationError(describeValidation(err))
	}
	if err := checkFeedScheme(req.URL); err != nil {
		return nil, err
	}

	existing, err := s.feeds.FindByUnitAndURL(ctx, req.UnitID, req.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError(KindValidation, "", storage.ErrDuplicateFeed)
	}

	feed := &models.CalendarFeed{
		TenantID: req.TenantID,
		UnitID:   req.UnitID,
		URL:      req.URL,
	}
	if err := s.feeds.Create(ctx, feed); err != nil {
		if errors.Is(err, storage.ErrDuplicateFeed) {
			return nil, newError(KindValidation, "", err)
		}
		return nil, err
	}

	logging.WithFeed(feed.ID, feed.UnitID).Infof("Registered calendar feed for tenant %s", feed.TenantID)
	return feed, nil
}

// Get returns a feed by ID.
func (s *FeedService) Get(ctx context.Context, id string) (*models.CalendarFeed, error) {
	feed, err := s.feeds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, NotFoundError("feed not found: " + id)
	}
	return feed, nil
}

// ListByTenant returns the status view of a tenant's feeds.
func (s *FeedService) ListByTenant(ctx context.Context, tenantID string) ([]models.CalendarFeed, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ValidationError("tenant id is required")
	}
	feeds, err := s.feeds.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if feeds == nil {
		feeds = []models.CalendarFeed{}
	}
	return feeds, nil
}

// Remove deletes a feed. Reservations it produced stay in place.
func (s *FeedService) Remove(ctx context.Context, id string) error {
	return s.mapNotFound(id, s.feeds.Delete(ctx, id))
}

// Pause excludes a feed from sweeps and manual syncs.
func (s *FeedService) Pause(ctx context.Context, id string) (*models.CalendarFeed, error) {
	return s.setStatus(ctx, id, models.SyncStatusPaused)
}

// Resume puts a PAUSED or ERROR feed back into the sweep, as NEVER_SYNCED if
// it has never been fetched and ACTIVE otherwise.
func (s *FeedService) Resume(ctx context.Context, id string) (*models.CalendarFeed, error) {
	return s.setStatus(ctx, id, models.SyncStatusActive)
}

func (s *FeedService) setStatus(ctx context.Context, id string, status models.SyncStatus) (*models.CalendarFeed, error) {
	if err := s.mapNotFound(id, s.feeds.SetStatus(ctx, id, status)); err != nil {
		return nil, err
	}
	logging.Logger.WithField("feed_id", id).Infof("Feed status set to %s", status)
	return s.Get(ctx, id)
}

func (s *FeedService) mapNotFound(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NotFoundError("feed not found: " + id)
	}
	return err
}

func checkFeedScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationError("invalid feed url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal", "webcals":
	default:
		return ValidationError(fmt.Sprintf("unsupported feed url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return ValidationError("feed url has no host")
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "url":
			msgs = append(msgs, fe.Field()+" must be a valid url")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
