package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rental-feed-sync/backend/internal/logging"
)

// FetchResult is the body and cache metadata of one feed download.
type FetchResult struct {
	Body []byte
	// ETag is the response's entity tag, empty when the server sent none.
	ETag string
	// NotModified is set when the server answered 304 to our If-None-Match.
	NotModified bool
}

// FeedFetcher retrieves feed content. *Fetcher is the HTTP implementation.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL, etag string) (*FetchResult, error)
}

// Fetcher downloads feeds over HTTP. It never retries: a failed fetch is
// reported to the caller, which records it on the feed. Each upstream host
// gets a circuit breaker so a dead host fails fast for the rest of a sweep.
type Fetcher struct {
	client          *http.Client
	userAgent       string
	maxBodyBytes    int64
	conditional     bool
	breakerFailures uint32
	breakerCooldown time.Duration
	breakersMu      sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout bounds each request end to end.
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.client.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodyBytes caps the size of an accepted feed body.
func WithMaxBodyBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBodyBytes = n
	}
}

// WithConditionalFetch toggles sending If-None-Match.
func WithConditionalFetch(enabled bool) FetcherOption {
	return func(f *Fetcher) {
		f.conditional = enabled
	}
}

// WithCircuitBreaker sets how many consecutive host failures open the breaker
// and how long it stays open.
func WithCircuitBreaker(failures uint32, cooldown time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.breakerFailures = failures
		f.breakerCooldown = cooldown
	}
}

// WithHTTPClient replaces the underlying client. Its timeout is kept.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher creates a feed fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:          &http.Client{Timeout: 30 * time.Second},
		userAgent:       "RentalFeedSync/1.0",
		maxBodyBytes:    10 << 20,
		conditional:     true,
		breakerFailures: 5,
		breakerCooldown: time.Minute,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// statusError is a non-2xx response.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return "HTTP " + e.status
}

// Fetch downloads feedURL. etag, when non-empty and conditional fetch is
// enabled, is sent as If-None-Match. Every failure is a transport error whose
// message names the status code or underlying cause.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag string) (*FetchResult, error) {
	target, err := normalizeFeedURL(feedURL)
	if err != nil {
		return nil, TransportError("invalid feed URL", err)
	}

	breaker := f.breakerFor(target.Host)
	out, err := breaker.Execute(func() (interface{}, error) {
		return f.do(ctx, target.String(), etag)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, TransportError(fmt.Sprintf("host %s is failing, fetch skipped", target.Host), err)
		}
		var se *SyncError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, TransportError("fetching calendar", err)
	}
	return out.(*FetchResult), nil
}

func (f *Fetcher) do(ctx context.Context, target, etag string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")
	if f.conditional && etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && f.conditional && etag != "":
		return &FetchResult{ETag: resp.Header.Get("ETag"), NotModified: true}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, TransportError("calendar request failed", &statusError{code: resp.StatusCode, status: resp.Status})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, TransportError("reading calendar body", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, TransportError(fmt.Sprintf("calendar body exceeds %d bytes", f.maxBodyBytes), nil)
	}

	return &FetchResult{Body: body, ETag: resp.Header.Get("ETag")}, nil
}

func (f *Fetcher) breakerFor(host string) *gobreaker.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	failures := f.breakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     f.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A 4xx is the feed's problem, not the host's.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Warnf("Fetch circuit breaker for %s: %s -> %s", name, from, to)
		},
	})
	f.breakers[host] = cb
	return cb
}

// normalizeFeedURL parses a feed URL, mapping webcal:// and webcals:// onto https://.
func normalizeFeedURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "webcal", "webcals":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}
