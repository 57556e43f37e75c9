package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalFeed = "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTART:20250101\r\nDTEND:20250102\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestFetcher_Success(t *testing.T) {
	var gotUA, gotINM string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotINM = r.Header.Get("If-None-Match")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(minimalFeed))
	}))
	defer srv.Close()

	f := NewFetcher(WithUserAgent("feedsync-test/1.0"))
	res, err := f.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)

	assert.Equal(t, minimalFeed, string(res.Body))
	assert.Equal(t, `"v1"`, res.ETag)
	assert.False(t, res.NotModified)
	assert.Equal(t, "feedsync-test/1.0", gotUA)
	assert.Empty(t, gotINM)
}

func TestFetcher_ConditionalNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(minimalFeed))
	}))
	defer srv.Close()

	f := NewFetcher()
	res, err := f.Fetch(context.Background(), srv.URL, `"v1"`)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Empty(t, res.Body)
}

func TestFetcher_ConditionalDisabled(t *testing.T) {
	var gotINM atomic.Value
	gotINM.Store("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotINM.Store(r.Header.Get("If-None-Match"))
		w.Write([]byte(minimalFeed))
	}))
	defer srv.Close()

	f := NewFetcher(WithConditionalFetch(false))
	res, err := f.Fetch(context.Background(), srv.URL, `"v1"`)
	require.NoError(t, err)
	assert.False(t, res.NotModified)
	assert.Equal(t, "", gotINM.Load())
}

func TestFetcher_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "404")
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(WithTimeout(50 * time.Millisecond))
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetcher_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	_, err := NewFetcher(WithMaxBodyBytes(1024)).Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestFetcher_InvalidURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/cal.ics", "not a url", "https://"} {
		_, err := NewFetcher().Fetch(context.Background(), raw, "")
		require.Error(t, err, raw)
		assert.True(t, IsTransport(err), raw)
	}
}

func TestNormalizeFeedURL_Webcal(t *testing.T) {
	u, err := normalizeFeedURL("webcal://www.airbnb.com/calendar/ical/123.ics?s=abc")
	require.NoError(t, err)
	assert.Equal(t, "https://www.airbnb.com/calendar/ical/123.ics?s=abc", u.String())
}

func TestFetcher_CircuitBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(WithCircuitBreaker(2, time.Minute))
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, "")
		require.Error(t, err)
	}

	_, err := f.Fetch(context.Background(), srv.URL+"/other.ics", "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "fetch skipped")
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(WithCircuitBreaker(2, time.Minute))
	for i := 0; i < 4; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, "")
		require.Error(t, err)
		var se *statusError
		assert.True(t, errors.As(err, &se))
	}
	assert.Equal(t, int32(4), hits.Load())
}
