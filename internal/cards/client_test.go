package cards

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tcgvault/cardscan-worker/internal/errors"
)

func newTestClient(t *testing.T, serverURL string, rps int) *Client {
	t.Helper()
	c := NewClient(Config{
		PriceBaseURL:         serverURL,
		CardDBBaseURL:        serverURL,
		MaxRequestsPerSecond: rps,
		RequestTimeout:       5 * time.Second,
	})
	t.Cleanup(c.Close)
	return c
}

// TestFetchCachesWithinTTL: the second fetch of the same key must be served
// from the cache, consume no throttle budget, and return the identical
// payload.
func TestFetchCachesWithinTTL(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	first, err := c.Fetch(ctx, server.URL+"/x", "key:x")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	second, err := c.Fetch(ctx, server.URL+"/x", "key:x")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("provider hits = %d, want 1 (second fetch must be a cache hit)", got)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("cached payload differs from original: %q vs %q", first, second)
	}
	if got := c.Stats().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d, want 1 (cache hits consume no throttle budget)", got)
	}
}

// TestFetchBadRequestIsEmptyResult: the provider answers 400 for legitimate
// empty results; that maps to a nil payload with no error and is not cached.
func TestFetchBadRequestIsEmptyResult(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	payload, err := c.Fetch(ctx, server.URL+"/x", "key:x")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if payload != nil {
		t.Errorf("payload = %q, want nil for a 400 answer", payload)
	}

	// Empty results are not cached; the next fetch asks the provider again.
	if _, err := c.Fetch(ctx, server.URL+"/x", "key:x"); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("provider hits = %d, want 2", got)
	}
}

func TestFetchServerErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)

	_, err := c.Fetch(context.Background(), server.URL+"/x", "key:x")
	if err == nil {
		t.Fatal("expected an error for HTTP 500")
	}
	if !errors.HasCode(err, errors.ErrorProvider) {
		t.Errorf("expected PROVIDER_ERROR, got: %v", err)
	}
}

// TestFetchSerializesDispatches: N uncached requests must be spread over at
// least (N-1) inter-request intervals, regardless of how fast the provider
// answers.
func TestFetchSerializesDispatches(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	const rps = 20
	c := newTestClient(t, server.URL, rps)
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		if _, err := c.Fetch(ctx, server.URL+"/x", "key:"+string(rune('a'+i))); err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != n {
		t.Fatalf("provider saw %d requests, want %d", len(stamps), n)
	}

	span := stamps[n-1].Sub(stamps[0])
	minSpan := time.Duration(n-1) * (time.Second / rps) * 9 / 10
	if span < minSpan {
		t.Errorf("dispatch span = %v, want at least %v at %d req/s", span, minSpan, rps)
	}
}

func TestClearCache(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	c.Fetch(ctx, server.URL+"/x", "key:x")
	if err := c.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	c.Fetch(ctx, server.URL+"/x", "key:x")

	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Errorf("provider hits = %d, want 2 after cache clear", got)
	}
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 20)
	ctx := context.Background()

	c.Fetch(ctx, server.URL+"/x", "key:a")
	c.Fetch(ctx, server.URL+"/x", "key:b")

	stats := c.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", stats.TotalRequests)
	}
	if stats.LastRequestTime.IsZero() {
		t.Error("LastRequestTime should be set after a dispatch")
	}
	sum := 0
	for _, n := range stats.RequestsPerMinute {
		sum += n
	}
	if sum != 2 {
		t.Errorf("per-minute counters sum to %d, want 2", sum)
	}
}

// TestStatsZeroFillsIdleMinutes: the per-minute window must cover wall-clock
// minutes, so minutes with no dispatches appear as explicit zero slots and
// the snapshot never silently spans more than the window.
func TestStatsZeroFillsIdleMinutes(t *testing.T) {
	c := NewClient(Config{})
	t.Cleanup(c.Close)

	base := time.Now().Truncate(time.Minute)
	c.now = func() time.Time { return base }
	c.recordDispatch()

	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	c.recordDispatch()

	perMinute := c.Stats().RequestsPerMinute
	if len(perMinute) != 4 {
		t.Fatalf("window has %d slots, want 4 (two active minutes plus two idle)", len(perMinute))
	}
	want := []int{1, 0, 0, 1}
	for i, n := range want {
		if perMinute[i] != n {
			t.Errorf("slot %d = %d, want %d (window %v)", i, perMinute[i], n, perMinute)
		}
	}

	// A gap longer than the window collapses to a full window of zeros plus
	// the new dispatch.
	c.now = func() time.Time { return base.Add(500 * time.Minute) }
	c.recordDispatch()

	perMinute = c.Stats().RequestsPerMinute
	if len(perMinute) != statsWindow {
		t.Fatalf("window has %d slots, want the cap %d", len(perMinute), statsWindow)
	}
	if perMinute[len(perMinute)-1] != 1 {
		t.Errorf("latest slot = %d, want 1", perMinute[len(perMinute)-1])
	}
	sum := 0
	for _, n := range perMinute {
		sum += n
	}
	if sum != 1 {
		t.Errorf("window sums to %d, want 1 (older activity aged out)", sum)
	}
}

func TestFetchAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(Config{PriceBaseURL: server.URL, CardDBBaseURL: server.URL})
	c.Close()

	if _, err := c.Fetch(context.Background(), server.URL+"/x", "key:x"); err == nil {
		t.Error("Fetch on a closed client should fail")
	}
}
