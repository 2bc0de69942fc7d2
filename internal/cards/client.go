/**
 * Rate-limited, cached client for the external card-data providers
 *
 * Every outbound lookup in the worker funnels through this client. A single
 * dispatcher goroutine owns the FIFO queue and the throttling clock, so no
 * lock is held across the inter-request pacing delay. Cache hits younger
 * than the TTL short-circuit the network entirely and consume no throttle
 * budget.
 */

package cards

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tcgvault/cardscan-worker/internal/errors"
	"github.com/tcgvault/cardscan-worker/internal/logging"
)

const (
	// DefaultMaxRequestsPerSecond stays deliberately under the provider's
	// published ceiling of 20 req/s.
	DefaultMaxRequestsPerSecond = 15
	// DefaultCacheTTL is how long a provider payload stays fresh.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultQueueWarnDepth is the backlog size that triggers a
	// backpressure warning.
	DefaultQueueWarnDepth = 20

	queueCapacity = 1024
	statsWindow   = 60 // minutes of per-minute counters retained
)

// Config tunes the client. Zero values fall back to the defaults above.
type Config struct {
	PriceBaseURL  string // primary price/print provider
	CardDBBaseURL string // secondary card-database provider

	MaxRequestsPerSecond int
	RequestTimeout       time.Duration
	QueueWarnDepth       int

	Store      CacheStore
	HTTPClient *http.Client
}

// RateLimitStats is an observability snapshot of the dispatcher.
type RateLimitStats struct {
	TotalRequests     int64
	QueuedRequests    int
	LastRequestTime   time.Time
	RequestsPerMinute []int
}

type request struct {
	ctx      context.Context
	url      string
	cacheKey string
	resp     chan response
}

type response struct {
	payload []byte
	err     error
}

// Client serializes outbound provider requests under the rate ceiling and
// maintains the TTL cache. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	store   CacheStore
	limiter *rate.Limiter
	queue   chan *request
	log     *logging.Logger
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	totalRequests int64
	lastRequest   time.Time
	perMinute     []int
	currentMinute int64
}

// NewClient creates the client and starts its dispatcher goroutine. Callers
// must Close it to stop the dispatcher.
func NewClient(cfg Config) *Client {
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultMaxRequestsPerSecond
	}
	if cfg.QueueWarnDepth <= 0 {
		cfg.QueueWarnDepth = DefaultQueueWarnDepth
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(DefaultCacheTTL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	interval := time.Second / time.Duration(cfg.MaxRequestsPerSecond)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		store:   cfg.Store,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		queue:   make(chan *request, queueCapacity),
		log:     logging.NewLogger("CardsClient"),
		now:     time.Now,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.dispatch(ctx)
	return c
}

// Fetch returns the payload for url, serving it from the cache when a fresh
// entry exists and otherwise queueing a throttled network request. A nil
// payload with a nil error means the provider answered 400, which it uses
// for "no data for this query".
func (c *Client) Fetch(ctx context.Context, url, cacheKey string) ([]byte, error) {
	if payload, ok := c.store.Get(ctx, cacheKey); ok {
		return payload, nil
	}

	if depth := len(c.queue); depth > c.cfg.QueueWarnDepth {
		c.log.Warn("Large request queue detected", "depth", depth, "warn_depth", c.cfg.QueueWarnDepth)
	}

	req := &request{ctx: ctx, url: url, cacheKey: cacheKey, resp: make(chan response, 1)}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("cards client is closed")
	}

	select {
	case res := <-req.resp:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("cards client is closed")
	}
}

// dispatch drains the FIFO queue, pacing dispatches at the configured
// minimum inter-request interval. Requests are never reordered or batched.
func (c *Client) dispatch(ctx context.Context) {
	defer close(c.done)

	for {
		var req *request
		select {
		case <-ctx.Done():
			return
		case req = <-c.queue:
		}

		if req.ctx.Err() != nil {
			req.resp <- response{err: req.ctx.Err()}
			continue
		}

		// An identical request may have completed while this one waited in
		// the queue; a recheck turns it into a free cache hit.
		if payload, ok := c.store.Get(req.ctx, req.cacheKey); ok {
			req.resp <- response{payload: payload}
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			req.resp <- response{err: fmt.Errorf("cards client shutting down: %w", err)}
			return
		}

		c.recordDispatch()
		payload, err := c.doRequest(req.ctx, req.url)
		if err == nil && payload != nil {
			c.store.Set(req.ctx, req.cacheKey, payload)
		}
		req.resp <- response{payload: payload, err: err}
	}
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	// The card-database provider answers 400 both for malformed queries and
	// for legitimately empty ones; the pipeline must not abort on the
	// latter, so 400 maps to "no data" here and nowhere else.
	if resp.StatusCode == http.StatusBadRequest {
		c.log.Warn("Provider returned 400, treating as empty result", "url", url)
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewProviderError(url, resp.StatusCode, nil)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	return payload, nil
}

func (c *Client) recordDispatch() {
	now := c.now()
	minute := now.Unix() / 60

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	c.lastRequest = now

	if len(c.perMinute) == 0 {
		c.currentMinute = minute
		c.perMinute = append(c.perMinute, 0)
	} else if minute != c.currentMinute {
		// Idle minutes get explicit zero slots so the snapshot always reads
		// as the last N wall-clock minutes.
		gap := minute - c.currentMinute
		if gap > statsWindow {
			gap = statsWindow
		}
		for i := int64(0); i < gap; i++ {
			c.perMinute = append(c.perMinute, 0)
		}
		c.currentMinute = minute
		if len(c.perMinute) > statsWindow {
			c.perMinute = c.perMinute[len(c.perMinute)-statsWindow:]
		}
	}
	c.perMinute[len(c.perMinute)-1]++
}

// Stats returns a snapshot of the rate limiting state.
func (c *Client) Stats() RateLimitStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	perMinute := make([]int, len(c.perMinute))
	copy(perMinute, c.perMinute)

	return RateLimitStats{
		TotalRequests:     c.totalRequests,
		QueuedRequests:    len(c.queue),
		LastRequestTime:   c.lastRequest,
		RequestsPerMinute: perMinute,
	}
}

// ClearCache drops every cached payload. Operator-triggered; there is no
// per-entry invalidation.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close stops the dispatcher. In-flight requests finish; queued requests
// are abandoned.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}
