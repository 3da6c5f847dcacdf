package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-group/aoi-extract/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	RateLimiters map[string]*rate.Limiter
}

// AdaptiveLimiter wraps a rate.Limiter that auto-tunes: successes nudge the
// rate up by 20% (capped at 2x the initial rate), a 429 halves it (floored
// at a quarter of the initial rate).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	max     rate.Limit
	min     rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		max:     initial * 2,
		min:     initial / 4,
		current: initial,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the cap.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 1.2
	if next > a.max {
		next = a.max
	}
	a.current = next
	a.limiter.SetLimit(next)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 0.5
	if next < a.min {
		next = a.min
	}
	a.current = next
	a.limiter.SetLimit(next)
	zap.L().Warn("reducing request rate after 429",
		zap.Float64("new_rate", float64(next)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HTTPFetcher implements Fetcher over net/http with per-host rate limiting.
// Each call issues exactly one request; transient failures come back as
// resilience.TransientError so the caller's retry policy decides.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	adaptive map[string]*AdaptiveLimiter
}

// DefaultRateLimiters returns fixed per-host limiters for the public
// datasets the extractor pulls from. Overpass mirrors are kept slow; the
// static mirrors tolerate more.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"overpass-api.de":       rate.NewLimiter(1, 2),
		"overpass.kumi.systems": rate.NewLimiter(2, 2),
		"naciscdn.org":          rate.NewLimiter(5, 5),
	}
}

func defaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"minedbuildings.z5.web.core.windows.net": NewAdaptiveLimiter(8, 8),
	}
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "aoi-extract/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		adaptive: defaultAdaptiveLimiters(),
	}
}

func (f *HTTPFetcher) adaptiveFor(rawURL string) *AdaptiveLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return f.adaptive[u.Host]
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(20, 20)
	}
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(20, 20)
}

// do issues the request once. Transient statuses close the body and return
// a retryable error for the caller's policy; anything else is handed back
// as-is.
func (f *HTTPFetcher) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: build request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	adaptive := f.adaptiveFor(req.URL.String())
	if adaptive != nil {
		if err := adaptive.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	} else {
		if err := f.limiterFor(req.URL.String()).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "fetcher: request"), 0)
	}

	if resp.StatusCode == http.StatusTooManyRequests && adaptive != nil {
		adaptive.OnRateLimit()
	}
	if resilience.RetryableStatus(resp.StatusCode) {
		_ = resp.Body.Close()
		return nil, resilience.Transient(
			eris.Errorf("fetcher: http %d from %s", resp.StatusCode, req.URL),
			resp.StatusCode,
		)
	}

	if adaptive != nil {
		adaptive.OnSuccess()
	}
	return resp, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into path. Returns bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

// Post sends the payload and returns the response body. Used for Overpass
// queries, which go as form-encoded POST bodies.
func (f *HTTPFetcher) Post(ctx context.Context, rawURL, contentType string, payload []byte) (io.ReadCloser, error) {
	resp, err := f.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}
