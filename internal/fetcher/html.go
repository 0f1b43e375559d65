// Package fetcher retrieves listing pages over HTTP with a bounded
// per-fetch timeout. The timeout aborts only the fetch sub-step; the
// surrounding extract stage decides what the failure means.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher retrieves the HTML body of a listing page.
type Fetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (string, error)
}

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	// MaxBodyBytes caps the response body read; zero means 4 MiB.
	MaxBodyBytes int64
}

// HTTPFetcher implements Fetcher using net/http with retry and rate
// limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the given options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "listing-cli/1.0"
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client:  &http.Client{Transport: transport},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
	}
}

// FetchHTML retrieves the page body. Non-2xx responses and timeouts are
// failures; redirects are followed by the underlying client.
func (f *HTTPFetcher) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	// Bound the whole fetch, retries included.
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", eris.Wrap(ctx.Err(), "fetcher: fetch timed out")
			}
			zap.L().Warn("fetcher: request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL)
			zap.L().Warn("fetcher: server error, retrying",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return "", eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
		_ = resp.Body.Close()
		if err != nil {
			return "", eris.Wrap(err, "fetcher: read body")
		}
		return string(body), nil
	}

	return "", eris.Wrap(lastErr, "fetcher: all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	maxBackoff := 5 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
