/*
This file contains the Source contract shared by every opportunity feed, the source error types and
the HTTP plumbing (rate limiting, retries, circuit breaking) the live feeds use.
*/

package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elys-network/yield-router/internal/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	ErrDataSourceUnavailable = errors.New("data source unavailable")
	ErrUnexpectedResponse    = errors.New("unexpected response from data source")
)

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 30
)

// Source produces raw opportunity records from one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]RawOpportunity, error)
}

// SourceError attributes a failure to the source that produced it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// HostLimiter rate limits outbound requests per host with a token bucket.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewHostLimiter creates a limiter allowing rps requests per second with the given burst per host.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *HostLimiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil {
		return nil
	}
	return l.getLimiter(host).Wait(ctx)
}

// newSourceBreaker trips after 3 consecutive failures, or when more than 5% of at least
// 20 requests in the interval failed.
func newSourceBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	})
}

// httpFeed performs JSON requests with per-host rate limiting and bounded retries.
type httpFeed struct {
	client  *http.Client
	limiter *HostLimiter
	backoff time.Duration
}

func newHTTPFeed(client *http.Client, limiter *HostLimiter) httpFeed {
	if client == nil {
		client = &http.Client{Timeout: TIMEOUT_SECONDS * time.Second}
	}
	return httpFeed{client: client, limiter: limiter, backoff: time.Second}
}

// doJSON sends the request (GET when body is nil, POST otherwise) and decodes the response into out.
// Network errors and 5xx/429 responses are retried; other statuses fail immediately.
func (f httpFeed) doJSON(ctx context.Context, source, rawURL string, body any, out any) error {
	feedLogger := logger.GetForComponent("datafetcher")

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		if err := f.limiter.Wait(ctx, parsed.Host); err != nil {
			return err
		}

		retry, err := f.attempt(ctx, rawURL, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == MAX_RETRIES {
			break
		}

		feedLogger.Warn().
			Err(err).
			Str("source", source).
			Int("attempt", attempt).
			Msg("Request failed, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * f.backoff):
		}
	}
	return lastErr
}

func (f httpFeed) attempt(ctx context.Context, rawURL string, payload []byte, out any) (retry bool, err error) {
	method := http.MethodGet
	var reader io.Reader
	if payload != nil {
		method = http.MethodPost
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return retryable, errors.Join(ErrUnexpectedResponse, fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Join(ErrUnexpectedResponse, fmt.Errorf("failed to decode body: %w", err))
	}
	return false, nil
}
