package collector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// proactiveRate throttles well under GitHub's 5000/hour budget.
	proactiveRate = 1.2

	// minBuffer is the remaining-request floor before we wait for reset.
	minBuffer = 100

	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
	headerRetryAfter    = "Retry-After"
)

// RateLimitError reports an exhausted API quota with its reset time.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github: rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// RateLimiter combines a proactive token bucket with reactive tracking of
// the X-RateLimit headers GitHub returns on every response.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		remaining: 5000, // assume a full quota until told otherwise
		bucket:    rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}
}

// Wait blocks until it is safe to make a request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining < minBuffer && time.Now().Before(resetTime) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resetTime)):
		}
	}
	return nil
}

// Update records rate-limit state from response headers.
func (r *RateLimiter) Update(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v := resp.Header.Get(headerRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.remaining = n
		}
	}
	if v := resp.Header.Get(headerRateReset); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.resetTime = time.Unix(ts, 0)
		}
	}
}

// Check returns a RateLimitError if the response indicates throttling
// (429, or 403 with the quota exhausted), nil otherwise.
func (r *RateLimiter) Check(resp *http.Response) error {
	if resp == nil {
		return nil
	}
	r.Update(resp)

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && remaining == 0) {
		if v := resp.Header.Get(headerRetryAfter); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				resetTime = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
		return &RateLimitError{ResetAt: resetTime}
	}
	return nil
}
