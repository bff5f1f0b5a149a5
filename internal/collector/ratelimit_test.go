package collector

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func response(status int, headers map[string]string) *http.Response {
	resp := &http.Response{StatusCode: status, Header: http.Header{}}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestCheckFlagsThrottling(t *testing.T) {
	r := NewRateLimiter()

	if err := r.Check(response(http.StatusOK, map[string]string{
		headerRateRemaining: "4200",
	})); err != nil {
		t.Fatalf("200 must not be throttled: %v", err)
	}

	err := r.Check(response(http.StatusTooManyRequests, map[string]string{
		headerRetryAfter: "30",
	}))
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if time.Until(rle.ResetAt) <= 0 {
		t.Error("expected reset time in the future")
	}
}

func TestCheckForbiddenWithQuotaLeft(t *testing.T) {
	r := NewRateLimiter()

	// A plain 403 with quota remaining is an auth problem, not throttling.
	if err := r.Check(response(http.StatusForbidden, map[string]string{
		headerRateRemaining: "3000",
	})); err != nil {
		t.Fatalf("expected no rate limit error, got %v", err)
	}
}

func TestCheckForbiddenExhausted(t *testing.T) {
	r := NewRateLimiter()

	err := r.Check(response(http.StatusForbidden, map[string]string{
		headerRateRemaining: "0",
		headerRateReset:     "4102444800",
	}))
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.ResetAt.Unix() != 4102444800 {
		t.Errorf("expected reset from header, got %v", rle.ResetAt)
	}
}

func TestUpdateTracksHeaders(t *testing.T) {
	r := NewRateLimiter()
	r.Update(response(http.StatusOK, map[string]string{
		headerRateRemaining: "17",
		headerRateReset:     "4102444800",
	}))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remaining != 17 {
		t.Errorf("expected remaining 17, got %d", r.remaining)
	}
	if r.resetTime.Unix() != 4102444800 {
		t.Errorf("expected reset tracked, got %v", r.resetTime)
	}
}
