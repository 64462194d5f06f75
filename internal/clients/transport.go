package clients

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const retryAttempts = 3

var retryDelay = 2 * time.Second

// throttledTransport applies a token-bucket limit before each request.
// Only API calls go through it; stream downloads use a plain client so a
// long transfer never starves metadata requests of tokens.
type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(req)
}

// retryTransport retries rate-limited and transiently failing requests a
// fixed number of times with a flat delay.
type retryTransport struct {
	base http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(retryDelay):
			}
		}
		resp, err = t.base.RoundTrip(req)
		if err != nil {
			// Body-less GETs are safe to reissue on transport errors.
			if req.Body == nil {
				continue
			}
			return nil, err
		}
		retriable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retriable && attempt < retryAttempts-1 {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return resp, err
}

// NewAPIClient builds the http client used for a service's API calls:
// retried, and rate limited to requestsPerMinute when positive.
func NewAPIClient(requestsPerMinute int) *http.Client {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	}
	return &http.Client{
		Timeout: 120 * time.Second,
		Transport: &throttledTransport{
			limiter: limiter,
			base:    &retryTransport{base: http.DefaultTransport},
		},
	}
}

// NewStreamClient builds the http client used for audio transfers. No
// rate limit and no overall timeout; large files take as long as they
// take and cancellation comes from the request context.
func NewStreamClient() *http.Client {
	return &http.Client{Transport: &retryTransport{base: http.DefaultTransport}}
}
