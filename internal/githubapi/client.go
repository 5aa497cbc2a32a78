package githubapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/osscampus/contrib-board/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig configures GitHub client retry behavior.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallMetadata reports how many HTTP attempts a call consumed and the last
// rate-limit state observed. Attempts feeds the request counter even when
// the call ultimately fails.
type CallMetadata struct {
	Attempts  int
	RateLimit RateLimitState
}

// Client wraps GitHub HTTP requests with retry and rate-limit controls.
type Client struct {
	doer       HTTPDoer
	retry      RetryConfig
	ratePolicy RateLimitPolicy
	// Sleep and Now are injected for testability.
	Sleep func(duration time.Duration)
	Now   func() time.Time
}

// NewClient creates a GitHub API client wrapper.
func NewClient(doer HTTPDoer, retry RetryConfig, ratePolicy RateLimitPolicy) *Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		doer:       doer,
		retry:      retry,
		ratePolicy: ratePolicy,
		Sleep:      time.Sleep,
		Now:        time.Now,
	}
}

// Do executes a request, retrying network errors and transient statuses and
// pausing on rate-limit pressure. When the final attempt still ends in a
// non-success response, that response is returned with its body unread so the
// caller can surface the status and body text.
func (c *Client) Do(req *http.Request) (*http.Response, CallMetadata, error) {
	if req == nil {
		return nil, CallMetadata{}, fmt.Errorf("request is nil")
	}

	ctx := req.Context()
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("contrib-board/internal/githubapi").Start(
			ctx,
			"githubapi.client.do",
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.path", req.URL.EscapedPath()),
				attribute.Int("github.max_attempts", c.retry.MaxAttempts),
			),
		)
		defer span.End()
	}

	metadata := CallMetadata{}
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		metadata.Attempts = attempt
		lastAttempt := attempt == c.retry.MaxAttempts

		resp, err := c.doer.Do(req.Clone(ctx))
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.AddEvent("attempt_failed", trace.WithAttributes(
					attribute.Int("github.attempt", attempt),
				))
			}
			if lastAttempt {
				if span != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, metadata, err
			}
			c.Sleep(backoffForAttempt(c.retry, attempt))
			continue
		}

		state := RateLimitStateFromResponse(resp)
		metadata.RateLimit = state
		wait := c.ratePolicy.Wait(state, c.Now())

		if span != nil {
			span.AddEvent("attempt_completed", trace.WithAttributes(
				attribute.Int("github.attempt", attempt),
				attribute.Int("http.status_code", resp.StatusCode),
				attribute.Int("github.rate_limit_remaining", state.Remaining),
				attribute.Int64("github.rate_limit_wait_ms", wait.Milliseconds()),
			))
		}

		if wait > 0 {
			if lastAttempt {
				if span != nil {
					span.SetStatus(codes.Error, "rate-limited")
				}
				return resp, metadata, nil
			}
			closeBody(resp)
			c.Sleep(wait)
			continue
		}

		if isTransientStatus(resp.StatusCode) {
			if lastAttempt {
				if span != nil {
					span.SetStatus(codes.Error, fmt.Sprintf("transient status %d", resp.StatusCode))
				}
				return resp, metadata, nil
			}
			closeBody(resp)
			c.Sleep(backoffForAttempt(c.retry, attempt))
			continue
		}

		if span != nil {
			span.SetStatus(codes.Ok, "request completed")
		}
		return resp, metadata, nil
	}

	if span != nil {
		span.SetStatus(codes.Error, "request attempts exhausted")
	}
	return nil, metadata, fmt.Errorf("request attempts exhausted")
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func isTransientStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}

func backoffForAttempt(retry RetryConfig, attempt int) time.Duration {
	backoff := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return backoff
}
