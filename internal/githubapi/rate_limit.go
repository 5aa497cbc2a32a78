package githubapi

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitState is the rate budget snapshot read off one GitHub response.
type RateLimitState struct {
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Secondary  bool
}

// RateLimitPolicy decides how long to pause before the next request.
type RateLimitPolicy struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
}

// RateLimitStateFromResponse parses the rate-limit and retry headers of one
// response. A 429, or a 403 carrying Retry-After, marks the secondary limit.
func RateLimitStateFromResponse(resp *http.Response) RateLimitState {
	state := RateLimitState{
		Remaining: headerInt(resp.Header, "X-RateLimit-Remaining"),
	}
	if reset := headerInt64(resp.Header, "X-RateLimit-Reset"); reset > 0 {
		state.ResetAt = time.Unix(reset, 0)
	}
	if seconds := headerInt(resp.Header, "Retry-After"); seconds > 0 {
		state.RetryAfter = time.Duration(seconds) * time.Second
	}
	state.Secondary = resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && state.RetryAfter > 0)
	return state
}

// Wait returns how long the caller must pause before sending the next
// request. Zero means the request may proceed now.
func (p RateLimitPolicy) Wait(state RateLimitState, now time.Time) time.Duration {
	if state.Secondary {
		if state.RetryAfter > p.SecondaryLimitBackoff {
			return state.RetryAfter
		}
		return p.SecondaryLimitBackoff
	}

	if state.Remaining >= p.MinRemainingThreshold {
		return 0
	}
	if !state.ResetAt.After(now) {
		return 0
	}
	return state.ResetAt.Sub(now) + p.MinResetBuffer
}

func headerInt(header http.Header, key string) int {
	parsed, err := strconv.Atoi(header.Get(key))
	if err != nil {
		return 0
	}
	return parsed
}

func headerInt64(header http.Header, key string) int64 {
	parsed, err := strconv.ParseInt(header.Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
