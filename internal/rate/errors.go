package rate

import "errors"

var (
	// ErrRateLimited is returned by Acquire once a budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
