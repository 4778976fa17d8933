package dispatcher

import (
	"strconv"
	"time"
)

// BackoffDelay returns the pause after the given failed attempt (1-indexed):
// initial, initial*2, initial*4, ... capped at max.
func BackoffDelay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// ParseRetryAfter parses a Retry-After header value given in seconds.
// HTTP-date values are not handled and report false.
func ParseRetryAfter(retryAfter string) (time.Duration, bool) {
	if retryAfter == "" {
		return 0, false
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
