package dispatch

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"
)

// backoffDelay returns base * multiplier^attempt, where attempt counts
// completed attempts (0 before the first retry).
func backoffDelay(base time.Duration, multiplier float64, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := float64(base) * math.Pow(multiplier, float64(attempt))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// retryAfter parses a Retry-After header as either delay-seconds or an
// HTTP-date. It returns 0 when the header is absent or unparseable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
