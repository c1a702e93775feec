// Package ratelimit implements fixed window request counting per principal.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Limiter counts one hit for key and reports whether it is within the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of one Allow call. RetryAfter is only set when the
// hit was denied.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// KeyFor picks the limiter key: the authenticated principal when known,
// otherwise the client address.
func KeyFor(principal, clientIP string) string {
	if principal != "" {
		return "user:" + principal
	}
	return "ip:" + clientIP
}

type bypass struct{}

// Bypass returns a limiter that allows everything.
func Bypass() Limiter { return bypass{} }

func (bypass) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// decide applies the fixed window rule to a counter that already includes
// the current hit.
func decide(count, max int, start time.Time, window time.Duration, now time.Time) Decision {
	d := Decision{
		Allowed: count <= max,
		Count:   count,
		Limit:   max,
		ResetAt: start.Add(window),
	}
	if !d.Allowed {
		d.RetryAfter = ceilSecond(d.ResetAt.Sub(now))
	}
	return d
}

func ceilSecond(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
