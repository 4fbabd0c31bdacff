package cache

import (
	"context"
	"errors"
	"time"
)

// Policy decides what a cache-backed check answers when redis cannot be reached.
type Policy int

const (
	// AllowDegraded lets the request through and logs the outage.
	AllowDegraded Policy = iota
	// Reject treats the outage as a denial.
	Reject
)

var ErrUnavailable = errors.New("cache unavailable")

func (p Policy) String() string {
	if p == Reject {
		return "reject"
	}
	return "allow_degraded"
}

// PolicyFromConfig maps the failClosedCache switch onto a Policy.
func PolicyFromConfig(failClosed bool) Policy {
	if failClosed {
		return Reject
	}
	return AllowDegraded
}

func withOpTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultOpTimeout
	}
	return context.WithTimeout(ctx, d)
}
