// Package limit paces outbound fetches per host.
package limit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teranos/jobpulse/errors"
)

// HostLimiter keeps one token bucket per host so that sources sharing a
// domain share its budget.
type HostLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows requestsPerMinute calls per host.
// A non-positive value disables pacing.
func NewHostLimiter(requestsPerMinute int) *HostLimiter {
	l := &HostLimiter{
		perSecond: rate.Inf,
		burst:     1,
		limiters:  make(map[string]*rate.Limiter),
	}
	if requestsPerMinute > 0 {
		l.perSecond = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return l
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}
	if err := l.limiter(host).Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limit wait for %s", host)
	}
	return nil
}

// Allow reports whether a request to rawURL's host may go now, consuming a token if so
func (l *HostLimiter) Allow(rawURL string) bool {
	host, err := hostOf(rawURL)
	if err != nil {
		return false
	}
	return l.limiter(host).Allow()
}

// Hosts returns the number of hosts seen so far
func (l *HostLimiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.perSecond, l.burst)
		l.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid URL")
	}
	if u.Hostname() == "" {
		return "", errors.Newf("URL %q has no host", rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
