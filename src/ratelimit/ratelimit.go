// Package ratelimit throttles clients that keep failing authentication.
//
// Each source host carries a failed-attempt counter. Once the counter reaches
// the configured limit the host is no longer "allowed": the server keeps
// serving it but delays every request until the host authenticates
// successfully or its entry ages out of the window.
package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Config tunes the limiter.
type Config struct {
	// Limit is the number of failed attempts after which a host is throttled.
	Limit int
	// Window is both the sweep interval and the age after which an entry
	// is forgotten.
	Window time.Duration
	// Delay is how long requests from a throttled host are held back.
	Delay time.Duration
}

type attempts struct {
	failures int
	last     time.Time
}

// RateLimiter tracks failed authentication attempts per host.
type RateLimiter struct {
	config Config
	// mu makes read-modify-write of an entry atomic
	mu    sync.Mutex
	cache *ttlcache.Cache[string, attempts]
	now   func() time.Time
}

// New creates a limiter. Entries are kept for config.Window after the last
// attempt and removed by Run.
func New(config Config) *RateLimiter {
	cache := ttlcache.New[string, attempts](
		ttlcache.WithTTL[string, attempts](config.Window),
		ttlcache.WithDisableTouchOnHit[string, attempts](),
	)

	return &RateLimiter{
		config: config,
		cache:  cache,
		now:    time.Now,
	}
}

// HostOf strips the port from a remote address so all connections from one
// host share a counter.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// IsAllowed is false once host has reached the failure limit.
func (r *RateLimiter) IsAllowed(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(host)
	if item == nil {
		return true
	}
	return item.Value().failures < r.config.Limit
}

// Failures returns the current failure count of host.
func (r *RateLimiter) Failures(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(host)
	if item == nil {
		return 0
	}
	return item.Value().failures
}

// RegisterAttempt records an authentication attempt. Success resets the
// counter, failure increments it.
func (r *RateLimiter) RegisterAttempt(host string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := attempts{last: r.now()}
	if !success {
		if item := r.cache.Get(host); item != nil {
			entry.failures = item.Value().failures
		}
		entry.failures++
	}

	r.cache.Set(host, entry, ttlcache.DefaultTTL)
}

// Delay returns the configured back-off for throttled hosts.
func (r *RateLimiter) Delay() time.Duration {
	return r.config.Delay
}

// Wait sleeps for the configured delay if host is throttled. It returns early
// with the context error when ctx is canceled.
func (r *RateLimiter) Wait(ctx context.Context, host string) error {
	if r.IsAllowed(host) || r.config.Delay <= 0 {
		return nil
	}

	timer := time.NewTimer(r.config.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep removes every host whose last attempt is older than the window.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.config.Window)
	for host, item := range r.cache.Items() {
		if item.Value().last.Before(cutoff) {
			r.cache.Delete(host)
		}
	}
	r.cache.DeleteExpired()
}

// Len returns the number of tracked hosts.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Run sweeps once per window until ctx is canceled.
func (r *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}
