// Package ratelimit implements sliding-window admission control for the
// AI endpoint classes. Every admission decision prunes the window first,
// so a key's recorded timestamps always lie within the trailing window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"estiguard/internal/logger"
	"estiguard/internal/metrics"
)

// ClassLimit is the static (limit, window) pair for an endpoint class.
type ClassLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultClasses returns the per-endpoint-class limits. Lightweight chat
// allows far more requests per window than heavyweight vision analysis.
func DefaultClasses() map[string]ClassLimit {
	return map[string]ClassLimit{
		"chat":      {Limit: 30, Window: time.Minute},
		"vision":    {Limit: 5, Window: time.Minute},
		"estimate":  {Limit: 20, Window: time.Minute},
		"documents": {Limit: 10, Window: time.Minute},
	}
}

// Decision is the outcome of an admission check. A rejection is a normal
// outcome, not an error; RetryAfter tells the caller when to come back.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Headers returns the decision as HTTP response header values, which
// handlers pass straight through on rejection.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.Reset.Unix(), 10),
	}
	if !d.Allowed {
		secs := int64(d.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		h["Retry-After"] = strconv.FormatInt(secs, 10)
	}
	return h
}

// Store is the persistence boundary for rate windows. Implementations must
// keep Append and RangeSince cheap; RangeSince also prunes entries older
// than since so windows never grow unbounded.
type Store interface {
	Append(ctx context.Context, key string, ts time.Time) error
	RangeSince(ctx context.Context, key string, since time.Time) ([]time.Time, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AdmitResult is the outcome of an atomic Admit call. Count includes the
// new entry when admitted; Oldest is the zero time for an empty window.
type AdmitResult struct {
	Admitted bool
	Count    int
	Oldest   time.Time
}

// Admitter is an optional Store capability: prune, count, append, and
// expire in one atomic step. Shared backends implement it so the window
// stays consistent across instances without a read-then-write gap.
type Admitter interface {
	Admit(ctx context.Context, key string, since, now time.Time, limit int, ttl time.Duration) (AdmitResult, error)
}

// Limiter decides admission per (endpoint class, identity) using a
// sliding-window log over the backing store.
type Limiter struct {
	mu       sync.Mutex
	store    Store
	classes  map[string]ClassLimit
	fallback ClassLimit
	now      func() time.Time
	log      *slog.Logger
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithClasses replaces the endpoint class table.
func WithClasses(classes map[string]ClassLimit) Option {
	return func(l *Limiter) {
		l.classes = classes
	}
}

// WithFallbackLimit sets the limit applied to unregistered classes.
func WithFallbackLimit(cl ClassLimit) Option {
	return func(l *Limiter) {
		l.fallback = cl
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		classes:  DefaultClasses(),
		fallback: ClassLimit{Limit: 15, Window: time.Minute},
		now:      time.Now,
		log:      logger.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether one request for (class, identity) is admitted and
// records it when it is. An optional secondary identity (e.g. organization)
// scopes the key further. The prune-count-append sequence runs under one
// lock so concurrent requests from the same identity cannot over-admit;
// the Redis store additionally keeps the window consistent across
// process instances.
func (l *Limiter) Check(ctx context.Context, class, identity string, secondary ...string) (Decision, error) {
	cl, ok := l.classes[class]
	if !ok {
		cl = l.fallback
	}

	key := class + ":" + identity
	for _, s := range secondary {
		if s != "" {
			key += ":" + s
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	since := now.Add(-cl.Window)

	if a, ok := l.store.(Admitter); ok {
		res, err := a.Admit(ctx, key, since, now, cl.Limit, cl.Window)
		if err != nil {
			return Decision{}, fmt.Errorf("rate window admit: %w", err)
		}
		if !res.Admitted {
			return l.reject(class, key, cl, now, res.Oldest), nil
		}
		metrics.AdmissionsTotal.WithLabelValues(class, "allowed").Inc()
		return Decision{
			Allowed:   true,
			Limit:     cl.Limit,
			Remaining: cl.Limit - res.Count,
			Reset:     now.Add(cl.Window),
		}, nil
	}

	entries, err := l.store.RangeSince(ctx, key, since)
	if err != nil {
		return Decision{}, fmt.Errorf("rate window read: %w", err)
	}

	if len(entries) >= cl.Limit {
		oldest := entries[0]
		for _, e := range entries[1:] {
			if e.Before(oldest) {
				oldest = e
			}
		}
		return l.reject(class, key, cl, now, oldest), nil
	}

	if err := l.store.Append(ctx, key, now); err != nil {
		return Decision{}, fmt.Errorf("rate window append: %w", err)
	}
	// Let idle windows fall out of the backing store on their own.
	if err := l.store.Expire(ctx, key, cl.Window); err != nil {
		l.log.Warn("rate window expire failed", "key", key, "error", err)
	}

	metrics.AdmissionsTotal.WithLabelValues(class, "allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     cl.Limit,
		Remaining: cl.Limit - len(entries) - 1,
		Reset:     now.Add(cl.Window),
	}, nil
}

func (l *Limiter) reject(class, key string, cl ClassLimit, now, oldest time.Time) Decision {
	if oldest.IsZero() {
		oldest = now
	}
	retryAfter := cl.Window - now.Sub(oldest)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	metrics.AdmissionsTotal.WithLabelValues(class, "rejected").Inc()
	l.log.Warn("rate limit exceeded", "class", class, "key", key, "retry_after", retryAfter)
	return Decision{
		Allowed:    false,
		Limit:      cl.Limit,
		Remaining:  0,
		Reset:      oldest.Add(cl.Window),
		RetryAfter: retryAfter,
	}
}

// Reset clears the window for (class, identity) (ops/test hook).
func (l *Limiter) Reset(ctx context.Context, class, identity string) error {
	return l.store.Delete(ctx, class+":"+identity)
}
