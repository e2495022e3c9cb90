// Package ratelimit implements per-model fixed-window request limiting.
// Windows reset lazily: the first probe after the window boundary starts
// a fresh window rather than a timer firing in the background.
package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Window is a point-in-time view of one model's current window.
type Window struct {
	Model     string
	Count     int64
	Limit     int64
	ResetTime time.Time
}

func (w Window) Remaining() int64 {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// Store holds the window counters. Implementations must reset a
// window whose boundary has passed before reporting or incrementing.
type Store interface {
	// Peek returns the current count and window reset time without
	// consuming quota.
	Peek(ctx context.Context, key string) (count int64, reset time.Time, err error)
	// Incr adds one to the current window and returns the new count.
	// A fresh window's reset time is the call time plus the window size.
	Incr(ctx context.Context, key string) (count int64, err error)
}

// Limiter applies per-model request quotas over a shared Store.
type Limiter struct {
	store  Store
	def    int64
	limits map[string]int64

	mu   sync.Mutex
	seen map[string]struct{}
}

type Option func(*Limiter)

// WithModelLimit overrides the default quota for one model.
func WithModelLimit(model string, perWindow int64) Option {
	return func(l *Limiter) { l.limits[model] = perWindow }
}

// WithModelLimits overrides the default quota for several models.
func WithModelLimits(limits map[string]int64) Option {
	return func(l *Limiter) {
		for m, n := range limits {
			l.limits[m] = n
		}
	}
}

func New(store Store, defaultPerWindow int64, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		def:    defaultPerWindow,
		limits: make(map[string]int64),
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) limitFor(model string) int64 {
	if n, ok := l.limits[model]; ok {
		return n
	}
	return l.def
}

func key(model string) string {
	return fmt.Sprintf("ratelimit:model:%s", model)
}

// Allow reports whether the model has quota left in the current
// window. It does not consume quota; call Record once the request is
// actually dispatched.
func (l *Limiter) Allow(ctx context.Context, model string) (bool, error) {
	l.remember(model)
	count, _, err := l.store.Peek(ctx, key(model))
	if err != nil {
		return false, err
	}
	return count < l.limitFor(model), nil
}

// Record consumes one unit of the model's quota.
func (l *Limiter) Record(ctx context.Context, model string) error {
	l.remember(model)
	_, err := l.store.Incr(ctx, key(model))
	return err
}

func (l *Limiter) remember(model string) {
	l.mu.Lock()
	l.seen[model] = struct{}{}
	l.mu.Unlock()
}

// Status snapshots every window the limiter has touched, sorted by
// model for stable output.
func (l *Limiter) Status(ctx context.Context) ([]Window, error) {
	l.mu.Lock()
	models := make([]string, 0, len(l.seen))
	for m := range l.seen {
		models = append(models, m)
	}
	l.mu.Unlock()
	sort.Strings(models)

	out := make([]Window, 0, len(models))
	for _, m := range models {
		count, reset, err := l.store.Peek(ctx, key(m))
		if err != nil {
			return nil, err
		}
		out = append(out, Window{
			Model:     m,
			Count:     count,
			Limit:     l.limitFor(m),
			ResetTime: reset,
		})
	}
	return out, nil
}
