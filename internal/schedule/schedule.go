// Package schedule runs periodic maintenance through an explicit tick.
// The core owns no hidden timers: the host loop calls Run (or Tick
// directly in tests, advancing simulated time by hand).
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type task struct {
	name    string
	every   time.Duration
	fn      func(context.Context)
	lastRun time.Time
}

// Scheduler fires registered tasks once their interval has elapsed.
// Due tasks run sequentially in registration order.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	logger *slog.Logger
	tasks  []*task
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task. The first run comes one full interval after
// registration. A non-positive interval fires on every tick.
func (s *Scheduler) Register(name string, every time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		every:   every,
		fn:      fn,
		lastRun: s.clock.Now(),
	})
}

// Tick runs every task whose interval has elapsed as of now. Tasks are
// marked before running, so a re-entrant tick cannot double-fire them.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if now.Sub(t.lastRun) >= t.every {
			t.lastRun = now
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.logger.Debug("scheduled task running", "task", t.name)
		t.fn(ctx)
	}
}

// Run drives Tick from a wall-clock ticker until the context ends.
func (s *Scheduler) Run(ctx context.Context, resolution time.Duration) {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}
