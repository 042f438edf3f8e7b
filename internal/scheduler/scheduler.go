// Package scheduler drives periodic refreshes of the coordinator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"

	"pricewatch/internal/refresh"
)

// Loader is satisfied by *refresh.Coordinator. ran is false when the load
// was skipped because another one was in flight.
type Loader interface {
	TryLoad(ctx context.Context, view refresh.View) (ran bool, err error)
}

var errInFlight = errors.New("load already in flight")

// Config configures a Scheduler.
type Config struct {
	// Spec is a six-field cron expression (with seconds).
	Spec string

	// RetryMin and RetryMax bound the delay before retrying a failed load.
	RetryMin time.Duration
	RetryMax time.Duration

	// OnResult, when set, is called after every load that ran. Loads
	// skipped by the in-flight guard are not reported.
	OnResult func(at time.Time, err error)

	Logger *slog.Logger
}

// Scheduler runs a Load on a cron schedule. After a failed load it retries
// with exponential backoff until one succeeds or the next cron tick fires.
type Scheduler struct {
	ctx    context.Context
	loader Loader
	cron   *cron.Cron
	log    *slog.Logger
	notify func(time.Time, error)

	mu      sync.Mutex
	backoff *backoff.Backoff
	retry   *time.Timer
	stopped bool
}

// New creates a scheduler. Loads run with ctx; cancel it to abort an
// in-flight refresh on shutdown.
func New(ctx context.Context, loader Loader, cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 30 * time.Second
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = cfg.RetryMin
	}

	s := &Scheduler{
		ctx:    ctx,
		loader: loader,
		cron:   cron.New(cron.WithSeconds()),
		log:    cfg.Logger.With("component", "scheduler"),
		notify: cfg.OnResult,
		backoff: &backoff.Backoff{
			Min:    cfg.RetryMin,
			Max:    cfg.RetryMax,
			Factor: 2,
			Jitter: true,
		},
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("register refresh task %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops the cron scheduler and any pending retry. It waits for a
// running load to finish or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow performs a load immediately, outside the schedule. It returns nil
// without loading when another load is in flight.
func (s *Scheduler) RunNow() error {
	return s.run("manual")
}

// Next returns the time of the next scheduled load.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	s.run("cron")
}

func (s *Scheduler) run(trigger string) error {
	ran, err := s.loader.TryLoad(s.ctx, refresh.View{})
	if !ran {
		// The load in flight decides health; a skipped retry tries again later.
		s.log.Debug("refresh skipped, load in flight", "trigger", trigger)
		if trigger == "retry" {
			s.scheduleRetry(trigger, errInFlight)
		}
		return nil
	}

	// A completed run supersedes a pending retry.
	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(time.Now(), err)
	}
	if err == nil {
		s.mu.Lock()
		s.backoff.Reset()
		s.mu.Unlock()
		s.log.Debug("refresh done", "trigger", trigger)
		return nil
	}

	s.scheduleRetry(trigger, err)
	return err
}

func (s *Scheduler) scheduleRetry(trigger string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx.Err() != nil || s.retry != nil {
		return
	}
	delay := s.backoff.Duration()
	s.log.Warn("refresh incomplete, retrying",
		"trigger", trigger, "attempt", int(s.backoff.Attempt()), "delay", delay, "error", cause)
	s.retry = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.retry = nil
		s.mu.Unlock()
		s.run("retry")
	})
}
