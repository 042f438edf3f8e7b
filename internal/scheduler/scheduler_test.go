package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricewatch/internal/logger"
	"pricewatch/internal/refresh"
)

// neverSpec fires once a year, keeping cron out of the way.
const neverSpec = "0 0 0 1 1 *"

type flakyLoader struct {
	failures atomic.Int32 // loads left to fail
	calls    atomic.Int32

	mu    sync.Mutex
	views []refresh.View
}

func (l *flakyLoader) TryLoad(_ context.Context, view refresh.View) (bool, error) {
	l.calls.Add(1)
	l.mu.Lock()
	l.views = append(l.views, view)
	l.mu.Unlock()
	if l.failures.Add(-1) >= 0 {
		return true, errors.New("upstream down")
	}
	return true, nil
}

// guardedLoader admits one load at a time, like the coordinator.
type guardedLoader struct {
	inFlight atomic.Bool
	ran      atomic.Int32
	skipped  atomic.Int32

	entered chan struct{}        // signalled when a load starts, if non-nil
	release chan struct{}        // a started load waits for it, if non-nil
	fail    func(run int32) bool // whether the nth run fails
}

func (l *guardedLoader) TryLoad(context.Context, refresh.View) (bool, error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		return false, nil
	}
	defer l.inFlight.Store(false)

	n := l.ran.Add(1)
	if l.entered != nil {
		l.entered <- struct{}{}
	}
	if l.release != nil {
		<-l.release
	}
	if l.fail != nil && l.fail(n) {
		return true, errors.New("upstream down")
	}
	return true, nil
}

func newTestScheduler(t *testing.T, l Loader, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Spec == "" {
		cfg.Spec = neverSpec
	}
	cfg.Logger = logger.Discard()
	s, err := New(context.Background(), l, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(context.Background(), &flakyLoader{}, Config{Spec: "every minute"})
	require.ErrorContains(t, err, "every minute")
}

func TestRunNow_Success(t *testing.T) {
	l := &flakyLoader{}
	var results atomic.Int32
	s := newTestScheduler(t, l, Config{
		OnResult: func(_ time.Time, err error) {
			if err == nil {
				results.Add(1)
			}
		},
	})

	require.NoError(t, s.RunNow())
	require.Equal(t, int32(1), l.calls.Load())
	require.Equal(t, int32(1), results.Load())

	l.mu.Lock()
	require.Equal(t, refresh.View{}, l.views[0], "scheduled loads keep the current view")
	l.mu.Unlock()
}

func TestRunNow_RetriesWithBackoffUntilSuccess(t *testing.T) {
	l := &flakyLoader{}
	l.failures.Store(2)
	s := newTestScheduler(t, l, Config{RetryMin: 5 * time.Millisecond, RetryMax: 20 * time.Millisecond})

	require.Error(t, s.RunNow())

	require.Eventually(t, func() bool { return l.calls.Load() == 3 }, 2*time.Second, 2*time.Millisecond)

	// Success ends the retry chain.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(3), l.calls.Load())
}

func TestStop_CancelsPendingRetry(t *testing.T) {
	l := &flakyLoader{}
	l.failures.Store(100)
	s := newTestScheduler(t, l, Config{RetryMin: 200 * time.Millisecond, RetryMax: time.Second})

	require.Error(t, s.RunNow())
	s.Stop(context.Background())

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(1), l.calls.Load())
}

func TestCronTriggersLoad(t *testing.T) {
	l := &flakyLoader{}
	s := newTestScheduler(t, l, Config{Spec: "* * * * * *"})

	s.Start()
	require.Eventually(t, func() bool { return l.calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	require.False(t, s.Next().IsZero())
}

func TestRunNow_SkippedLoadReportsNothing(t *testing.T) {
	l := &guardedLoader{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		fail:    func(int32) bool { return true },
	}
	var (
		mu      sync.Mutex
		results []error
	)
	s := newTestScheduler(t, l, Config{
		RetryMin: time.Hour,
		RetryMax: time.Hour,
		OnResult: func(_ time.Time, err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.RunNow() }()
	<-l.entered

	// A tick landing while the first load is blocked.
	require.NoError(t, s.RunNow())
	require.Equal(t, int32(1), l.skipped.Load())
	mu.Lock()
	require.Empty(t, results, "a skipped load must not report success")
	mu.Unlock()

	close(l.release)
	require.Error(t, <-done)

	mu.Lock()
	require.Len(t, results, 1)
	require.Error(t, results[0])
	mu.Unlock()

	s.mu.Lock()
	require.Equal(t, float64(1), s.backoff.Attempt(), "backoff must not be reset by the skipped load")
	require.NotNil(t, s.retry)
	s.mu.Unlock()
}

func TestRetry_SkippedWhileBusyTriesAgain(t *testing.T) {
	l := &guardedLoader{fail: func(n int32) bool { return n == 1 }}
	s := newTestScheduler(t, l, Config{RetryMin: 50 * time.Millisecond, RetryMax: 100 * time.Millisecond})

	require.Error(t, s.RunNow())
	// Someone else's load holds the guard while retries come due.
	l.inFlight.Store(true)
	require.Eventually(t, func() bool { return l.skipped.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
	l.inFlight.Store(false)

	require.Eventually(t, func() bool { return l.ran.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(2), l.ran.Load(), "success ends the retry chain")
}
