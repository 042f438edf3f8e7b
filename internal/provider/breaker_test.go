package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

type breakerHarness struct {
	cb      *CircuitBreaker
	clock   time.Time
	changes []BreakerState
}

func newHarness(threshold int) *breakerHarness {
	h := &breakerHarness{clock: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	h.cb = NewCircuitBreaker(threshold, 30*time.Second)
	h.cb.now = func() time.Time { return h.clock }
	h.cb.OnStateChange = func(_, to BreakerState) { h.changes = append(h.changes, to) }
	return h
}

func (h *breakerHarness) fail() error {
	return h.cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
}

func (h *breakerHarness) succeed() error {
	return h.cb.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	h := newHarness(3)
	require.Equal(t, StateClosed, h.cb.CurrentState())

	for i := 1; i <= 3; i++ {
		require.ErrorIs(t, h.fail(), errUpstream)
		require.Equal(t, i, h.cb.Failures())
	}
	require.Equal(t, StateOpen, h.cb.CurrentState())

	ran := false
	err := h.cb.Execute(context.Background(), func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, ran, "open breaker must not call through")
}

func TestBreaker_SuccessClearsRun(t *testing.T) {
	h := newHarness(3)
	h.fail()
	h.fail()
	require.NoError(t, h.succeed())
	require.Zero(t, h.cb.Failures())

	h.fail()
	h.fail()
	require.Equal(t, StateClosed, h.cb.CurrentState())
	require.Empty(t, h.changes)
}

func TestBreaker_TrialOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		h := newHarness(2)
		h.fail()
		h.fail()
		h.clock = h.clock.Add(31 * time.Second)

		require.NoError(t, h.succeed())
		require.Equal(t, StateClosed, h.cb.CurrentState())
		require.Equal(t, []BreakerState{StateOpen, StateHalfOpen, StateClosed}, h.changes)
	})

	t.Run("failure reopens with a fresh cool-down", func(t *testing.T) {
		h := newHarness(2)
		h.fail()
		h.fail()
		h.clock = h.clock.Add(31 * time.Second)

		require.ErrorIs(t, h.fail(), errUpstream)
		require.Equal(t, StateOpen, h.cb.CurrentState())

		h.clock = h.clock.Add(10 * time.Second)
		require.ErrorIs(t, h.succeed(), ErrCircuitOpen)
	})
}

func TestBreaker_OneTrialAtATime(t *testing.T) {
	h := newHarness(1)
	h.fail()
	h.clock = h.clock.Add(time.Minute)

	var nested error
	err := h.cb.Execute(context.Background(), func(context.Context) error {
		nested = h.succeed()
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, nested, ErrCircuitOpen)
	require.Equal(t, StateClosed, h.cb.CurrentState())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	h := newHarness(1)

	ctx, cancel := context.WithCancel(context.Background())
	err := h.cb.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateClosed, h.cb.CurrentState())
	require.Zero(t, h.cb.Failures())

	// An already-cancelled context never reaches fn.
	ran := false
	err = h.cb.Execute(ctx, func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
}

func TestBreaker_CancelledTrialLeavesSlotFree(t *testing.T) {
	h := newHarness(1)
	h.fail()
	h.clock = h.clock.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	h.cb.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.Equal(t, StateHalfOpen, h.cb.CurrentState())

	require.NoError(t, h.succeed())
	require.Equal(t, StateClosed, h.cb.CurrentState())
}

func TestBreakerState_String(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "half-open", StateHalfOpen.String())
	require.Equal(t, "unknown", BreakerState(7).String())
}

func TestBreaker_LateCallCannotSettleHalfOpen(t *testing.T) {
	h := newHarness(1)

	started := make(chan struct{})
	finish := make(chan struct{})
	slow := make(chan error, 1)
	go func() {
		slow <- h.cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	require.ErrorIs(t, h.fail(), errUpstream)
	require.Equal(t, StateOpen, h.cb.CurrentState())
	h.clock = h.clock.Add(time.Minute)

	var nested error
	err := h.cb.Execute(context.Background(), func(context.Context) error {
		// The call admitted while closed succeeds mid-way through the half-open trial.
		close(finish)
		require.NoError(t, <-slow)
		require.Equal(t, StateHalfOpen, h.cb.CurrentState())
		nested = h.succeed()
		return errUpstream
	})
	require.ErrorIs(t, err, errUpstream)
	require.ErrorIs(t, nested, ErrCircuitOpen, "half-open slot must still be held")
	require.Equal(t, StateOpen, h.cb.CurrentState())
	require.Equal(t, []BreakerState{StateOpen, StateHalfOpen, StateOpen}, h.changes)
}
