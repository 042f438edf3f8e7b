package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker state. The numeric values are exported
// as the pricewatch_breaker_state gauge.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

var breakerStateNames = [...]string{"closed", "open", "half-open"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "unknown"
	}
	return breakerStateNames[s]
}

// CircuitBreaker guards the upstream provider.
//
// Closed: calls pass and consecutive failures are counted; reaching the
// threshold opens the breaker. Open: calls fail fast with ErrCircuitOpen
// until the cool-down has elapsed. Half-open: exactly one trial call runs;
// its outcome closes or reopens the breaker.
//
// A call whose context was cancelled is the caller giving up, not the
// provider failing, so it leaves the failure count untouched.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	inTrial  bool

	// OnStateChange runs on every transition while the breaker is locked.
	// It must not call back into the breaker.
	OnStateChange func(from, to BreakerState)
}

// NewCircuitBreaker returns a closed breaker that opens after threshold
// consecutive failures (minimum 1) and admits a trial call after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute runs fn with ctx unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, trial := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.settle(ctx, err, trial)
	return err
}

// admit decides whether a call may run. trial is true when the call claimed
// the half-open slot.
func (cb *CircuitBreaker) admit() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, false
		}
		cb.transition(StateHalfOpen)
	}
	if cb.inTrial {
		return false, false
	}
	cb.inTrial = true
	return true, true
}

// settle records the outcome of an admitted call. Only the call holding the
// half-open slot may close or reopen a half-open breaker; calls admitted
// while closed that finish later only touch the closed-state count.
func (cb *CircuitBreaker) settle(ctx context.Context, err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inTrial = false
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// Cancelled: a cancelled trial frees the slot for the next call.
	case trial && err != nil:
		cb.failures++
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	case trial:
		cb.transition(StateClosed)
	case cb.state != StateClosed:
		// Admitted while closed, finished after the breaker tripped.
	case err != nil:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	default:
		cb.failures = 0
	}
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
