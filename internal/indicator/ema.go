package indicator

import "pricewatch/internal/model"

// EMAState calculates an Exponential Moving Average.
// O(1) per update, no window storage.
type EMAState struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new streaming EMA with the given period.
func NewEMA(period int) *EMAState {
	return &EMAState{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMAState) Update(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (v * k) + (EMA_prev * (1 - k))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMAState) Value() float64 { return e.current }
func (e *EMAState) Ready() bool    { return e.count >= e.period }

// EMA returns the exponential moving average of s with k = 2/(period+1).
//
// The seed is the arithmetic mean of the first period values, emitted at
// s[period-1].TS; later points follow v*k + prev*(1-k). Fewer than period
// inputs (or period <= 0) yields an empty series.
func EMA(s model.Series, period int) model.Series {
	if period <= 0 {
		return nil
	}
	return run(NewEMA(period), s, period)
}
