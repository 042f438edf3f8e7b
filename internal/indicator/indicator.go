// Package indicator provides moving-average calculations over point series.
//
// Streaming calculators (SMA, EMA) carry the running state for one pass over
// a series. The batch functions build a fresh calculator on every call, so they
// are pure: identical input always yields identical output and concurrent calls
// share nothing.
package indicator

import "pricewatch/internal/model"

// Calculator is the interface for streaming moving averages.
type Calculator interface {
	// Update feeds the next value in chronological order.
	Update(v float64)

	// Value returns the current average. Returns 0 if not enough data.
	Value() float64

	// Ready returns true once a full window has been accumulated.
	Ready() bool
}

// run feeds every point of s through c and emits one output point per
// input position once c is ready, stamped with the input's timestamp.
func run(c Calculator, s model.Series, period int) model.Series {
	if period <= 0 || len(s) < period {
		return nil
	}
	out := make(model.Series, 0, len(s)-period+1)
	for _, p := range s {
		c.Update(p.Value)
		if c.Ready() {
			out = append(out, model.Point{TS: p.TS, Value: c.Value()})
		}
	}
	return out
}

// Compute evaluates the line overlay kind over the full series.
// The band is derived by the overlay compositor and returns nil here.
func Compute(kind model.OverlayKind, s model.Series) model.Series {
	switch {
	case kind.IsBand():
		return nil
	case kind.IsEMA():
		return EMA(s, kind.Period())
	default:
		return SMA(s, kind.Period())
	}
}
