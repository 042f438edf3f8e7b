// Package refresh decides when the cached price history must be re-fetched and
// coordinates cache reads, upstream fetches, store replacement and overlay
// recomputation for one series category.
package refresh

import (
	"fmt"
	"time"

	"pricewatch/internal/model"
)

// Default policy values.
const (
	DefaultStaleAfter     = time.Hour
	DefaultMinHistorySpan = model.LongestLookback
)

// Policy is the staleness rule for the cached history.
type Policy struct {
	// StaleAfter is how old the newest cached point may get before a refetch.
	StaleAfter time.Duration

	// MinHistorySpan is the oldest-to-newest span the cache must cover.
	MinHistorySpan time.Duration
}

// DefaultPolicy returns a one-hour staleness threshold and enough history for
// the 200-week average.
func DefaultPolicy() Policy {
	return Policy{StaleAfter: DefaultStaleAfter, MinHistorySpan: DefaultMinHistorySpan}
}

// Validate rejects a non-positive threshold or a span too short for the
// longest-lookback overlay.
func (p Policy) Validate() error {
	if p.StaleAfter <= 0 {
		return fmt.Errorf("refresh policy: stale_after must be positive, got %s", p.StaleAfter)
	}
	if p.MinHistorySpan < model.LongestLookback {
		return fmt.Errorf("refresh policy: min_history_span %s is shorter than the longest lookback %s",
			p.MinHistorySpan, model.LongestLookback)
	}
	return nil
}

// NeedsRefresh reports whether a cache whose points run from oldest to newest
// should be re-fetched at now. A zero newest means the cache is empty.
func (p Policy) NeedsRefresh(oldest, newest, now time.Time) bool {
	if newest.IsZero() || oldest.IsZero() {
		return true
	}
	if now.Sub(newest) > p.StaleAfter {
		return true
	}
	return newest.Sub(oldest) < p.MinHistorySpan
}
