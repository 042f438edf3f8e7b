package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange is the caller-selected display window. It never limits how much
// history is retained, only how much of it is shown.
type TimeRange string

const (
	Range24H     TimeRange = "24H"
	Range1W      TimeRange = "1W"
	Range1M      TimeRange = "1M"
	Range3M      TimeRange = "3M"
	Range6M      TimeRange = "6M"
	Range1Y      TimeRange = "1Y"
	Range2Y      TimeRange = "2Y"
	RangeAllTime TimeRange = "All"
)

// AllRanges lists the ranges in picker order.
var AllRanges = []TimeRange{Range24H, Range1W, Range1M, Range3M, Range6M, Range1Y, Range2Y, RangeAllTime}

// DefaultRange is shown when the caller has no saved preference.
const DefaultRange = Range1M

// Granularity is the sampling interval a range is best displayed at.
type Granularity int

const (
	Hourly Granularity = iota
	Daily
	Weekly
)

// Interval returns the sampling interval.
func (g Granularity) Interval() time.Duration {
	switch g {
	case Hourly:
		return time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (g Granularity) String() string {
	switch g {
	case Hourly:
		return "hourly"
	case Weekly:
		return "weekly"
	default:
		return "daily"
	}
}

// Days returns the lookback in days.
func (r TimeRange) Days() int {
	switch r {
	case Range24H:
		return 1
	case Range1W:
		return 7
	case Range1M:
		return 30
	case Range3M:
		return 90
	case Range6M:
		return 180
	case Range1Y:
		return 365
	case Range2Y:
		return 730
	case RangeAllTime:
		return 5000
	default:
		return 30
	}
}

// Lookback returns the window length as a duration.
func (r TimeRange) Lookback() time.Duration {
	return time.Duration(r.Days()) * 24 * time.Hour
}

// Start returns the first instant inside the window ending at now.
func (r TimeRange) Start(now time.Time) time.Time {
	return now.Add(-r.Lookback())
}

// Granularity returns the preferred sampling for the range.
func (r TimeRange) Granularity() Granularity {
	switch r {
	case Range24H, Range1W:
		return Hourly
	case RangeAllTime:
		return Weekly
	default:
		return Daily
	}
}

// IsShort reports whether the range needs finer samples than the retained daily history.
func (r TimeRange) IsShort() bool { return r.Granularity() == Hourly }

// ParseTimeRange resolves a range label (case-insensitive).
func ParseTimeRange(s string) (TimeRange, error) {
	s = strings.TrimSpace(s)
	for _, r := range AllRanges {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown time range %q", s)
}
