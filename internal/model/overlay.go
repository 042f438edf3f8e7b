package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Indicator periods, in daily data points.
const (
	Period200Week = 200 * 7 // 1400 days
	Period200Day  = 200
	Period50Day   = 50
	Period20Week  = 20 * 7 // 140 days
	Period21Week  = 21 * 7 // 147 days
)

// LongestLookback is the history span needed by the longest indicator (200-week SMA).
const LongestLookback = Period200Week * 24 * time.Hour

// OverlayKind enumerates the derived series drawn over the price.
type OverlayKind int

const (
	MA200Week OverlayKind = iota
	MA200Day
	MA50Day
	MA20Week
	EMA21Week
	SupportBand
)

// AllOverlays lists every kind in display order.
var AllOverlays = []OverlayKind{MA200Week, MA200Day, MA50Day, MA20Week, EMA21Week, SupportBand}

// Band constituents.
const (
	BandLowerSource = MA20Week
	BandUpperSource = EMA21Week
)

var overlaySlugs = map[OverlayKind]string{
	MA200Week:   "ma-200w",
	MA200Day:    "ma-200d",
	MA50Day:     "ma-50d",
	MA20Week:    "ma-20w",
	EMA21Week:   "ema-21w",
	SupportBand: "band",
}

// String returns the stable slug used in config, URLs and JSON.
func (k OverlayKind) String() string {
	if s, ok := overlaySlugs[k]; ok {
		return s
	}
	return "unknown"
}

// Label returns the human-readable name.
func (k OverlayKind) Label() string {
	switch k {
	case MA200Week:
		return "200-Week MA"
	case MA200Day:
		return "200-Day MA"
	case MA50Day:
		return "50-Day MA"
	case MA20Week:
		return "20-Week MA"
	case EMA21Week:
		return "21-Week EMA"
	case SupportBand:
		return "Bull Market Support Band"
	default:
		return "Unknown"
	}
}

// Description explains what the overlay shows.
func (k OverlayKind) Description() string {
	switch k {
	case MA200Week:
		return "200-week moving average. Long-term trend indicator and historical support level in bull markets."
	case MA200Day:
		return "200-day moving average. Important medium-term trend indicator."
	case MA50Day:
		return "50-day moving average. Short-term trend indicator."
	case MA20Week:
		return "20-week simple moving average. Component of the support band."
	case EMA21Week:
		return "21-week exponential moving average. Component of the support band."
	case SupportBand:
		return "Band between the 20-week SMA and 21-week EMA. Bull markets typically hold above this range."
	default:
		return ""
	}
}

// Period returns the lookback in daily points. Zero for the band.
func (k OverlayKind) Period() int {
	switch k {
	case MA200Week:
		return Period200Week
	case MA200Day:
		return Period200Day
	case MA50Day:
		return Period50Day
	case MA20Week:
		return Period20Week
	case EMA21Week:
		return Period21Week
	default:
		return 0
	}
}

// Lookback returns the history span the kind needs, the band taking its longest constituent.
func (k OverlayKind) Lookback() time.Duration {
	if k.IsBand() {
		return max(BandLowerSource.Lookback(), BandUpperSource.Lookback())
	}
	return time.Duration(k.Period()) * 24 * time.Hour
}

// IsBand reports whether the kind is derived from two other series.
func (k OverlayKind) IsBand() bool { return k == SupportBand }

// IsEMA reports whether the kind is an exponential average.
func (k OverlayKind) IsEMA() bool { return k == EMA21Week }

// ParseOverlayKind resolves a slug (case-insensitive).
func ParseOverlayKind(s string) (OverlayKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, slug := range overlaySlugs {
		if slug == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown overlay %q", s)
}

// Selection is the caller-owned set of enabled overlays.
// Methods never mutate the receiver.
type Selection map[OverlayKind]bool

// DefaultSelection is the 200-week MA plus the support band.
func DefaultSelection() Selection {
	return NewSelection(MA200Week, SupportBand)
}

// NewSelection builds a selection from kinds.
func NewSelection(kinds ...OverlayKind) Selection {
	sel := make(Selection, len(kinds))
	for _, k := range kinds {
		sel[k] = true
	}
	return sel
}

// ParseSelection parses a comma-separated slug list. An empty string yields an empty selection.
func ParseSelection(s string) (Selection, error) {
	sel := Selection{}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := ParseOverlayKind(part)
		if err != nil {
			return nil, err
		}
		sel[k] = true
	}
	return sel, nil
}

// Has reports whether kind is enabled.
func (s Selection) Has(kind OverlayKind) bool { return s[kind] }

// Toggle returns a copy with kind's membership flipped.
func (s Selection) Toggle(kind OverlayKind) Selection {
	out := s.Clone()
	if out[kind] {
		delete(out, kind)
	} else {
		out[kind] = true
	}
	return out
}

// Clone copies the selection.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		if v {
			out[k] = true
		}
	}
	return out
}

// Kinds returns the enabled kinds in display order.
func (s Selection) Kinds() []OverlayKind {
	kinds := lo.Filter(lo.Keys(s), func(k OverlayKind, _ int) bool { return s[k] })
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// String renders the selection as a comma-separated slug list.
func (s Selection) String() string {
	return strings.Join(lo.Map(s.Kinds(), func(k OverlayKind, _ int) string { return k.String() }), ",")
}

// OverlaySet maps a line overlay to its windowed series.
// A missing key means the overlay is not available yet (insufficient history or not enabled).
type OverlaySet map[OverlayKind]Series

// BandPoint is one date of the filled band.
type BandPoint struct {
	TS    time.Time
	Lower float64
	Upper float64
}

// Band holds the date-aligned lower and upper bounds of the support band.
// Lower[i] and Upper[i] always share a timestamp.
type Band struct {
	Lower Series
	Upper Series
}

// Points zips the two bounds.
func (b *Band) Points() []BandPoint {
	if b == nil {
		return nil
	}
	out := make([]BandPoint, len(b.Lower))
	for i := range b.Lower {
		out[i] = BandPoint{TS: b.Lower[i].TS, Lower: b.Lower[i].Value, Upper: b.Upper[i].Value}
	}
	return out
}
