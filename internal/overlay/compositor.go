// Package overlay turns a full price history and a selection of overlays into
// windowed indicator series and the support band.
package overlay

import (
	"time"

	"github.com/samber/lo"

	"pricewatch/internal/indicator"
	"pricewatch/internal/model"
)

// Result is the output of one composition.
type Result struct {
	// Lines holds the enabled line overlays that have enough history.
	Lines model.OverlaySet

	// Band is nil when the band is disabled or either constituent lacks history.
	Band *model.Band

	// Computed counts the indicator series evaluated over the full history.
	Computed int
}

// compositor memoises full-history indicator series for a single Compose call.
type compositor struct {
	history model.Series
	full    map[model.OverlayKind]model.Series
	runs    int
}

func (c *compositor) series(kind model.OverlayKind) model.Series {
	if s, ok := c.full[kind]; ok {
		return s
	}
	s := indicator.Compute(kind, c.history)
	c.full[kind] = s
	c.runs++
	return s
}

// Compose computes every enabled overlay over history and keeps the points at
// or after windowStart.
//
// history must be sorted ascending. The band's constituents are computed at
// most once, even when they are also enabled as lines.
func Compose(history model.Series, sel model.Selection, windowStart time.Time) Result {
	c := &compositor{history: history, full: make(map[model.OverlayKind]model.Series, len(sel)+2)}
	res := Result{Lines: make(model.OverlaySet, len(sel))}

	for _, kind := range sel.Kinds() {
		if kind.IsBand() {
			continue
		}
		full := c.series(kind)
		if len(full) == 0 {
			continue // not yet available
		}
		res.Lines[kind] = window(full, windowStart)
	}

	if sel.Has(model.SupportBand) {
		res.Band = band(c.series(model.BandLowerSource), c.series(model.BandUpperSource), windowStart)
	}

	res.Computed = c.runs
	return res
}

// band aligns the windowed SMA and EMA on exact timestamps and emits the
// min/max of each matching pair. Either side empty yields no band.
func band(sma, ema model.Series, windowStart time.Time) *model.Band {
	if len(sma) == 0 || len(ema) == 0 {
		return nil
	}
	sma = window(sma, windowStart)
	ema = window(ema, windowStart)

	lookup := lo.SliceToMap(ema, func(p model.Point) (int64, float64) {
		return p.TS.UnixNano(), p.Value
	})

	b := &model.Band{
		Lower: make(model.Series, 0, len(sma)),
		Upper: make(model.Series, 0, len(sma)),
	}
	for _, p := range sma {
		ev, ok := lookup[p.TS.UnixNano()]
		if !ok {
			continue
		}
		b.Lower = append(b.Lower, model.Point{TS: p.TS, Value: min(p.Value, ev)})
		b.Upper = append(b.Upper, model.Point{TS: p.TS, Value: max(p.Value, ev)})
	}
	return b
}

func window(s model.Series, start time.Time) model.Series {
	if start.IsZero() {
		return s
	}
	return s.Since(start)
}
