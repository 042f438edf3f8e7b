package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Point is a single observation of a series at an instant.
type Point struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// MarshalJSON encodes the point as a compact [unix_ms, value] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{float64(p.TS.UnixMilli()), p.Value})
}

// UnmarshalJSON decodes a [unix_ms, value] pair.
func (p *Point) UnmarshalJSON(b []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	p.TS = time.UnixMilli(int64(pair[0])).UTC()
	p.Value = pair[1]
	return nil
}

// Series is an ordered sequence of points, oldest first.
// Timestamps are non-decreasing; ties are tolerated and never deduplicated.
type Series []Point

// Since returns the tail of the series with TS >= start.
// The result shares the backing array with s.
func (s Series) Since(start time.Time) Series {
	for i, p := range s {
		if !p.TS.Before(start) {
			return s[i:]
		}
	}
	return s[len(s):]
}

// First returns the oldest point.
func (s Series) First() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[0], true
}

// Last returns the newest point.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// Span returns the duration between the oldest and newest point.
func (s Series) Span() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].TS.Sub(s[0].TS)
}

// Clone returns a copy that does not share memory with s.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Sorted returns s ordered oldest first. Points with equal timestamps keep
// their relative order. s is returned as is when already sorted.
func (s Series) Sorted() Series {
	if sort.SliceIsSorted(s, func(i, j int) bool { return s[i].TS.Before(s[j].TS) }) {
		return s
	}
	out := s.Clone()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
