package indicator

import "pricewatch/internal/model"

// SMAState calculates a Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer; each step adds the entering value and
// subtracts the one leaving the window.
type SMAState struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new streaming SMA with the given period.
func NewSMA(period int) *SMAState {
	return &SMAState{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMAState) Update(v float64) {
	if s.count >= s.period {
		// Window full: slide by the difference of entering and leaving values.
		s.sum += v - s.buf[s.idx]
	} else {
		s.sum += v
	}

	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMAState) Value() float64 { return s.current }
func (s *SMAState) Ready() bool    { return s.count >= s.period }

// SMA returns the simple moving average of s over period points.
//
// The first output point is stamped with s[period-1].TS and the result has
// len(s)-period+1 points. Fewer than period inputs (or period <= 0) yields an
// empty series: insufficient history is not an error.
func SMA(s model.Series, period int) model.Series {
	if period <= 0 {
		return nil
	}
	return run(NewSMA(period), s, period)
}
