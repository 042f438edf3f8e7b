package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pricewatch/internal/logger"
	"pricewatch/internal/model"
)

var now0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now0 }

// daily returns n daily points, the last one stamped newest.
func daily(n int, newest time.Time) model.Series {
	s := make(model.Series, n)
	for i := range s {
		s[i] = model.Point{TS: newest.AddDate(0, 0, -(n - 1 - i)), Value: 30000 + float64(i)}
	}
	return s
}

// hourly returns n hourly points, the last one stamped newest.
func hourly(n int, newest time.Time) model.Series {
	s := make(model.Series, n)
	for i := range s {
		s[i] = model.Point{TS: newest.Add(-time.Duration(n-1-i) * time.Hour), Value: 90000 + float64(i)}
	}
	return s
}

// ────────────────────────────────────────────────────────────
// Store fake
// ────────────────────────────────────────────────────────────

type memStore struct {
	mu   sync.Mutex
	data map[model.Category]model.Series

	ops      int
	replaces int

	fetchErr   error
	replaceErr error
	boundsErr  error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[model.Category]model.Series)}
}

func (m *memStore) seed(cat model.Category, s model.Series) {
	m.mu.Lock()
	m.data[cat] = s.Clone()
	m.mu.Unlock()
}

func (m *memStore) get(cat model.Category) model.Series {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[cat].Clone()
}

func (m *memStore) opCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops
}

func (m *memStore) Fetch(_ context.Context, cat model.Category, since *time.Time, limit int) (model.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	s := m.data[cat]
	if since != nil {
		s = s.Since(*since)
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s.Clone(), nil
}

func (m *memStore) bound(cat model.Category, newest bool) (model.Point, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	if m.boundsErr != nil {
		return model.Point{}, false, m.boundsErr
	}
	if newest {
		p, ok := m.data[cat].Last()
		return p, ok, nil
	}
	p, ok := m.data[cat].First()
	return p, ok, nil
}

func (m *memStore) Latest(_ context.Context, cat model.Category) (model.Point, bool, error) {
	return m.bound(cat, true)
}

func (m *memStore) Oldest(_ context.Context, cat model.Category) (model.Point, bool, error) {
	return m.bound(cat, false)
}

func (m *memStore) ReplaceAll(_ context.Context, cat model.Category, s model.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	m.replaces++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.data[cat] = s.Clone()
	return nil
}

func (m *memStore) Append(_ context.Context, cat model.Category, s model.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	m.data[cat] = append(m.data[cat], s...).Sorted()
	return nil
}

func (m *memStore) Delete(_ context.Context, cat model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	delete(m.data, cat)
	return nil
}

func (m *memStore) Close() error { return nil }

// ────────────────────────────────────────────────────────────
// Provider fakes
// ────────────────────────────────────────────────────────────

type fakeProvider struct {
	history model.Series
	histErr error
	ranged  model.Series

	historyCalls atomic.Int32
	rangeCalls   atomic.Int32
	lastSpan     atomic.Int32

	// When non-nil, FetchFullHistory signals entered then waits for release.
	entered chan struct{}
	release chan struct{}
}

func (p *fakeProvider) FetchFullHistory(ctx context.Context, _ model.Category) (model.Series, error) {
	p.historyCalls.Add(1)
	if p.entered != nil {
		p.entered <- struct{}{}
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.histErr != nil {
		return nil, p.histErr
	}
	return p.history.Clone(), nil
}

func (p *fakeProvider) FetchRange(_ context.Context, _ model.Category, spanDays int) (model.Series, error) {
	p.rangeCalls.Add(1)
	p.lastSpan.Store(int32(spanDays))
	return p.ranged.Clone(), nil
}

func (p *fakeProvider) calls() int {
	return int(p.historyCalls.Load() + p.rangeCalls.Load())
}

type quotingProvider struct {
	*fakeProvider
	quote    model.Point
	quoteErr error
}

func (q *quotingProvider) FetchQuote(context.Context, model.Category) (model.Point, error) {
	return q.quote, q.quoteErr
}

var errUpstream = &model.TransportError{Op: "history", StatusCode: 503, Err: errors.New("service unavailable")}

func newTestCoordinator(store model.SeriesStore, provider model.SeriesProvider, window model.TimeRange) *Coordinator {
	return New(store, provider, Options{
		Policy: DefaultPolicy(),
		Logger: logger.Discard(),
		Now:    fixedClock,
		Initial: View{
			Window:    window,
			Selection: model.DefaultSelection(),
		},
	})
}
