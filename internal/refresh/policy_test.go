package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricewatch/internal/model"
)

func TestPolicy_NeedsRefresh(t *testing.T) {
	p := DefaultPolicy()
	day := 24 * time.Hour

	cases := []struct {
		name           string
		oldest, newest time.Time
		want           bool
	}{
		{"empty cache", time.Time{}, time.Time{}, true},
		{"newest older than stale threshold", now0.Add(-1500 * day), now0.Add(-2 * time.Hour), true},
		{"newest exactly at threshold", now0.Add(-1500 * day), now0.Add(-time.Hour), false},
		{"span shorter than minimum", now0.Add(-100 * day), now0.Add(-time.Minute), true},
		{"span one day short", now0.Add(-1399 * day), now0, true},
		{"span exactly minimum", now0.Add(-1400 * day), now0, false},
		{"fresh and deep", now0.Add(-4000 * day), now0.Add(-10 * time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.NeedsRefresh(tc.oldest, tc.newest, now0))
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	err := Policy{StaleAfter: 0, MinHistorySpan: model.LongestLookback}.Validate()
	require.Error(t, err)

	err = Policy{StaleAfter: time.Hour, MinHistorySpan: 200 * 24 * time.Hour}.Validate()
	require.ErrorContains(t, err, "longest lookback")
}
