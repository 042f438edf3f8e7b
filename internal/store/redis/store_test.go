package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricewatch/internal/logger"
	"pricewatch/internal/model"
)

var (
	ctx = context.Background()
	t0  = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

// newTestStore connects to REDIS_ADDR under a unique key prefix.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := New(Config{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		KeyPrefix: fmt.Sprintf("pricewatch-test-%d", time.Now().UnixNano()),
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Delete(ctx, model.CategoryPrice)
		s.Close()
	})
	return s
}

func daily(n int, from time.Time, base float64) model.Series {
	out := make(model.Series, n)
	for i := range out {
		out[i] = model.Point{TS: from.AddDate(0, 0, i), Value: base + float64(i) + 0.25}
	}
	return out
}

func TestParseMember(t *testing.T) {
	p, err := parseMember("1700000000000:000000000042:37123.5")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), p.TS.UnixMilli())
	require.Equal(t, 37123.5, p.Value)

	z := member(p, 42)
	require.Equal(t, "1700000000000:000000000042:37123.5", z.Member)
	require.Equal(t, float64(1700000000000), z.Score)

	// Ties at one score order by sequence.
	require.Less(t, member(p, 9).Member.(string), member(p, 10).Member.(string))

	for _, bad := range []string{"", "nocolon", "1:2", "x:1:1", "1:s:1", "1:2:y"} {
		_, err := parseMember(bad)
		require.Error(t, err, bad)
	}
}

func TestStore_ReplaceAllRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := daily(2500, t0, 100) // spans several ZADD chunks

	require.NoError(t, s.ReplaceAll(ctx, model.CategoryPrice, in))

	out, err := s.Fetch(ctx, model.CategoryPrice, nil, 0)
	require.NoError(t, err)
	require.Equal(t, in, out)

	latest, ok, err := s.Latest(ctx, model.CategoryPrice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in[len(in)-1], latest)

	oldest, ok, err := s.Oldest(ctx, model.CategoryPrice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in[0], oldest)
}

func TestStore_ReplaceAllDropsPrevious(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceAll(ctx, model.CategoryPrice, daily(10, t0, 0)))
	require.NoError(t, s.ReplaceAll(ctx, model.CategoryPrice, daily(3, t0.AddDate(1, 0, 0), 50)))

	out, err := s.Fetch(ctx, model.CategoryPrice, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestStore_FetchSinceLimitAppend(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ReplaceAll(ctx, model.CategoryPrice, daily(20, t0, 0)))

	since := t0.AddDate(0, 0, 15)
	out, err := s.Fetch(ctx, model.CategoryPrice, &since, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.True(t, out[0].TS.Equal(since))

	require.NoError(t, s.Append(ctx, model.CategoryPrice, model.Series{{TS: since, Value: 1}}))
	out, err = s.Fetch(ctx, model.CategoryPrice, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 21, "append at an existing timestamp keeps both points")
	require.Equal(t, 15.25, out[15].Value)
	require.Equal(t, 1.0, out[16].Value)
}

func TestStore_TimestampTiesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := daily(1500, t0, 30000)
	newest := in[len(in)-1]
	// Same timestamp and same value must not collapse into one member either.
	in = append(in, newest, model.Point{TS: newest.TS, Value: 1})

	require.NoError(t, s.ReplaceAll(ctx, model.CategoryPrice, in))

	out, err := s.Fetch(ctx, model.CategoryPrice, nil, 0)
	require.NoError(t, err)
	require.Equal(t, in, out)

	latest, _, err := s.Latest(ctx, model.CategoryPrice)
	require.NoError(t, err)
	require.Equal(t, 1.0, latest.Value)
}

func TestStore_EmptyCategory(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Latest(ctx, model.CategoryPrice)
	require.NoError(t, err)
	require.False(t, ok)
}
