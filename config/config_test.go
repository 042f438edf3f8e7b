package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricewatch/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.Equal(t, "data/pricewatch.db", cfg.Store.SQLitePath)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5, cfg.Provider.BreakerFailures)

	p := cfg.Policy()
	require.Equal(t, time.Hour, p.StaleAfter)
	require.Equal(t, model.LongestLookback, p.MinHistorySpan)

	view := cfg.DefaultView()
	require.Equal(t, model.Range1M, view.Window)
	require.Equal(t, model.DefaultSelection(), view.Selection)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, `
store:
  backend: bunt
  bunt_path: /tmp/pw.bunt
refresh:
  stale_after: 30m
  min_history_span: 210w
display:
  default_range: 1y
  default_overlays: ma-50d,ema-21w
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "bunt", cfg.Store.Backend)
	require.Equal(t, "/tmp/pw.bunt", cfg.Store.BuntPath)
	require.Equal(t, 30*time.Minute, cfg.Policy().StaleAfter)
	require.Equal(t, 210*7*24*time.Hour, cfg.Policy().MinHistorySpan)
	require.Equal(t, "debug", cfg.LogLevel)

	view := cfg.DefaultView()
	require.Equal(t, model.Range1Y, view.Window)
	require.Equal(t, []model.OverlayKind{model.MA50Day, model.EMA21Week}, view.Selection.Kinds())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  backend: bunt\nhttp:\n  addr: \":7000\"\n")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("STALE_AFTER", "2h")
	t.Setenv("DEFAULT_RANGE", "All")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "redis", cfg.Store.Backend)
	require.Equal(t, "cache:6380", cfg.Store.RedisAddr)
	require.Equal(t, 3, cfg.Store.RedisDB)
	require.Equal(t, ":7000", cfg.HTTP.Addr)
	require.Equal(t, 2*time.Hour, cfg.Policy().StaleAfter)
	require.Equal(t, model.RangeAllTime, cfg.DefaultView().Window)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend":          "store:\n  backend: postgres\n",
		"duration":         "refresh:\n  stale_after: soon\n",
		"cron":             "refresh:\n  cron: \"every hour\"\n",
		"range":            "display:\n  default_range: 5D\n",
		"overlays":         "display:\n  default_overlays: rsi\n",
		"log level":        "log_level: chatty\n",
		"short span":       "refresh:\n  min_history_span: 200d\n",
		"bad url":          "provider:\n  chart_base_url: not a url\n",
		"broken yaml":      "store: [\n",
		"negative breaker": "provider:\n  breaker_failures: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_BadRedisDBEnv(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	_, err := Load("")
	require.ErrorContains(t, err, "REDIS_DB")
}
