// Package store opens the configured model.SeriesStore backend.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"pricewatch/config"
	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
	buntstore "pricewatch/internal/store/bunt"
	redisstore "pricewatch/internal/store/redis"
	sqlitestore "pricewatch/internal/store/sqlite"
)

// Backend is an opened store plus its liveness probe.
type Backend struct {
	model.SeriesStore

	Name string

	// Probe records store reachability on a HealthStatus.
	Probe func(ctx context.Context, h *metrics.HealthStatus)

	// Redis is set for the redis backend only.
	Redis *redisstore.Store
}

// Open opens the backend named by cfg.Store.Backend.
func Open(cfg *config.Config, log *slog.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case "redis":
		s, err := redisstore.New(redisstore.Config{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{
			SeriesStore: s,
			Name:        "redis",
			Redis:       s,
			Probe:       func(ctx context.Context, h *metrics.HealthStatus) { h.CheckRedis(ctx, s.Client()) },
		}, nil

	case "bunt":
		s, err := buntstore.Open(cfg.Store.BuntPath, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			SeriesStore: s,
			Name:        "bunt",
			Probe: func(ctx context.Context, h *metrics.HealthStatus) {
				_, _, err := s.Latest(ctx, model.CategoryPrice)
				h.SetStoreOK(err == nil)
			},
		}, nil

	case "sqlite", "":
		s, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.Store.SQLitePath, Logger: log})
		if err != nil {
			return nil, err
		}
		return &Backend{
			SeriesStore: s,
			Name:        "sqlite",
			Probe:       func(ctx context.Context, h *metrics.HealthStatus) { h.CheckSQLite(ctx, s.DB()) },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
