package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pricewatch/config"
	"pricewatch/internal/api"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
	"pricewatch/internal/provider"
	"pricewatch/internal/refresh"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/store"
	redisstore "pricewatch/internal/store/redis"
)

const healthInterval = 15 * time.Second

func main() {
	path := os.Getenv("PRICEWATCH_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "overlayd: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.Init("overlayd", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Store.Backend)

	backend, err := store.Open(cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	client := provider.New(provider.Config{
		ChartBaseURL: cfg.Provider.ChartBaseURL,
		QuoteBaseURL: cfg.Provider.QuoteBaseURL,
		CoinID:       cfg.Provider.CoinID,
		Currency:     cfg.Provider.Currency,
		Timeout:      cfg.Duration(cfg.Provider.Timeout),
		Breaker:      provider.NewCircuitBreaker(cfg.Provider.BreakerFailures, cfg.Duration(cfg.Provider.BreakerCooldown)),
		Metrics:      m,
		Logger:       log,
	})

	coord := refresh.New(backend, client, refresh.Options{
		Category: model.CategoryPrice,
		Policy:   cfg.Policy(),
		Metrics:  m,
		Logger:   log,
		Initial:  cfg.DefaultView(),
	})

	if backend.Redis != nil {
		go publishUpdates(ctx, coord, backend.Redis, log)
	}

	hub := api.NewHub(coord, log)
	go hub.Run(ctx)

	apiSrv := api.NewServer(cfg.HTTP.Addr, api.NewRouter(coord, hub, log), log)
	apiSrv.Start()

	var metricsSrv *metrics.Server
	if cfg.HTTP.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.HTTP.MetricsAddr, health, prometheus.DefaultGatherer, log)
		metricsSrv.Start()
	}
	health.StartLivenessChecker(ctx, healthInterval, backend.Probe)

	sched, err := scheduler.New(ctx, coord, scheduler.Config{
		Spec:     cfg.Refresh.Cron,
		RetryMin: cfg.Duration(cfg.Refresh.RetryMin),
		RetryMax: cfg.Duration(cfg.Refresh.RetryMax),
		OnResult: func(at time.Time, err error) {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			health.SetRefresh(at, msg)
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	sched.Start()

	// Present the cache right away; a failure here is retried by the scheduler.
	go sched.RunNow()

	log.Info("overlayd started",
		"backend", cfg.Store.Backend,
		"addr", cfg.HTTP.Addr,
		"window", string(cfg.DefaultView().Window),
		"overlays", cfg.DefaultView().Selection.String(),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := apiSrv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("api shutdown", "error", err)
	}
	if metricsSrv != nil {
		metricsSrv.Stop(shutdownCtx)
	}
	log.Info("overlayd stopped")
	return nil
}

// update is the summary published to the redis updates channel after every
// completed load or overlay toggle.
type update struct {
	Window    string   `json:"window"`
	Overlays  string   `json:"overlays"`
	Latest    *float64 `json:"latest,omitempty"`
	Points    int      `json:"points"`
	LastError string   `json:"last_error,omitempty"`
	UpdatedAt int64    `json:"updated_at"`
}

// publishUpdates forwards coordinator publications to redis subscribers.
// Publications while a load is running are skipped.
func publishUpdates(ctx context.Context, coord *refresh.Coordinator, rs *redisstore.Store, log *slog.Logger) {
	ch := make(chan update, 8)
	unsubscribe := coord.Subscribe(func(st refresh.State) {
		if st.Loading {
			return
		}
		u := update{
			Window:    string(st.Window),
			Overlays:  st.Selection.String(),
			Points:    len(st.FullHistory),
			LastError: st.LastError,
			UpdatedAt: st.UpdatedAt.UnixMilli(),
		}
		if st.HasLatest {
			v := st.LatestValue
			u.Latest = &v
		}
		select {
		case ch <- u:
		default:
		}
	})
	defer unsubscribe()

	category := string(model.CategoryPrice)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-ch:
			if _, err := rs.Publish(ctx, category, u); err != nil {
				log.Warn("publish update failed", "channel", rs.Channel(category), "error", err)
			}
		}
	}
}
