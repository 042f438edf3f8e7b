package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the price-watch service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshTotal   *prometheus.CounterVec // labels: result=ok|fetch_error|persist_error|fresh
	LoadSkipped    prometheus.Counter
	ProviderFetch  *prometheus.HistogramVec // labels: op=history|range|quote
	StoreOp        *prometheus.HistogramVec // labels: op=fetch|replace|latest|oldest
	StoreReadErrs  prometheus.Counter
	OverlayCompute prometheus.Histogram
	CachedPoints   prometheus.Gauge

	// Circuit breaker (0=closed, 1=open, 2=half-open)
	BreakerState prometheus.Gauge
	BreakerTrips prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg. A nil reg
// registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_refresh_total",
			Help: "Refresh attempts by outcome",
		}, []string{"result"}),
		LoadSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_load_skipped_total",
			Help: "Load calls ignored because another load was in flight",
		}),
		ProviderFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricewatch_provider_fetch_duration_seconds",
			Help:    "Upstream fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		StoreOp: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricewatch_store_op_duration_seconds",
			Help:    "Series store operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		StoreReadErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_store_read_errors_total",
			Help: "Cache reads that failed and were served as empty",
		}),
		OverlayCompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_overlay_compute_duration_seconds",
			Help:    "Overlay composition latency over the full history",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		CachedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricewatch_cached_points",
			Help: "Points in the full history currently held",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricewatch_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_breaker_trips_total",
			Help: "Times the provider circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.RefreshTotal,
		m.LoadSkipped,
		m.ProviderFetch,
		m.StoreOp,
		m.StoreReadErrs,
		m.OverlayCompute,
		m.CachedPoints,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.LoadSkipped.Inc()
}

// ObserveFetch records the time since start for a provider op.
func (m *Metrics) ObserveFetch(op string, start time.Time) {
	if m == nil {
		return
	}
	m.ProviderFetch.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveStore records the time since start for a store op.
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreOp.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) StoreReadError() {
	if m == nil {
		return
	}
	m.StoreReadErrs.Inc()
}

func (m *Metrics) ObserveOverlay(d time.Duration) {
	if m == nil {
		return
	}
	m.OverlayCompute.Observe(d.Seconds())
}

func (m *Metrics) SetCachedPoints(n int) {
	if m == nil {
		return
	}
	m.CachedPoints.Set(float64(n))
}

// SetBreakerState records the breaker state; tripped counts transitions to open.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
	if tripped {
		m.BreakerTrips.Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StoreBackend  string    `json:"store_backend"`
	StoreOK       bool      `json:"store_ok"`
	ProviderOK    bool      `json:"provider_ok"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	LastError     string    `json:"last_error"`

	// Liveness probe results
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(backend string) *HealthStatus {
	return &HealthStatus{
		StoreBackend: backend,
		StoreOK:      true,
		ProviderOK:   true,
		StartedAt:    time.Now(),
	}
}

// SetRefresh records the outcome of the latest refresh attempt.
func (h *HealthStatus) SetRefresh(at time.Time, errMsg string) {
	h.mu.Lock()
	h.LastRefreshAt = at
	h.LastError = errMsg
	h.ProviderOK = errMsg == ""
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.record(err, time.Since(start))
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.record(err, time.Since(start))
}

func (h *HealthStatus) record(err error, latency time.Duration) {
	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs probe every interval until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration, probe func(ctx context.Context, h *HealthStatus)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				probe(probeCtx, h)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.ProviderOK {
		overallStatus = "degraded"
	}
	if !h.StoreOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastRefresh := ""
	if !h.LastRefreshAt.IsZero() {
		lastRefresh = h.LastRefreshAt.Format(time.RFC3339)
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		StoreBackend   string  `json:"store_backend"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		ProviderOK     bool    `json:"provider_ok"`
		LastRefreshAt  string  `json:"last_refresh_at"`
		LastError      string  `json:"last_error,omitempty"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		StoreBackend:   h.StoreBackend,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		ProviderOK:     h.ProviderOK,
		LastRefreshAt:  lastRefresh,
		LastError:      h.LastError,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server. gatherer may be nil for the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log.With("component", "metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
