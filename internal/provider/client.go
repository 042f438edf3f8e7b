// Package provider fetches price history and spot quotes over HTTP.
//
// History comes from a CoinGecko-style market_chart endpoint
// ({"prices": [[unix_ms, value], ...]}); quotes come from a mempool-style
// prices endpoint ({"time": unix_s, "USD": value}). Every request goes
// through a circuit breaker. Nothing is retried here; retry policy belongs
// to the caller.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricewatch/internal/metrics"
	"pricewatch/internal/model"
)

const (
	DefaultChartBaseURL = "https://api.coingecko.com"
	DefaultQuoteBaseURL = "https://mempool.space"

	defaultTimeout     = 15 * time.Second
	defaultMaxFailures = 5
	defaultCooldown    = 30 * time.Second

	// maxDays is the span at or above which the full history is requested.
	maxDays = 5000
)

var routes = map[string]string{
	"chart": "/api/v3/coins/%s/market_chart",
	"quote": "/api/v1/prices",
}

// Config configures the HTTP provider. Zero values pick defaults.
type Config struct {
	ChartBaseURL string
	QuoteBaseURL string
	CoinID       string // default "bitcoin"
	Currency     string // default "usd"
	Timeout      time.Duration

	HTTPClient *http.Client
	Breaker    *CircuitBreaker
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client implements model.SeriesProvider and model.QuoteProvider.
type Client struct {
	chartBase string
	quoteBase string
	coinID    string
	currency  string

	http    *http.Client
	breaker *CircuitBreaker
	log     *slog.Logger
}

var (
	_ model.SeriesProvider = (*Client)(nil)
	_ model.QuoteProvider  = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.ChartBaseURL == "" {
		cfg.ChartBaseURL = DefaultChartBaseURL
	}
	if cfg.QuoteBaseURL == "" {
		cfg.QuoteBaseURL = DefaultQuoteBaseURL
	}
	if cfg.CoinID == "" {
		cfg.CoinID = "bitcoin"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(defaultMaxFailures, defaultCooldown)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		chartBase: strings.TrimRight(cfg.ChartBaseURL, "/"),
		quoteBase: strings.TrimRight(cfg.QuoteBaseURL, "/"),
		coinID:    cfg.CoinID,
		currency:  strings.ToLower(cfg.Currency),
		http:      cfg.HTTPClient,
		breaker:   cfg.Breaker,
		log:       cfg.Logger.With("component", "provider"),
	}

	prev := cfg.Breaker.OnStateChange
	prom := cfg.Metrics
	cfg.Breaker.OnStateChange = func(from, to BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		c.log.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
		prom.SetBreakerState(int(to), to == StateOpen)
	}
	return c
}

// FetchFullHistory requests every point the source has.
func (c *Client) FetchFullHistory(ctx context.Context, category model.Category) (model.Series, error) {
	if err := c.supports(category); err != nil {
		return nil, err
	}
	return c.fetchChart(ctx, "history", "max")
}

// FetchRange requests the trailing spanDays. The source picks the sample
// interval: hourly up to 90 days, daily beyond.
func (c *Client) FetchRange(ctx context.Context, category model.Category, spanDays int) (model.Series, error) {
	if err := c.supports(category); err != nil {
		return nil, err
	}
	if spanDays <= 0 {
		return nil, fmt.Errorf("provider: span must be positive, got %d", spanDays)
	}
	days := strconv.Itoa(spanDays)
	if spanDays >= maxDays {
		days = "max"
	}
	return c.fetchChart(ctx, "range", days)
}

// FetchQuote returns the current spot price.
func (c *Client) FetchQuote(ctx context.Context, category model.Category) (model.Point, error) {
	if err := c.supports(category); err != nil {
		return model.Point{}, err
	}

	var body map[string]float64
	if err := c.getJSON(ctx, "quote", c.quoteBase+routes["quote"], &body); err != nil {
		return model.Point{}, err
	}

	v, ok := body[strings.ToUpper(c.currency)]
	if !ok {
		return model.Point{}, &model.DecodeError{Op: "quote", Err: fmt.Errorf("no %s price in response", strings.ToUpper(c.currency))}
	}
	ts := time.Now().UTC()
	if sec, ok := body["time"]; ok && sec > 0 {
		ts = time.Unix(int64(sec), 0).UTC()
	}
	return model.Point{TS: ts, Value: v}, nil
}

type chartResponse struct {
	Prices [][]float64 `json:"prices"`
}

func (c *Client) fetchChart(ctx context.Context, op, days string) (model.Series, error) {
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("days", days)
	u := c.chartBase + fmt.Sprintf(routes["chart"], url.PathEscape(c.coinID)) + "?" + q.Encode()

	var body chartResponse
	if err := c.getJSON(ctx, op, u, &body); err != nil {
		return nil, err
	}

	out := make(model.Series, 0, len(body.Prices))
	for i, pair := range body.Prices {
		if len(pair) < 2 {
			return nil, &model.DecodeError{Op: op, Err: fmt.Errorf("prices[%d]: want [ts, value], got %d elements", i, len(pair))}
		}
		out = append(out, model.Point{TS: time.UnixMilli(int64(pair[0])).UTC(), Value: pair[1]})
	}
	c.log.Debug("fetched chart", "op", op, "days", days, "points", len(out))
	return out.Sorted(), nil
}

// getJSON performs a GET through the breaker and decodes the body into v.
// Transport failures count against the breaker; decode failures do not.
func (c *Client) getJSON(ctx context.Context, op, u string, v any) error {
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		b, err := c.get(ctx, op, u)
		body = b
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return &model.TransportError{Op: op, Err: err}
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &model.DecodeError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pricewatch/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		te := &model.TransportError{Op: op, StatusCode: resp.StatusCode}
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			te.Err = errors.New(msg)
		}
		return nil, te
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.TransportError{Op: op, Err: err}
	}
	return body, nil
}

func (c *Client) supports(category model.Category) error {
	if category != model.CategoryPrice {
		return fmt.Errorf("provider: unsupported category %q", category)
	}
	return nil
}
