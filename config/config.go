package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"pricewatch/internal/model"
	"pricewatch/internal/refresh"
)

// CronParser accepts six-field specs with a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var validate = newValidator()

// Config holds all application configuration.
type Config struct {
	Store struct {
		Backend       string `yaml:"backend" default:"sqlite" validate:"oneof=sqlite bunt redis"`
		SQLitePath    string `yaml:"sqlite_path" default:"data/pricewatch.db"`
		BuntPath      string `yaml:"bunt_path" default:"data/pricewatch.bunt"`
		RedisAddr     string `yaml:"redis_addr" default:"localhost:6379" validate:"required_if=Backend redis"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	} `yaml:"store"`

	HTTP struct {
		Addr        string `yaml:"addr" default:":8080" validate:"required"`
		MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	} `yaml:"http"`

	Refresh struct {
		StaleAfter     string `yaml:"stale_after" default:"1h" validate:"duration"`
		MinHistorySpan string `yaml:"min_history_span" default:"1400d" validate:"duration"`
		Cron           string `yaml:"cron" default:"0 */15 * * * *" validate:"cron"`
		RetryMin       string `yaml:"retry_min" default:"30s" validate:"duration"`
		RetryMax       string `yaml:"retry_max" default:"15m" validate:"duration"`
	} `yaml:"refresh"`

	Provider struct {
		ChartBaseURL    string `yaml:"chart_base_url" default:"https://api.coingecko.com" validate:"url"`
		QuoteBaseURL    string `yaml:"quote_base_url" default:"https://mempool.space" validate:"url"`
		CoinID          string `yaml:"coin_id" default:"bitcoin" validate:"required"`
		Currency        string `yaml:"currency" default:"usd" validate:"required"`
		Timeout         string `yaml:"timeout" default:"15s" validate:"duration"`
		BreakerFailures int    `yaml:"breaker_failures" default:"5" validate:"gte=1"`
		BreakerCooldown string `yaml:"breaker_cooldown" default:"30s" validate:"duration"`
	} `yaml:"provider"`

	Display struct {
		DefaultRange    string `yaml:"default_range" default:"1M" validate:"timerange"`
		DefaultOverlays string `yaml:"default_overlays" default:"ma-200w,band" validate:"overlays"`
	} `yaml:"display"`

	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads config from a YAML file, applies environment variable
// overrides, fills defaults and validates the result. A missing file is not
// an error; path "" skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, describe(err)
	}

	if err := cfg.Policy().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with non-empty environment variables.
func (c *Config) applyEnv() error {
	setEnv(&c.Store.Backend, "STORE_BACKEND")
	setEnv(&c.Store.SQLitePath, "SQLITE_PATH")
	setEnv(&c.Store.BuntPath, "BUNT_PATH")
	setEnv(&c.Store.RedisAddr, "REDIS_ADDR")
	setEnv(&c.Store.RedisPassword, "REDIS_PASSWORD")
	setEnv(&c.HTTP.Addr, "HTTP_ADDR")
	setEnv(&c.HTTP.MetricsAddr, "METRICS_ADDR")
	setEnv(&c.Refresh.StaleAfter, "STALE_AFTER")
	setEnv(&c.Refresh.MinHistorySpan, "MIN_HISTORY_SPAN")
	setEnv(&c.Refresh.Cron, "REFRESH_CRON")
	setEnv(&c.Provider.ChartBaseURL, "CHART_BASE_URL")
	setEnv(&c.Provider.QuoteBaseURL, "QUOTE_BASE_URL")
	setEnv(&c.Display.DefaultRange, "DEFAULT_RANGE")
	setEnv(&c.Display.DefaultOverlays, "DEFAULT_OVERLAYS")
	setEnv(&c.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REDIS_DB: %w", err)
		}
		c.Store.RedisDB = n
	}
	return nil
}

func setEnv(dst *string, key string) {
	if v := getEnv(key, ""); v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// Policy returns the refresh policy. Durations were validated by Load.
func (c *Config) Policy() refresh.Policy {
	return refresh.Policy{
		StaleAfter:     mustDuration(c.Refresh.StaleAfter),
		MinHistorySpan: mustDuration(c.Refresh.MinHistorySpan),
	}
}

// DefaultView returns the window and overlays shown before the caller picks any.
func (c *Config) DefaultView() refresh.View {
	r, err := model.ParseTimeRange(c.Display.DefaultRange)
	if err != nil {
		r = model.DefaultRange
	}
	sel, err := model.ParseSelection(c.Display.DefaultOverlays)
	if err != nil {
		sel = model.DefaultSelection()
	}
	return refresh.View{Window: r, Selection: sel}
}

// Duration parses one of the config's duration strings, e.g. c.Provider.Timeout.
func (c *Config) Duration(s string) time.Duration {
	return mustDuration(s)
}

func mustDuration(s string) time.Duration {
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := str2duration.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("timerange", func(fl validator.FieldLevel) bool {
		_, err := model.ParseTimeRange(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("overlays", func(fl validator.FieldLevel) bool {
		_, err := model.ParseSelection(fl.Field().String())
		return err == nil
	})
	return v
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		ns := e.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", ns, e.Tag(), e.Value()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}
