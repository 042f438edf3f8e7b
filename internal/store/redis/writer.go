package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pricewatch/internal/model"
)

// zaddChunk bounds the members sent in one ZADD.
const zaddChunk = 1000

// Config configures the Redis store.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // default "pricewatch"
	Logger    *slog.Logger
}

// Store keeps each category in a sorted set scored by unix milliseconds.
// Members are "<ms>:<seq>:<value>" with a zero-padded per-category sequence,
// so points sharing a timestamp stay distinct and sort in insertion order.
type Store struct {
	client *goredis.Client
	prefix string
	log    *slog.Logger
}

var _ model.SeriesStore = (*Store)(nil)

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// New creates a Redis store and pings the server.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pricewatch"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log := cfg.Logger.With("component", "redis")
	log.Info("connected", "addr", cfg.Addr)
	return &Store{client: client, prefix: cfg.KeyPrefix, log: log}, nil
}

func (s *Store) key(category model.Category) string {
	return s.prefix + ":series:" + string(category)
}

func (s *Store) seqKey(category model.Category) string {
	return s.prefix + ":seq:" + string(category)
}

func member(p model.Point, seq int64) *goredis.Z {
	ms := p.TS.UnixMilli()
	return &goredis.Z{
		Score:  float64(ms),
		Member: fmt.Sprintf("%d:%012d:%s", ms, seq, strconv.FormatFloat(p.Value, 'g', -1, 64)),
	}
}

// ReplaceAll swaps the category's sorted set inside MULTI/EXEC.
func (s *Store) ReplaceAll(ctx context.Context, category model.Category, points model.Series) error {
	key := s.key(category)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Set(ctx, s.seqKey(category), len(points), 0)
		addPoints(ctx, pipe, key, points, 0)
		return nil
	})
	if err != nil {
		return persistErr("replace", category, err)
	}
	s.log.Debug("replaced series", "category", string(category), "points", len(points))
	return nil
}

// Append adds points after the stored ones. A point whose timestamp is
// already stored is kept alongside it and reads back after it.
func (s *Store) Append(ctx context.Context, category model.Category, points model.Series) error {
	if len(points) == 0 {
		return nil
	}
	// Reserve a sequence block first; the reserved numbers are never reused.
	end, err := s.client.IncrBy(ctx, s.seqKey(category), int64(len(points))).Result()
	if err != nil {
		return persistErr("append", category, err)
	}
	key := s.key(category)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		addPoints(ctx, pipe, key, points, end-int64(len(points)))
		return nil
	})
	if err != nil {
		return persistErr("append", category, err)
	}
	return nil
}

// Delete drops the category's sorted set.
func (s *Store) Delete(ctx context.Context, category model.Category) error {
	if err := s.client.Del(ctx, s.key(category), s.seqKey(category)).Err(); err != nil {
		return persistErr("delete", category, err)
	}
	return nil
}

// addPoints queues ZADDs numbering points from seq+1.
func addPoints(ctx context.Context, pipe goredis.Pipeliner, key string, points model.Series, seq int64) {
	for start := 0; start < len(points); start += zaddChunk {
		end := min(start+zaddChunk, len(points))
		members := make([]*goredis.Z, 0, end-start)
		for i, p := range points[start:end] {
			members = append(members, member(p, seq+int64(start+i)+1))
		}
		pipe.ZAdd(ctx, key, members...)
	}
}

func persistErr(op string, category model.Category, err error) error {
	return &model.PersistenceError{Op: op, Category: string(category), Err: err}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
