package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pricewatch/internal/model"
)

// Fetch reads points ascending by score. A nil since reads from the
// beginning; limit > 0 keeps the oldest limit points.
func (s *Store) Fetch(ctx context.Context, category model.Category, since *time.Time, limit int) (model.Series, error) {
	lower := "-inf"
	if since != nil {
		lower = strconv.FormatInt(since.UnixMilli(), 10)
	}
	by := &goredis.ZRangeBy{Min: lower, Max: "+inf"}
	if limit > 0 {
		by.Count = int64(limit)
	}

	members, err := s.client.ZRangeByScore(ctx, s.key(category), by).Result()
	if err != nil {
		return nil, persistErr("fetch", category, err)
	}

	out := make(model.Series, 0, len(members))
	for _, m := range members {
		p, err := parseMember(m)
		if err != nil {
			return nil, persistErr("fetch", category, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Latest returns the highest-scored point.
func (s *Store) Latest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(ctx, category, "latest", s.client.ZRevRange(ctx, s.key(category), 0, 0))
}

// Oldest returns the lowest-scored point.
func (s *Store) Oldest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(ctx, category, "oldest", s.client.ZRange(ctx, s.key(category), 0, 0))
}

func (s *Store) edge(_ context.Context, category model.Category, op string, cmd *goredis.StringSliceCmd) (model.Point, bool, error) {
	members, err := cmd.Result()
	if err != nil {
		return model.Point{}, false, persistErr(op, category, err)
	}
	if len(members) == 0 {
		return model.Point{}, false, nil
	}
	p, err := parseMember(members[0])
	if err != nil {
		return model.Point{}, false, persistErr(op, category, err)
	}
	return p, true, nil
}

func parseMember(m string) (model.Point, error) {
	parts := strings.SplitN(m, ":", 3)
	if len(parts) != 3 {
		return model.Point{}, fmt.Errorf("malformed member %q", m)
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("member %q: %w", m, err)
	}
	if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
		return model.Point{}, fmt.Errorf("member %q: sequence: %w", m, err)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("member %q: %w", m, err)
	}
	return model.Point{TS: time.UnixMilli(ms).UTC(), Value: v}, nil
}
