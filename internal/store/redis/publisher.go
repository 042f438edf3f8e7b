package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel returns the pub/sub channel state updates for category go to.
func (s *Store) Channel(category string) string {
	return s.prefix + ":updates:" + category
}

// Publish sends v as JSON on the category's update channel and returns the
// number of subscribers that received it.
func (s *Store) Publish(ctx context.Context, category string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal update: %w", err)
	}
	n, err := s.client.Publish(ctx, s.Channel(category), data).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return n, nil
}
