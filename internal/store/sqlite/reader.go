package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pricewatch/internal/model"
)

// Fetch reads points of category ascending by timestamp. A nil since reads
// from the beginning; limit > 0 keeps the oldest limit points.
func (s *Store) Fetch(ctx context.Context, category model.Category, since *time.Time, limit int) (model.Series, error) {
	var sinceMS int64 = -1 << 62
	if since != nil {
		sinceMS = since.UnixMilli()
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value
		FROM series_points
		WHERE category = ? AND ts >= ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, string(category), sinceMS, limit)
	if err != nil {
		return nil, persistErr("fetch", category, err)
	}
	defer rows.Close()

	var out model.Series
	for rows.Next() {
		var tsMS int64
		var p model.Point
		if err := rows.Scan(&tsMS, &p.Value); err != nil {
			return nil, persistErr("fetch", category, err)
		}
		p.TS = time.UnixMilli(tsMS).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("fetch", category, err)
	}
	return out, nil
}

// Latest returns the newest point of category.
func (s *Store) Latest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(ctx, category, "latest", `SELECT ts, value FROM series_points WHERE category = ? ORDER BY ts DESC, id DESC LIMIT 1`)
}

// Oldest returns the oldest point of category.
func (s *Store) Oldest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(ctx, category, "oldest", `SELECT ts, value FROM series_points WHERE category = ? ORDER BY ts ASC, id ASC LIMIT 1`)
}

func (s *Store) edge(ctx context.Context, category model.Category, op, query string) (model.Point, bool, error) {
	var tsMS int64
	var p model.Point
	err := s.db.QueryRowContext(ctx, query, string(category)).Scan(&tsMS, &p.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Point{}, false, nil
	}
	if err != nil {
		return model.Point{}, false, persistErr(op, category, err)
	}
	p.TS = time.UnixMilli(tsMS).UTC()
	return p, true, nil
}
