package model

import (
	"context"
	"time"
)

// ── Collaborator Ports ──
// These interfaces decouple the refresh logic from concrete storage
// (SQLite, BuntDB, Redis) and from the upstream HTTP APIs.

// Category identifies a logical series, e.g. "price".
type Category string

// CategoryPrice is the asset price series.
const CategoryPrice Category = "price"

// SeriesStore persists points by category.
type SeriesStore interface {
	// Fetch returns points ascending by timestamp. A nil since means from the
	// beginning; limit <= 0 means unbounded, otherwise the oldest limit points are kept.
	Fetch(ctx context.Context, category Category, since *time.Time, limit int) (Series, error)

	// Latest returns the newest stored point. ok is false when the category is empty.
	Latest(ctx context.Context, category Category) (p Point, ok bool, err error)

	// Oldest returns the oldest stored point. ok is false when the category is empty.
	Oldest(ctx context.Context, category Category) (p Point, ok bool, err error)

	// ReplaceAll deletes the category and inserts points as one atomic step.
	// Concurrent readers observe either the old or the new contents.
	ReplaceAll(ctx context.Context, category Category, points Series) error

	// Append inserts points after the stored ones; timestamp ties are kept.
	Append(ctx context.Context, category Category, points Series) error

	// Delete removes every point of the category.
	Delete(ctx context.Context, category Category) error

	// Close releases underlying resources.
	Close() error
}

// SeriesProvider fetches a series from a remote source. It never retries.
type SeriesProvider interface {
	// FetchFullHistory returns all history the source has for the category.
	FetchFullHistory(ctx context.Context, category Category) (Series, error)

	// FetchRange returns the trailing spanDays of the category, at the
	// source's native granularity for that span.
	FetchRange(ctx context.Context, category Category, spanDays int) (Series, error)
}

// QuoteProvider is implemented by providers that can return a spot value
// more current than the newest history point.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, category Category) (Point, error)
}
