// Package bunt is an embedded model.SeriesStore on BuntDB. Each point is a
// key "pt:<category>:<zero-padded unix ms>:<zero-padded seq>" holding the
// JSON [ms, value] pair, so the primary key order is chronological order
// with ties kept in insertion order. The per-category sequence lives under
// "seq:<category>".
package bunt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	"pricewatch/internal/model"
)

// Store implements model.SeriesStore using BuntDB.
type Store struct {
	db  *buntdb.DB
	log *slog.Logger
}

var _ model.SeriesStore = (*Store)(nil)

// FromMemory creates an in-memory store.
func FromMemory() (*Store, error) {
	return Open(":memory:", nil)
}

// Open opens or creates a file-backed store. path ":memory:" keeps
// everything in memory.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("buntdb mkdir: %w", err)
		}
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}
	return &Store{db: db, log: log.With("component", "buntdb")}, nil
}

func prefix(category model.Category) string {
	return "pt:" + string(category) + ":"
}

// tsKey is the common prefix of every key of category at ts.
func tsKey(category model.Category, ts time.Time) string {
	return fmt.Sprintf("%s%020d", prefix(category), ts.UnixMilli())
}

func key(category model.Category, ts time.Time, seq uint64) string {
	return fmt.Sprintf("%s:%010d", tsKey(category, ts), seq)
}

func seqKey(category model.Category) string {
	return "seq:" + string(category)
}

// upper is a bound above every key of category.
func upper(category model.Category) string {
	return prefix(category) + "~"
}

func encode(p model.Point) (string, error) {
	if p.TS.UnixMilli() < 0 {
		return "", fmt.Errorf("timestamp %v before epoch", p.TS)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(value string) (model.Point, error) {
	var p model.Point
	err := json.Unmarshal([]byte(value), &p)
	return p, err
}

// Fetch returns points of category ascending. A nil since reads from the
// beginning; limit > 0 keeps the oldest limit points.
func (s *Store) Fetch(ctx context.Context, category model.Category, since *time.Time, limit int) (model.Series, error) {
	from := prefix(category)
	if since != nil && since.UnixMilli() > 0 {
		from = tsKey(category, *since)
	}

	var out model.Series
	var decodeErr error
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendRange("", from, upper(category), func(_, value string) bool {
			p, err := decode(value)
			if err != nil {
				decodeErr = err
				return false
			}
			out = append(out, p)
			return limit <= 0 || len(out) < limit
		})
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, persistErr("fetch", category, err)
	}
	return out, nil
}

// Latest returns the newest point of category.
func (s *Store) Latest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(category, "latest", func(tx *buntdb.Tx, iter func(k, v string) bool) error {
		return tx.DescendRange("", upper(category), prefix(category), iter)
	})
}

// Oldest returns the oldest point of category.
func (s *Store) Oldest(ctx context.Context, category model.Category) (model.Point, bool, error) {
	return s.edge(category, "oldest", func(tx *buntdb.Tx, iter func(k, v string) bool) error {
		return tx.AscendRange("", prefix(category), upper(category), iter)
	})
}

func (s *Store) edge(category model.Category, op string, walk func(*buntdb.Tx, func(k, v string) bool) error) (model.Point, bool, error) {
	var (
		p     model.Point
		found bool
		derr  error
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return walk(tx, func(_, value string) bool {
			p, derr = decode(value)
			found = derr == nil
			return false
		})
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return model.Point{}, false, persistErr(op, category, err)
	}
	return p, found, nil
}

// ReplaceAll removes every point of category and writes points in one
// Update transaction.
func (s *Store) ReplaceAll(ctx context.Context, category model.Category, points model.Series) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if err := deleteCategory(tx, category); err != nil {
			return err
		}
		return setAll(tx, category, points, 0)
	})
	if err != nil {
		return persistErr("replace", category, err)
	}
	s.log.Debug("replaced series", "category", string(category), "points", len(points))
	return nil
}

// Append writes points after the stored ones. A point whose timestamp is
// already stored is kept alongside it and reads back after it.
func (s *Store) Append(ctx context.Context, category model.Category, points model.Series) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		seq, err := lastSeq(tx, category)
		if err != nil {
			return err
		}
		return setAll(tx, category, points, seq)
	})
	if err != nil {
		return persistErr("append", category, err)
	}
	return nil
}

// Delete removes every point of category.
func (s *Store) Delete(ctx context.Context, category model.Category) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		return deleteCategory(tx, category)
	})
	if err != nil {
		return persistErr("delete", category, err)
	}
	return nil
}

func lastSeq(tx *buntdb.Tx, category model.Category) (uint64, error) {
	v, err := tx.Get(seqKey(category))
	if errors.Is(err, buntdb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// setAll writes points with sequence numbers following seq.
func setAll(tx *buntdb.Tx, category model.Category, points model.Series, seq uint64) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		v, err := encode(p)
		if err != nil {
			return fmt.Errorf("failed to encode point: %w", err)
		}
		seq++
		if _, _, err := tx.Set(key(category, p.TS, seq), v, nil); err != nil {
			return fmt.Errorf("failed to store point: %w", err)
		}
	}
	_, _, err := tx.Set(seqKey(category), strconv.FormatUint(seq, 10), nil)
	return err
}

// deleteCategory collects the keys first; buntdb forbids mutation while iterating.
func deleteCategory(tx *buntdb.Tx, category model.Category) error {
	var keys []string
	err := tx.AscendRange("", prefix(category), upper(category), func(k, _ string) bool {
		keys = append(keys, k)
		return true
	})
	if err != nil {
		return err
	}
	keys = append(keys, seqKey(category))
	for _, k := range keys {
		if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
	}
	return nil
}

func persistErr(op string, category model.Category, err error) error {
	return &model.PersistenceError{Op: op, Category: string(category), Err: err}
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
