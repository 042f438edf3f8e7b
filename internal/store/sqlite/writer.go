package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"pricewatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/pricewatch.db"
	Logger *slog.Logger
}

// Store is a model.SeriesStore backed by a single SQLite table.
// All access is serialised over one connection.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ model.SeriesStore = (*Store)(nil)

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open creates the database with WAL mode and schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := cfg.Logger.With("component", "sqlite")
	log.Info("opened database", "path", cfg.DBPath)
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS series_points (
			id       INTEGER PRIMARY KEY,
			category TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			value    REAL    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_series_points_category_ts
			ON series_points (category, ts, id);
	`)
	return err
}

// ReplaceAll deletes every point of category and inserts points in a single
// transaction. Points sharing a timestamp are all kept, in input order.
func (s *Store) ReplaceAll(ctx context.Context, category model.Category, points model.Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("replace", category, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM series_points WHERE category = ?`, string(category)); err != nil {
		tx.Rollback()
		return persistErr("replace", category, err)
	}
	if err := insertBatch(ctx, tx, category, points); err != nil {
		tx.Rollback()
		return persistErr("replace", category, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("replace", category, err)
	}

	s.log.Debug("replaced series", "category", string(category), "points", len(points))
	return nil
}

// Append inserts points after the stored ones. A point whose timestamp is
// already stored is kept alongside it and reads back after it.
func (s *Store) Append(ctx context.Context, category model.Category, points model.Series) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("append", category, err)
	}
	if err := insertBatch(ctx, tx, category, points); err != nil {
		tx.Rollback()
		return persistErr("append", category, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("append", category, err)
	}
	return nil
}

// Delete removes every point of category.
func (s *Store) Delete(ctx context.Context, category model.Category) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM series_points WHERE category = ?`, string(category)); err != nil {
		return persistErr("delete", category, err)
	}
	return nil
}

// insertBatch inserts points with one prepared statement inside tx. Row ids
// grow with insertion order and break timestamp ties on read.
func insertBatch(ctx context.Context, tx *sql.Tx, category model.Category, points model.Series) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_points (category, ts, value)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, string(category), p.TS.UnixMilli(), p.Value); err != nil {
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
	return s.db.Close()
}
