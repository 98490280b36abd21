package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the data access layer for broadcast deduplication.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Seen reports whether an incident key has been recorded, without
	// recording it.
	Seen(ctx context.Context, key string) (bool, error)

	// MarkSeen records an incident key, returning true the first time the
	// key is observed and false on repeats. Repeats refresh last_seen.
	MarkSeen(ctx context.Context, key, roadway string) (bool, error)

	// PruneBefore deletes entries last seen before cutoff, returning the
	// number removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunMaintenance reclaims space after pruning.
	RunMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewStore creates a Store backed by sqlx.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:  db,
		log: log.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) Seen(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM seen_incidents WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up seen incident: %w", err)
	}
	return n > 0, nil
}

func (s *sqlxStore) MarkSeen(ctx context.Context, key, roadway string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("cannot mark empty incident key")
	}
	now := time.Now().UTC()

	var existing SeenIncident
	err := s.db.GetContext(ctx, &existing,
		`SELECT key, roadway, first_seen, last_seen FROM seen_incidents WHERE key = ?`, key)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE seen_incidents SET last_seen = ? WHERE key = ?`, now, key)
		if err != nil {
			return false, fmt.Errorf("failed to refresh seen incident: %w", err)
		}
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO seen_incidents (key, roadway, first_seen, last_seen) VALUES (?, ?, ?, ?)`,
			key, roadway, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert seen incident: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("failed to look up seen incident: %w", err)
	}
}

func (s *sqlxStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_incidents WHERE last_seen < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune seen incidents: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	if removed > 0 {
		s.log.InfoContext(ctx, "Pruned stale seen incidents", "removed", removed)
	}
	return removed, nil
}

func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
