// Package history persists watering events and answers "how much did this
// zone already get" queries for the balance calculation.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LeonardoBeccarini/irrigate/internal/model"
)

// ErrUnavailable is returned when the store cannot be reached. Like the
// weather source, an unreachable store is fatal before scheduling begins.
var ErrUnavailable = errors.New("history: store unavailable")

// Store is the append-only watering log on SQLite.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS watering_events (
		id            TEXT PRIMARY KEY,
		zone_id       TEXT NOT NULL,
		ts            DATETIME NOT NULL,
		liters        REAL NOT NULL,
		mm_equivalent REAL NOT NULL,
		duration_s    REAL NOT NULL,
		outcome       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_zone_ts ON watering_events(zone_id, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

// Append writes one watering event. Events are never updated or deleted.
func (s *Store) Append(ctx context.Context, ev model.WateringEvent) error {
	query := `INSERT INTO watering_events (id, zone_id, ts, liters, mm_equivalent, duration_s, outcome)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.ZoneID, ev.Timestamp.UTC(), ev.Liters, ev.MMEquivalent, ev.DurationS, string(ev.Outcome))
	if err != nil {
		return fmt.Errorf("history: insert event for zone %s: %w", ev.ZoneID, err)
	}
	return nil
}

// SumWateredMM totals the mm already delivered to a zone in [from, to).
func (s *Store) SumWateredMM(ctx context.Context, zoneID string, from, to time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(mm_equivalent), 0) FROM watering_events
	          WHERE zone_id = ? AND ts >= ? AND ts < ?`
	var sum float64
	err := s.db.QueryRowContext(ctx, query, zoneID, from.UTC(), to.UTC()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("history: sum watered for zone %s: %w", zoneID, err)
	}
	return sum, nil
}

// Ping reports whether the store is reachable (used by /healthz).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
