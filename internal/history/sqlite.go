package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SQLiteRepository implements Repository on the pin_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordEvent inserts a pin event.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev PinEvent) error {
	if ev.Pin < 0 || ev.Pin > 31 {
		return ErrInvalidPin
	}
	if ev.Level != 0 && ev.Level != 1 {
		return ErrInvalidLevel
	}
	if ev.Source == "" {
		ev.Source = SourceNotification
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pin_events (pin, level, watchdog, sequence, tick, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Pin,
		ev.Level,
		boolToInt(ev.Watchdog),
		ev.Sequence,
		ev.Tick,
		ev.Source,
		ev.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting pin event: %w", err)
	}
	return nil
}

// GetHistory returns recent events for a pin, newest first.
// limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) GetHistory(ctx context.Context, pin int, limit int) ([]PinEvent, error) {
	if pin < 0 || pin > 31 {
		return nil, ErrInvalidPin
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pin, level, watchdog, sequence, tick, source, created_at
		 FROM pin_events
		 WHERE pin = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		pin,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pin events: %w", err)
	}
	defer rows.Close()

	events := make([]PinEvent, 0, limit)
	for rows.Next() {
		var ev PinEvent
		var watchdog int
		var createdAt int64

		if err := rows.Scan(&ev.ID, &ev.Pin, &ev.Level, &watchdog, &ev.Sequence, &ev.Tick, &ev.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning pin event: %w", err)
		}
		ev.Watchdog = watchdog != 0
		ev.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pin events: %w", err)
	}
	return events, nil
}

// PruneHistory deletes events older than now-olderThan.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM pin_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting pin events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
