// Package history keeps a local record of GPIO level changes in SQLite.
//
// The record survives restarts and is available even when InfluxDB is not
// configured. Entries are pruned by age on a schedule set by the bridge.
package history

import (
	"context"
	"errors"
	"time"
)

// Sources of a recorded pin event.
const (
	SourceNotification = "notification"
	SourceWatchdog     = "watchdog"
	SourceCommand      = "command"
)

var (
	// ErrInvalidPin is returned for pins outside 0..31.
	ErrInvalidPin = errors.New("history: pin must be between 0 and 31")

	// ErrInvalidLevel is returned for levels other than 0 or 1.
	ErrInvalidLevel = errors.New("history: level must be 0 or 1")
)

// PinEvent is a single recorded level observation.
type PinEvent struct {
	ID        int64     `json:"id"`
	Pin       int       `json:"pin"`
	Level     int       `json:"level"`
	Watchdog  bool      `json:"watchdog,omitempty"`
	Sequence  uint16    `json:"sequence"`
	Tick      uint32    `json:"tick"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves pin events.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// RecordEvent stores ev. A zero CreatedAt is replaced with now.
	RecordEvent(ctx context.Context, ev PinEvent) error

	// GetHistory returns the newest events for pin, newest first.
	GetHistory(ctx context.Context, pin int, limit int) ([]PinEvent, error)

	// PruneHistory deletes events older than olderThan and reports how
	// many were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
