package storage

import (
	"context"
	"errors"
	"time"

	"prayerbot/internal/prayer"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound means no schedule is persisted for the requested date.
	ErrNotFound = errors.New("schedule not found")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and the bot runs
// memory-only (subscribers are lost on restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the refresh path (schedules), the
// dispatch path (subscribers, read-only) and the router (usage log).
type Store interface {
	// UpsertSchedule persists the table under its calendar date,
	// last-write-wins per date.
	UpsertSchedule(ctx context.Context, table prayer.Table) error
	// GetSchedule loads the table persisted for day ("YYYY-MM-DD"),
	// rehydrated in loc. Returns ErrNotFound when absent.
	GetSchedule(ctx context.Context, day string, loc *time.Location) (prayer.Table, error)

	AddSubscriber(ctx context.Context, chatID int64) error
	RemoveSubscriber(ctx context.Context, chatID int64) error
	IsSubscriber(ctx context.Context, chatID int64) (bool, error)
	Subscribers(ctx context.Context) ([]int64, error)

	// LogUsage appends one command-usage record. Best-effort: callers may
	// ignore the error.
	LogUsage(ctx context.Context, command string, chatID int64) error

	Close() error
}
