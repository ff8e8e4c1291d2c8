package history

import (
	"context"
	"errors"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ErrDeviceRequired is returned when a device id is missing.
var ErrDeviceRequired = errors.New("history: device id is required")

// Entry is one recorded variable value.
type Entry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Variable   string    `json:"variable"`
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ConnectionEvent is one controller connect or disconnect.
type ConnectionEvent struct {
	ID         int64     `json:"id"`
	Address    string    `json:"address"`
	Connected  bool      `json:"connected"`
	Version    string    `json:"version,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Filter selects variable history rows.
type Filter struct {
	DeviceID string    // required
	Variable string    // optional, exact lower-case variable name
	Since    time.Time // optional lower bound (inclusive)
	Limit    int       // default 50, max 500
}

// Repository stores and retrieves history.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// RecordChange stores a variable value observed at the given time.
	// A zero time records the current time.
	RecordChange(ctx context.Context, deviceID, variable, value string, at time.Time) error

	// GetHistory returns matching entries, newest first.
	GetHistory(ctx context.Context, filter Filter) ([]Entry, error)

	// RecordConnection stores a connection transition.
	RecordConnection(ctx context.Context, ev ConnectionEvent) error

	// ListConnections returns the most recent connection events, newest first.
	ListConnections(ctx context.Context, limit int) ([]ConnectionEvent, error)

	// Prune deletes rows recorded before now-olderThan and returns the count.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
