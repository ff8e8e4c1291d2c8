package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository implements Repository on the variable_history and
// connection_events tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed history repository.
//
// Parameters:
//   - db: Open connection with migrations applied
//
// Returns:
//   - *SQLiteRepository: Repository ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordChange inserts a variable history row.
func (r *SQLiteRepository) RecordChange(ctx context.Context, deviceID, variable, value string, at time.Time) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if variable == "" {
		return fmt.Errorf("history: variable is required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO variable_history (device_id, variable, value, recorded_at) VALUES (?, ?, ?, ?)",
		deviceID,
		strings.ToLower(variable),
		value,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("inserting variable history: %w", err)
	}
	return nil
}

// GetHistory returns variable history for one device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - filter: Device (required), optional variable and lower time bound, limit
//
// Returns:
//   - []Entry: Matching rows ordered by recorded_at DESC (may be empty)
//   - error: ErrDeviceRequired or the underlying query error
func (r *SQLiteRepository) GetHistory(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.DeviceID == "" {
		return nil, ErrDeviceRequired
	}
	limit := clampLimit(filter.Limit)

	conditions := []string{"device_id = ?"}
	args := []any{filter.DeviceID}
	if filter.Variable != "" {
		conditions = append(conditions, "variable = ?")
		args = append(args, strings.ToLower(filter.Variable))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	args = append(args, limit)

	query := `SELECT id, device_id, variable, value, recorded_at
		FROM variable_history
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying variable history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Variable, &e.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning variable history: %w", err)
		}
		e.RecordedAt = fromMillis(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variable history: %w", err)
	}

	return entries, nil
}

// RecordConnection inserts a connection event.
func (r *SQLiteRepository) RecordConnection(ctx context.Context, ev ConnectionEvent) error {
	var version sql.NullString
	if ev.Version != "" {
		version = sql.NullString{String: ev.Version, Valid: true}
	}
	connected := 0
	if ev.Connected {
		connected = 1
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO connection_events (address, connected, version, recorded_at) VALUES (?, ?, ?, ?)",
		ev.Address,
		connected,
		version,
		toMillis(ev.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// ListConnections returns recent connection events, newest first.
func (r *SQLiteRepository) ListConnections(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, address, connected, version, recorded_at
		 FROM connection_events
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := make([]ConnectionEvent, 0, limit)
	for rows.Next() {
		var ev ConnectionEvent
		var connected int
		var version sql.NullString
		var recordedAt int64
		if err := rows.Scan(&ev.ID, &ev.Address, &connected, &version, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.Connected = connected == 1
		ev.Version = version.String
		ev.RecordedAt = fromMillis(recordedAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}

	return events, nil
}

// Prune deletes variable history and connection events older than the
// retention window.
//
// Returns:
//   - int64: Total rows deleted across both tables
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()

	var total int64
	for _, table := range []string{"variable_history", "connection_events"} {
		result, err := r.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE recorded_at < ?", //nolint:gosec // table name is a constant
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}

	return total, nil
}
