package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeFormat has fixed width so created_at sorts as text.
	historyTimeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteHistory implements History on the light_history table.
//
// State snapshots are stored as JSON.
type SQLiteHistory struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistory creates a history store.
//
// Parameters:
//   - db: Open, migrated SQLite connection
//
// Returns:
//   - *SQLiteHistory: Store ready for use
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db, now: time.Now}
}

// Record inserts a history entry. An empty source is stored as
// HistorySourceDevice.
func (h *SQLiteHistory) Record(ctx context.Context, id Identity, state LightState, source string) error {
	if source == "" {
		source = HistorySourceDevice
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO light_history (light_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		int64(id), //nolint:gosec // Same bit pattern as the lights table
		string(stateJSON),
		source,
		h.now().UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting light history: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a light.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - id: Light identity
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered newest first
//   - error: nil on success, otherwise the underlying query error
func (h *SQLiteHistory) Recent(ctx context.Context, id Identity, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, light_id, state, source, created_at
		 FROM light_history
		 WHERE light_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		int64(id), //nolint:gosec // Same bit pattern as the lights table
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying light history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry     HistoryEntry
			lightID   int64
			stateJSON string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &lightID, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning light history: %w", err)
		}
		entry.LightID = Identity(uint64(lightID)) //nolint:gosec // Inverse of the cast in Record

		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}

		ts, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating light history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention period.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (h *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := h.now().UTC().Add(-olderThan).Format(historyTimeFormat)
	result, err := h.db.ExecContext(ctx, "DELETE FROM light_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting light history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// parseHistoryTimestamp parses a created_at value.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(historyTimeFormat, value)
	if err == nil {
		return ts, nil
	}
	if fallback, fallbackErr := time.Parse(time.RFC3339, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
