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
	maxHistoryLimit     = 500
)

// HistoryEntry is one recorded capability transition.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	CapabilityID string    `json:"capability_id"`
	Value        any       `json:"value"`
	ObservedAt   time.Time `json:"observed_at"`
}

// HistoryRepository stores capability transitions as a local audit trail
// that survives without the time-series database.
type HistoryRepository interface {
	Record(ctx context.Context, change Change) error

	// GetHistory returns entries newest first. Limit is clamped to (0, 500].
	GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than the given age and returns the count removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteHistoryRepository implements HistoryRepository on capability_history.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a history repository on an open database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts a change.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, change Change) error {
	if change.DeviceID == "" || change.CapabilityID == "" {
		return fmt.Errorf("%w: device and capability are required", ErrInvalidDevice)
	}
	observed := change.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}

	valueJSON, err := json.Marshal(change.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO capability_history (device_id, capability_id, value, observed_at) VALUES (?, ?, ?, ?)",
		change.DeviceID, change.CapabilityID, string(valueJSON), observed.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting capability history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device, newest first.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, capability_id, value, observed_at
		FROM capability_history
		WHERE device_id = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying capability history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var valueJSON string
		var observedMs int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.CapabilityID, &valueJSON, &observedMs); err != nil {
			return nil, fmt.Errorf("scanning capability history: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		e.ObservedAt = time.UnixMilli(observedMs).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating capability history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM capability_history WHERE observed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting capability history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
