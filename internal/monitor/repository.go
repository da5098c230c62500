package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timestampLayout keeps fixed-width milliseconds so stored values sort
	// lexically in time order.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// TargetRepository persists monitor definitions across restarts.
type TargetRepository interface {
	// Save inserts or replaces a target.
	Save(ctx context.Context, t Target) error

	// Delete removes a target. Returns ErrTargetNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns every persisted target, oldest first.
	List(ctx context.Context) ([]Target, error)
}

// HistoryRepository stores and retrieves resource state transitions.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordTransition appends one transition.
	RecordTransition(ctx context.Context, tr Transition) error

	// GetHistory returns recent transitions for a monitor.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - monitorID: Monitor identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Transition: Ordered newest-first (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, monitorID string, limit int) ([]Transition, error)

	// PruneHistory deletes transitions older than the given duration and
	// returns the number of rows removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteTargetRepository implements TargetRepository using SQLite.
type SQLiteTargetRepository struct {
	db *sql.DB
}

// NewSQLiteTargetRepository creates a target repository on an open database.
func NewSQLiteTargetRepository(db *sql.DB) *SQLiteTargetRepository {
	return &SQLiteTargetRepository{db: db}
}

// Save inserts or replaces a target.
func (r *SQLiteTargetRepository) Save(ctx context.Context, t Target) error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTarget)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monitored_resources (id, uri, host, transport, url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     uri = excluded.uri,
		     host = excluded.host,
		     transport = excluded.transport,
		     url = excluded.url`,
		t.ID,
		t.URI,
		t.Host,
		string(t.Transport),
		t.URL,
		t.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s on %s", ErrTargetExists, t.URI, t.Host)
		}
		return fmt.Errorf("saving target: %w", err)
	}
	return nil
}

// Delete removes a target by ID.
func (r *SQLiteTargetRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM monitored_resources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// List returns every persisted target, oldest first.
func (r *SQLiteTargetRepository) List(ctx context.Context) ([]Target, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, uri, host, transport, url, created_at
		 FROM monitored_resources
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		var transport, createdAt string
		if err := rows.Scan(&t.ID, &t.URI, &t.Host, &transport, &t.URL, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		t.Transport = Transport(transport)

		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		t.CreatedAt = ts

		targets = append(targets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating targets: %w", err)
	}
	return targets, nil
}

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a history repository on an open database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordTransition inserts a transition row.
func (r *SQLiteHistoryRepository) RecordTransition(ctx context.Context, tr Transition) error {
	if tr.MonitorID == "" {
		return fmt.Errorf("monitor id is required")
	}
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO presence_history (monitor_id, uri, host, state, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.MonitorID,
		tr.URI,
		tr.Host,
		tr.State.String(),
		tr.Mode.String(),
		tr.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting presence history: %w", err)
	}
	return nil
}

// GetHistory returns recent transitions for a monitor, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - monitorID: Monitor identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Transition: History entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, monitorID string, limit int) ([]Transition, error) {
	if monitorID == "" {
		return nil, fmt.Errorf("monitor id is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, monitor_id, uri, host, state, mode, created_at
		 FROM presence_history
		 WHERE monitor_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		monitorID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying presence history: %w", err)
	}
	defer rows.Close()

	entries := make([]Transition, 0, limit)
	for rows.Next() {
		var tr Transition
		var state, mode, createdAt string

		if err := rows.Scan(&tr.ID, &tr.MonitorID, &tr.URI, &tr.Host, &state, &mode, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning presence history: %w", err)
		}
		if tr.State, err = presence.ParseState(state); err != nil {
			return nil, fmt.Errorf("presence history row %d: %w", tr.ID, err)
		}
		if tr.Mode, err = presence.ParseMode(mode); err != nil {
			return nil, fmt.Errorf("presence history row %d: %w", tr.ID, err)
		}
		if tr.Timestamp, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}

		entries = append(entries, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM presence_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting presence history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts.UTC(), nil
}
