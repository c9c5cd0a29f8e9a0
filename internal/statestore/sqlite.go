package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStore implements Store using SQLite.
//
// State snapshots in the transitions table are stored as JSON; the
// device_state table holds one structured row per device with the last
// committed state.
type SQLiteStore struct {
	db *sql.DB

	// locks serializes writes per device. Guarantees at-most-one write
	// in flight per device_id even if ticks ever overlap.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite-backed state store.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteStore: Store instance ready for use
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the mutex serializing writes for a device.
func (s *SQLiteStore) deviceLock(deviceID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[deviceID] = mu
	}
	return mu
}

// LastState returns the last committed state for a device.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//
// Returns:
//   - *DeviceState: Last committed state, or nil if the device has no
//     committed transitions yet
//   - error: ErrUncommittedState if the stored row carries a
//     non-committed outcome tag, otherwise the underlying query error
func (s *SQLiteStore) LastState(ctx context.Context, deviceID string) (*DeviceState, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, is_on, level, started_at, outcome, updated_at
		 FROM device_state
		 WHERE device_id = ?`,
		deviceID,
	)

	state, err := scanDeviceState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.Outcome != OutcomeCommitted {
		return nil, fmt.Errorf("%w: device %s has outcome %q", ErrUncommittedState, deviceID, state.Outcome)
	}

	return state, nil
}

// Record appends a transition attempt and, on a committed outcome,
// advances the device's last state in the same transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - prev: State before the attempt (nil for first transition)
//   - next: State the attempt tried to establish
//   - origin: scheduled or manual
//   - outcome: committed or failed
//   - at: Attempt timestamp (stored in UTC)
//
// Returns:
//   - TransitionRecord: The stored record with its assigned ID
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) Record(ctx context.Context, deviceID string, prev *DeviceState, next DeviceState, origin Origin, outcome Outcome, at time.Time) (TransitionRecord, error) {
	if deviceID == "" {
		return TransitionRecord{}, ErrDeviceIDRequired
	}
	if outcome != OutcomeCommitted && outcome != OutcomeFailed {
		return TransitionRecord{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if origin == "" {
		origin = OriginScheduled
	}

	mu := s.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	rec := TransitionRecord{
		ID:            uuid.NewString(),
		DeviceID:      deviceID,
		PreviousState: prev,
		NewState:      next,
		Origin:        origin,
		Outcome:       outcome,
		CreatedAt:     at.UTC(),
	}
	rec.NewState.DeviceID = deviceID
	rec.NewState.Outcome = outcome
	rec.NewState.UpdatedAt = rec.CreatedAt

	newJSON, err := json.Marshal(rec.NewState)
	if err != nil {
		return TransitionRecord{}, fmt.Errorf("marshalling new state: %w", err)
	}

	var prevJSON *string
	if prev != nil {
		data, marshalErr := json.Marshal(prev)
		if marshalErr != nil {
			return TransitionRecord{}, fmt.Errorf("marshalling previous state: %w", marshalErr)
		}
		str := string(data)
		prevJSON = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionRecord{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transitions (id, device_id, previous_state, new_state, origin, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		deviceID,
		prevJSON,
		string(newJSON),
		string(origin),
		string(outcome),
		rec.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return TransitionRecord{}, fmt.Errorf("inserting transition: %w", err)
	}

	// Only a confirmed acknowledgment advances the commanded state.
	if outcome == OutcomeCommitted {
		if err := upsertDeviceState(ctx, tx, rec.NewState); err != nil {
			return TransitionRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return TransitionRecord{}, fmt.Errorf("committing transition: %w", err)
	}

	return rec, nil
}

// History returns transition records for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - q: Time range and limit bounds (zero values select defaults)
//
// Returns:
//   - []TransitionRecord: Records ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *SQLiteStore) History(ctx context.Context, deviceID string, q HistoryQuery) ([]TransitionRecord, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, device_id, previous_state, new_state, origin, outcome, created_at
		 FROM transitions
		 WHERE device_id = ?`
	args := []any{deviceID}

	if !q.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		query += " AND created_at < ?"
		args = append(args, q.Until.UTC().Format(time.RFC3339))
	}

	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	records := make([]TransitionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}

	return records, nil
}

// Prune deletes transition records older than the given duration.
//
// Retention policy itself is an external concern; this helper exists for
// the operator tooling that owns it.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (records older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM transitions WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// upsertDeviceState writes the last committed state row for a device.
func upsertDeviceState(ctx context.Context, tx *sql.Tx, state DeviceState) error {
	var level *int
	if state.Level != nil {
		level = state.Level
	}

	var startedAt *string
	if state.StartedAt != nil {
		str := state.StartedAt.UTC().Format(time.RFC3339)
		startedAt = &str
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO device_state (device_id, is_on, level, started_at, outcome, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
			is_on = excluded.is_on,
			level = excluded.level,
			started_at = excluded.started_at,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at`,
		state.DeviceID,
		boolToInt(state.IsOn),
		level,
		startedAt,
		string(state.Outcome),
		state.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceState scans a device_state row.
func scanDeviceState(row rowScanner) (*DeviceState, error) {
	var state DeviceState
	var isOn int
	var level sql.NullInt64
	var startedAt sql.NullString
	var outcome string
	var updatedAt string

	if err := row.Scan(&state.DeviceID, &isOn, &level, &startedAt, &outcome, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device state: %w", err)
	}

	state.IsOn = isOn != 0
	state.Outcome = Outcome(outcome)

	if level.Valid {
		v := int(level.Int64)
		state.Level = &v
	}
	if startedAt.Valid {
		ts, err := parseStoredTimestamp(startedAt.String)
		if err != nil {
			return nil, err
		}
		state.StartedAt = &ts
	}

	ts, err := parseStoredTimestamp(updatedAt)
	if err != nil {
		return nil, err
	}
	state.UpdatedAt = ts

	return &state, nil
}

// scanTransition scans a transitions row.
func scanTransition(row rowScanner) (TransitionRecord, error) {
	var rec TransitionRecord
	var prevJSON sql.NullString
	var newJSON string
	var origin string
	var outcome string
	var createdAt string

	if err := row.Scan(&rec.ID, &rec.DeviceID, &prevJSON, &newJSON, &origin, &outcome, &createdAt); err != nil {
		return TransitionRecord{}, fmt.Errorf("scanning transition: %w", err)
	}

	if err := json.Unmarshal([]byte(newJSON), &rec.NewState); err != nil {
		return TransitionRecord{}, fmt.Errorf("unmarshalling new state: %w", err)
	}
	if prevJSON.Valid {
		var prev DeviceState
		if err := json.Unmarshal([]byte(prevJSON.String), &prev); err != nil {
			return TransitionRecord{}, fmt.Errorf("unmarshalling previous state: %w", err)
		}
		rec.PreviousState = &prev
	}

	rec.Origin = Origin(origin)
	rec.Outcome = Outcome(outcome)

	ts, err := parseStoredTimestamp(createdAt)
	if err != nil {
		return TransitionRecord{}, err
	}
	rec.CreatedAt = ts

	return rec, nil
}

// parseStoredTimestamp parses a timestamp stored in SQLite.
func parseStoredTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}

// boolToInt converts a bool to the 0/1 representation used by SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
