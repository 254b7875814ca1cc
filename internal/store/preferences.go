package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetPreferences returns a user's preference record, or nil when the user has
// none yet. Callers on the turn path should use AcquirePreferences instead,
// which also establishes the record and repairs duplicates.
func (s *Store) GetPreferences(ctx context.Context, userID int64) (*Preferences, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, data, created_at, updated_at FROM preferences
		 WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT 1`,
		userID,
	)

	prefs, err := scanPreferences(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return prefs, nil
}

// AcquirePreferences guarantees the at-most-one-record-per-user invariant and
// returns the user's canonical preference record, creating an empty one when
// absent. Duplicate rows (legacy state) are merged field-by-field with
// most-recently-updated wins and the superseded rows deleted, all inside one
// transaction. The call is re-entrant and idempotent; it never fails a turn
// because a concurrent insert won the race. The second return value reports
// how many duplicate rows were merged away.
func (s *Store) AcquirePreferences(ctx context.Context, userID int64) (*Preferences, int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prefs, merged, err := acquirePreferencesTx(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit preferences: %w", err)
	}

	return prefs, merged, nil
}

// UpsertPreferences merges patch keys into the user's preference record,
// creating the record first when absent. Patch values overwrite existing keys;
// keys absent from the patch are preserved. The read-merge-write runs in one
// transaction so concurrent patches to the same user cannot lose keys.
func (s *Store) UpsertPreferences(ctx context.Context, userID int64, patch map[string]any) (*Preferences, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prefs, _, err := acquirePreferencesTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if len(patch) > 0 {
		if prefs.Data == nil {
			prefs.Data = make(map[string]any, len(patch))
		}
		for k, v := range patch {
			prefs.Data[k] = v
		}

		encoded, err := json.Marshal(prefs.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode preferences: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			"UPDATE preferences SET data = ?, updated_at = ? WHERE id = ?",
			string(encoded), now, prefs.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to update preferences: %w", err)
		}
		prefs.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit preferences: %w", err)
	}

	return prefs, nil
}

// acquirePreferencesTx reconciles duplicates, establishes the record when
// absent and returns it, all on the caller's transaction.
func acquirePreferencesTx(ctx context.Context, tx *sql.Tx, userID int64) (*Preferences, int, error) {
	merged, err := reconcilePreferences(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()

	// Insert-if-absent; a concurrent insert simply makes this a no-op and
	// the re-read below returns the winning record.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO preferences (user_id, data, created_at, updated_at)
		 SELECT ?, '{}', ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM preferences WHERE user_id = ?)`,
		userID, now, now, userID,
	); err != nil {
		return nil, 0, fmt.Errorf("failed to create preferences: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, data, created_at, updated_at FROM preferences
		 WHERE user_id = ? LIMIT 1`,
		userID,
	)
	prefs, err := scanPreferences(row)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read preferences: %w", err)
	}

	return prefs, merged, nil
}

// reconcilePreferences collapses duplicate preference rows for a user into the
// most recently updated row. Running it on clean data changes nothing.
func reconcilePreferences(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, data, created_at, updated_at FROM preferences
		 WHERE user_id = ? ORDER BY updated_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list preferences: %w", err)
	}

	var records []Preferences
	for rows.Next() {
		var p Preferences
		var encoded string
		if err := rows.Scan(&p.ID, &p.UserID, &encoded, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan preferences: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &p.Data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to decode preferences %d: %w", p.ID, err)
		}
		records = append(records, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read preferences: %w", err)
	}

	if len(records) <= 1 {
		return 0, nil
	}

	// Overlay oldest to newest so the most recently updated value wins per key
	mergedData := make(map[string]any)
	for _, rec := range records {
		for k, v := range rec.Data {
			mergedData[k] = v
		}
	}

	winner := records[len(records)-1]
	encoded, err := json.Marshal(mergedData)
	if err != nil {
		return 0, fmt.Errorf("failed to encode merged preferences: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE preferences SET data = ?, updated_at = ? WHERE id = ?",
		string(encoded), time.Now().UTC(), winner.ID,
	); err != nil {
		return 0, fmt.Errorf("failed to store merged preferences: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM preferences WHERE user_id = ? AND id != ?",
		userID, winner.ID,
	); err != nil {
		return 0, fmt.Errorf("failed to delete superseded preferences: %w", err)
	}

	return len(records) - 1, nil
}

func scanPreferences(row *sql.Row) (*Preferences, error) {
	var p Preferences
	var encoded string
	if err := row.Scan(&p.ID, &p.UserID, &encoded, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(encoded), &p.Data); err != nil {
		return nil, fmt.Errorf("failed to decode preferences %d: %w", p.ID, err)
	}
	return &p, nil
}
