package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/storage"
)

// DirtyHabits returns the habits waiting to be pushed. Rows in conflict are
// excluded until they are resolved.
func (s *Store) DirtyHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	habits, err := s.queryHabits(ctx, "SELECT "+habitColumns+` FROM habits
		WHERE user_id = ? AND is_dirty = 1 AND sync_status != 'conflict'
		ORDER BY updated_at, id`, userID)
	return habits, apperrors.Store("dirty habits", err)
}

// MarkHabitSynced records a successful push of the version last updated at
// pushedUpdatedAt. If the row was edited while the push was in flight, only
// the sync baseline moves and the row stays dirty.
func (s *Store) MarkHabitSynced(ctx context.Context, id string, pushedUpdatedAt, syncedAt time.Time) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return markSynced(ctx, tx, "habits", id, pushedUpdatedAt, syncedAt)
	})
	return apperrors.Store("mark habit synced", err)
}

func (s *Store) MarkHabitConflict(ctx context.Context, id string, conflict models.Conflict[models.Habit]) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("mark habit conflict", err)
	}
	return apperrors.Store("mark habit conflict", markConflict(ctx, s.db, "habits", id, conflict.Fields, conflict))
}

func (s *Store) MarkHabitError(ctx context.Context, id, msg string) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("mark habit error", err)
	}
	return apperrors.Store("mark habit error", markError(ctx, s.db, "habits", id, msg))
}

// ApplyRemoteHabit writes the remote version of a habit as clean and
// synced, inserting it when it does not exist locally.
func (s *Store) ApplyRemoteHabit(ctx context.Context, h models.Habit) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("apply remote habit", err)
	}
	h.CreatedAt = normalizeTime(h.CreatedAt)
	h.UpdatedAt = normalizeTime(h.UpdatedAt)
	h.SyncMeta = models.Synced(s.syncedAt(h.LastSyncedAt))

	args, err := habitArgs(h)
	if err != nil {
		return apperrors.Store("apply remote habit", err)
	}
	_, err = s.db.ExecContext(ctx, insertHabitSQL+`
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, icon = excluded.icon, description = excluded.description,
			category = excluded.category, target_count = excluded.target_count, target_unit = excluded.target_unit,
			frequency_type = excluded.frequency_type, frequency_days = excluded.frequency_days,
			frequency_count = excluded.frequency_count, color = excluded.color, is_active = excluded.is_active,
			updated_at = excluded.updated_at, last_synced_at = excluded.last_synced_at,
			is_dirty = 0, sync_status = 'synced', sync_error = '', conflict_data = NULL`, args...)
	return apperrors.Store("apply remote habit", err)
}

func (s *Store) RequeueHabit(ctx context.Context, id string, baseline *time.Time) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("requeue habit", err)
	}
	return apperrors.Store("requeue habit", requeue(ctx, s.db, "habits", id, baseline))
}

// ListConflicts returns every record of the user that awaits resolution.
func (s *Store) ListConflicts(ctx context.Context, userID string) ([]models.ConflictRef, error) {
	if err := s.ready(); err != nil {
		return nil, apperrors.Store("list conflicts", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'habit', id, conflict_data FROM habits WHERE user_id = ? AND sync_status = 'conflict'
		UNION ALL
		SELECT 'completion', id, conflict_data FROM habit_completions WHERE user_id = ? AND sync_status = 'conflict'
		ORDER BY 1 DESC, 2`, userID, userID)
	if err != nil {
		return nil, apperrors.Store("list conflicts", err)
	}
	defer rows.Close()

	refs := []models.ConflictRef{}
	for rows.Next() {
		var (
			ref  models.ConflictRef
			kind string
			data sql.NullString
		)
		if err := rows.Scan(&kind, &ref.ID, &data); err != nil {
			return nil, apperrors.Store("list conflicts", err)
		}
		ref.Kind = models.RecordKind(kind)
		if data.Valid {
			var payload struct {
				Fields []string `json:"conflicted_fields"`
			}
			if err := json.Unmarshal([]byte(data.String), &payload); err != nil {
				return nil, apperrors.Store("list conflicts", fmt.Errorf("%s %s: invalid conflict payload: %w", kind, ref.ID, err))
			}
			ref.Fields = payload.Fields
		}
		refs = append(refs, ref)
	}
	return refs, apperrors.Store("list conflicts", rows.Err())
}

func (s *Store) syncedAt(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.stamp()
	}
	return normalizeTime(*t)
}

func markSynced(ctx context.Context, tx *sql.Tx, table, id string, pushedUpdatedAt, syncedAt time.Time) error {
	res, err := tx.ExecContext(ctx, "UPDATE "+table+` SET
			is_dirty = 0, sync_status = 'synced', sync_error = '', conflict_data = NULL, last_synced_at = ?
		WHERE id = ? AND updated_at = ? AND sync_status != 'conflict'`,
		formatTime(syncedAt), id, formatTime(pushedUpdatedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	// Edited during the push: the remote now holds the pushed version, so
	// the newer local edit must be compared against that.
	return expectRow(tx.ExecContext(ctx, "UPDATE "+table+" SET last_synced_at = ? WHERE id = ?",
		formatTime(syncedAt), id))
}

func markConflict(ctx context.Context, db execer, table, id string, fields []string, payload any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%s %s: conflict without differing fields", table, id)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode conflict: %w", err)
	}
	return expectRow(db.ExecContext(ctx, "UPDATE "+table+` SET
			is_dirty = 1, sync_status = 'conflict', sync_error = '', conflict_data = ?
		WHERE id = ?`, string(data), id))
}

// refreshConflict rewrites the local side of a stored conflict after a
// local edit so the row stays out of pushes until it is resolved. An edit
// that leaves nothing differing from the remote requeues the row instead.
func refreshConflict[T any](ctx context.Context, tx *sql.Tx, table, id string, data []byte, local T) error {
	var c models.Conflict[T]
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("%s %s: invalid conflict payload: %w", table, id, err)
	}
	next := models.NewConflict(local, c.Remote)
	if len(next.Fields) == 0 {
		return expectRow(tx.ExecContext(ctx, "UPDATE "+table+` SET
				is_dirty = 1, sync_status = 'pending', sync_error = '', conflict_data = NULL
			WHERE id = ?`, id))
	}
	return markConflict(ctx, tx, table, id, next.Fields, next)
}

func markError(ctx context.Context, db *sql.DB, table, id, msg string) error {
	res, err := db.ExecContext(ctx, "UPDATE "+table+` SET is_dirty = 1, sync_status = 'error', sync_error = ?
		WHERE id = ? AND sync_status != 'conflict'`, msg, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	var exists int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func requeue(ctx context.Context, db execer, table, id string, baseline *time.Time) error {
	return expectRow(db.ExecContext(ctx, "UPDATE "+table+` SET
			is_dirty = 1, sync_status = 'pending', sync_error = '', conflict_data = NULL, last_synced_at = ?
		WHERE id = ?`, nullTime(baseline), id))
}
