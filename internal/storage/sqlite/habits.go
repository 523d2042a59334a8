package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/storage"
)

const habitColumns = `id, user_id, title, icon, description, category, target_count, target_unit,
	frequency_type, frequency_days, frequency_count, color, is_active, created_at, updated_at,
	last_synced_at, is_dirty, sync_status, sync_error, conflict_data`

type scanner interface {
	Scan(dest ...any) error
}

func scanHabit(row scanner) (models.Habit, error) {
	var (
		h                    models.Habit
		description          sql.NullString
		freqType             string
		freqDays             sql.NullString
		freqCount            int
		active, dirty        int
		createdAt, updatedAt string
		lastSynced           sql.NullString
		status               string
		conflict             sql.NullString
	)

	err := row.Scan(&h.ID, &h.UserID, &h.Title, &h.Icon, &description, &h.Category, &h.TargetCount, &h.TargetUnit,
		&freqType, &freqDays, &freqCount, &h.Color, &active, &createdAt, &updatedAt,
		&lastSynced, &dirty, &status, &h.SyncError, &conflict)
	if err != nil {
		return models.Habit{}, err
	}

	h.Description = stringPtr(description)
	h.Active = active != 0
	h.IsDirty = dirty != 0
	h.Status = models.SyncStatus(status)
	if conflict.Valid && conflict.String != "" {
		h.ConflictData = json.RawMessage(conflict.String)
	}

	var days []byte
	if freqDays.Valid {
		days = []byte(freqDays.String)
	}
	if h.Frequency, err = models.DecodeFrequency(freqType, days, freqCount); err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: %w", h.ID, err)
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: created_at: %w", h.ID, err)
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: updated_at: %w", h.ID, err)
	}
	if h.LastSyncedAt, err = parseNullTime(lastSynced); err != nil {
		return models.Habit{}, fmt.Errorf("habit %s: last_synced_at: %w", h.ID, err)
	}

	return h, nil
}

// habitArgs returns the column values in habitColumns order.
func habitArgs(h models.Habit) ([]any, error) {
	kind, days, count, err := models.EncodeFrequency(h.Frequency)
	if err != nil {
		return nil, err
	}
	var freqDays sql.NullString
	if days != nil {
		freqDays = sql.NullString{String: string(days), Valid: true}
	}
	var conflict sql.NullString
	if len(h.ConflictData) > 0 {
		conflict = sql.NullString{String: string(h.ConflictData), Valid: true}
	}
	status := h.Status
	if status == "" {
		status = models.SyncPending
	}

	return []any{
		h.ID, h.UserID, h.Title, h.Icon, nullString(h.Description), h.Category, h.TargetCount, h.TargetUnit,
		string(kind), freqDays, count, h.Color, boolInt(h.Active), formatTime(h.CreatedAt), formatTime(h.UpdatedAt),
		nullTime(h.LastSyncedAt), boolInt(h.IsDirty), string(status), h.SyncError, conflict,
	}, nil
}

const insertHabitSQL = `INSERT INTO habits (` + habitColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateHabit inserts a new habit as a pending local change. A missing id
// or timestamp is filled in.
func (s *Store) CreateHabit(ctx context.Context, h models.Habit) (models.Habit, error) {
	if err := s.ready(); err != nil {
		return models.Habit{}, apperrors.Store("create habit", err)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.stamp()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = h.CreatedAt
	}
	h.CreatedAt = normalizeTime(h.CreatedAt)
	h.UpdatedAt = normalizeTime(h.UpdatedAt)
	h.SyncMeta = models.Pending(nil)

	args, err := habitArgs(h)
	if err != nil {
		return models.Habit{}, apperrors.Store("create habit", err)
	}
	if _, err := s.db.ExecContext(ctx, insertHabitSQL, args...); err != nil {
		return models.Habit{}, apperrors.Store("create habit", err)
	}
	return h, nil
}

// UpdateHabit writes the user-editable fields of h as a pending local
// change. A row in conflict stays in conflict with h as its local side;
// the sync baseline is kept.
func (s *Store) UpdateHabit(ctx context.Context, h models.Habit) (models.Habit, error) {
	const op = "update habit"

	var out models.Habit
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		at, err := nextUpdatedAt(ctx, tx, "habits", h.ID, h.UpdatedAt)
		if err != nil {
			return err
		}
		kind, days, count, err := models.EncodeFrequency(h.Frequency)
		if err != nil {
			return err
		}
		var freqDays sql.NullString
		if days != nil {
			freqDays = sql.NullString{String: string(days), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE habits SET title = ?, icon = ?, description = ?, category = ?, target_count = ?, target_unit = ?,
				frequency_type = ?, frequency_days = ?, frequency_count = ?, color = ?, is_active = ?, updated_at = ?,
				is_dirty = 1, sync_status = CASE WHEN sync_status = 'conflict' THEN 'conflict' ELSE 'pending' END, sync_error = ''
			WHERE id = ?`,
			h.Title, h.Icon, nullString(h.Description), h.Category, h.TargetCount, h.TargetUnit,
			string(kind), freqDays, count, h.Color, boolInt(h.Active), formatTime(at), h.ID)
		if err != nil {
			return err
		}
		out, err = relocalHabit(ctx, tx, h.ID)
		return err
	})
	if err != nil {
		return models.Habit{}, apperrors.Store(op, err)
	}
	return out, nil
}

func (s *Store) GetHabit(ctx context.Context, id string) (models.Habit, error) {
	if err := s.ready(); err != nil {
		return models.Habit{}, apperrors.Store("get habit", err)
	}
	h, err := scanHabit(s.db.QueryRowContext(ctx, "SELECT "+habitColumns+" FROM habits WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Habit{}, apperrors.Store("get habit", fmt.Errorf("habit %s: %w", id, storage.ErrNotFound))
	}
	if err != nil {
		return models.Habit{}, apperrors.Store("get habit", err)
	}
	return h, nil
}

func (s *Store) ListHabits(ctx context.Context, userID string, includeInactive bool) ([]models.Habit, error) {
	query := "SELECT " + habitColumns + " FROM habits WHERE user_id = ?"
	if !includeInactive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at, id"

	habits, err := s.queryHabits(ctx, query, userID)
	return habits, apperrors.Store("list habits", err)
}

func (s *Store) queryHabits(ctx context.Context, query string, args ...any) ([]models.Habit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	habits := []models.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// DeactivateHabit soft-deletes a habit. Its completions are kept.
func (s *Store) DeactivateHabit(ctx context.Context, id string, at time.Time) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		ts, err := nextUpdatedAt(ctx, tx, "habits", id, at)
		if err != nil {
			return err
		}
		if err := expectRow(tx.ExecContext(ctx, `
			UPDATE habits SET is_active = 0, updated_at = ?, is_dirty = 1,
				sync_status = CASE WHEN sync_status = 'conflict' THEN 'conflict' ELSE 'pending' END, sync_error = ''
			WHERE id = ?`, formatTime(ts), id)); err != nil {
			return err
		}
		_, err = relocalHabit(ctx, tx, id)
		return err
	})
	return apperrors.Store("deactivate habit", err)
}

// relocalHabit reads back habit id after a local edit and refreshes its
// conflict payload when it is in conflict.
func relocalHabit(ctx context.Context, tx *sql.Tx, id string) (models.Habit, error) {
	const query = "SELECT " + habitColumns + " FROM habits WHERE id = ?"
	h, err := scanHabit(tx.QueryRowContext(ctx, query, id))
	if err != nil || h.Status != models.SyncConflict {
		return h, err
	}
	local := h
	local.SyncMeta = models.Pending(h.LastSyncedAt)
	if err := refreshConflict(ctx, tx, "habits", id, h.ConflictData, local); err != nil {
		return models.Habit{}, err
	}
	return scanHabit(tx.QueryRowContext(ctx, query, id))
}

// DeleteHabit removes a habit that no completion references.
func (s *Store) DeleteHabit(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("delete habit", err)
	}
	err := expectRow(s.db.ExecContext(ctx, "DELETE FROM habits WHERE id = ?", id))
	if isForeignKeyViolation(err) {
		err = fmt.Errorf("habit %s still has completions; deactivate it instead: %w", id, err)
	}
	return apperrors.Store("delete habit", err)
}
