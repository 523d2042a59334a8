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

const completionColumns = `id, habit_id, user_id, completed_count, completion_date, note, created_at, updated_at,
	last_synced_at, is_dirty, sync_status, sync_error, conflict_data`

const insertCompletionSQL = `INSERT INTO habit_completions (` + completionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func scanCompletion(row scanner) (models.Completion, error) {
	var (
		c                    models.Completion
		note                 sql.NullString
		createdAt, updatedAt string
		lastSynced           sql.NullString
		dirty                int
		status               string
		conflict             sql.NullString
	)

	err := row.Scan(&c.ID, &c.HabitID, &c.UserID, &c.CompletedCount, &c.Date, &note, &createdAt, &updatedAt,
		&lastSynced, &dirty, &status, &c.SyncError, &conflict)
	if err != nil {
		return models.Completion{}, err
	}

	c.Note = stringPtr(note)
	c.IsDirty = dirty != 0
	c.Status = models.SyncStatus(status)
	if conflict.Valid && conflict.String != "" {
		c.ConflictData = json.RawMessage(conflict.String)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Completion{}, fmt.Errorf("completion %s: created_at: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Completion{}, fmt.Errorf("completion %s: updated_at: %w", c.ID, err)
	}
	if c.LastSyncedAt, err = parseNullTime(lastSynced); err != nil {
		return models.Completion{}, fmt.Errorf("completion %s: last_synced_at: %w", c.ID, err)
	}
	return c, nil
}

func completionArgs(c models.Completion) []any {
	var conflict sql.NullString
	if len(c.ConflictData) > 0 {
		conflict = sql.NullString{String: string(c.ConflictData), Valid: true}
	}
	status := c.Status
	if status == "" {
		status = models.SyncPending
	}
	return []any{
		c.ID, c.HabitID, c.UserID, c.CompletedCount, c.Date, nullString(c.Note),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
		nullTime(c.LastSyncedAt), boolInt(c.IsDirty), string(status), c.SyncError, conflict,
	}
}

// SaveCompletion writes c as a pending local change. The row is inserted
// first; if another row already holds the same (habit, date), that row is
// updated in place and keeps its id. An existing row in conflict stays in
// conflict with the new count as its local side.
func (s *Store) SaveCompletion(ctx context.Context, c models.Completion) (models.Completion, error) {
	const op = "save completion"

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.stamp()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	c.CreatedAt = normalizeTime(c.CreatedAt)
	c.UpdatedAt = normalizeTime(c.UpdatedAt)
	c.SyncMeta = models.Pending(nil)

	var out models.Completion
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertCompletionSQL, completionArgs(c)...)
		if err == nil {
			out = c
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}

		var existingID string
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM habit_completions WHERE habit_id = ? AND completion_date = ?",
			c.HabitID, c.Date).Scan(&existingID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("completion %s already exists for another habit or date", c.ID)
		}
		if err != nil {
			return err
		}

		at, err := nextUpdatedAt(ctx, tx, "habit_completions", existingID, c.UpdatedAt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE habit_completions SET completed_count = ?, note = ?, updated_at = ?,
				is_dirty = 1, sync_status = CASE WHEN sync_status = 'conflict' THEN 'conflict' ELSE 'pending' END, sync_error = ''
			WHERE id = ?`, c.CompletedCount, nullString(c.Note), formatTime(at), existingID)
		if err != nil {
			return err
		}
		out, err = relocalCompletion(ctx, tx, existingID)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			err = fmt.Errorf("habit %s: %w", c.HabitID, storage.ErrNotFound)
		}
		return models.Completion{}, apperrors.Store(op, err)
	}
	return out, nil
}

func relocalCompletion(ctx context.Context, tx *sql.Tx, id string) (models.Completion, error) {
	const query = "SELECT " + completionColumns + " FROM habit_completions WHERE id = ?"
	c, err := scanCompletion(tx.QueryRowContext(ctx, query, id))
	if err != nil || c.Status != models.SyncConflict {
		return c, err
	}
	local := c
	local.SyncMeta = models.Pending(c.LastSyncedAt)
	if err := refreshConflict(ctx, tx, "habit_completions", id, c.ConflictData, local); err != nil {
		return models.Completion{}, err
	}
	return scanCompletion(tx.QueryRowContext(ctx, query, id))
}

func (s *Store) GetCompletion(ctx context.Context, habitID, date string) (models.Completion, error) {
	if err := s.ready(); err != nil {
		return models.Completion{}, apperrors.Store("get completion", err)
	}
	c, err := scanCompletion(s.db.QueryRowContext(ctx,
		"SELECT "+completionColumns+" FROM habit_completions WHERE habit_id = ? AND completion_date = ?",
		habitID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Completion{}, apperrors.Store("get completion",
			fmt.Errorf("completion for habit %s on %s: %w", habitID, date, storage.ErrNotFound))
	}
	return c, apperrors.Store("get completion", err)
}

func (s *Store) GetCompletionByID(ctx context.Context, id string) (models.Completion, error) {
	if err := s.ready(); err != nil {
		return models.Completion{}, apperrors.Store("get completion", err)
	}
	c, err := scanCompletion(s.db.QueryRowContext(ctx,
		"SELECT "+completionColumns+" FROM habit_completions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Completion{}, apperrors.Store("get completion", fmt.Errorf("completion %s: %w", id, storage.ErrNotFound))
	}
	return c, apperrors.Store("get completion", err)
}

// ListCompletions returns a habit's completions ordered by date.
func (s *Store) ListCompletions(ctx context.Context, habitID string) ([]models.Completion, error) {
	completions, err := s.queryCompletions(ctx, "SELECT "+completionColumns+`
		FROM habit_completions WHERE habit_id = ? ORDER BY completion_date`, habitID)
	return completions, apperrors.Store("list completions", err)
}

// CompletionsInRange returns the user's completions with startDay <= date <= endDay.
func (s *Store) CompletionsInRange(ctx context.Context, userID, startDay, endDay string) ([]models.Completion, error) {
	completions, err := s.queryCompletions(ctx, "SELECT "+completionColumns+`
		FROM habit_completions WHERE user_id = ? AND completion_date BETWEEN ? AND ?
		ORDER BY completion_date, habit_id`, userID, startDay, endDay)
	return completions, apperrors.Store("completions in range", err)
}

func (s *Store) queryCompletions(ctx context.Context, query string, args ...any) ([]models.Completion, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completions := []models.Completion{}
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		completions = append(completions, c)
	}
	return completions, rows.Err()
}

// DirtyCompletions returns the completions waiting to be pushed, excluding
// rows in conflict.
func (s *Store) DirtyCompletions(ctx context.Context, userID string) ([]models.Completion, error) {
	completions, err := s.queryCompletions(ctx, "SELECT "+completionColumns+` FROM habit_completions
		WHERE user_id = ? AND is_dirty = 1 AND sync_status != 'conflict'
		ORDER BY updated_at, id`, userID)
	return completions, apperrors.Store("dirty completions", err)
}

func (s *Store) MarkCompletionSynced(ctx context.Context, id string, pushedUpdatedAt, syncedAt time.Time) error {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return markSynced(ctx, tx, "habit_completions", id, pushedUpdatedAt, syncedAt)
	})
	return apperrors.Store("mark completion synced", err)
}

func (s *Store) MarkCompletionConflict(ctx context.Context, id string, conflict models.Conflict[models.Completion]) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("mark completion conflict", err)
	}
	return apperrors.Store("mark completion conflict",
		markConflict(ctx, s.db, "habit_completions", id, conflict.Fields, conflict))
}

func (s *Store) MarkCompletionError(ctx context.Context, id, msg string) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("mark completion error", err)
	}
	return apperrors.Store("mark completion error", markError(ctx, s.db, "habit_completions", id, msg))
}

// ApplyRemoteCompletion writes the remote version of a completion as clean
// and synced. A local row holding the same (habit, date) under another id
// is replaced; callers only do this when that row is clean.
func (s *Store) ApplyRemoteCompletion(ctx context.Context, c models.Completion) error {
	c.CreatedAt = normalizeTime(c.CreatedAt)
	c.UpdatedAt = normalizeTime(c.UpdatedAt)
	c.SyncMeta = models.Synced(s.syncedAt(c.LastSyncedAt))

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM habit_completions WHERE habit_id = ? AND completion_date = ? AND id != ?",
			c.HabitID, c.Date, c.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insertCompletionSQL+`
			ON CONFLICT(id) DO UPDATE SET
				habit_id = excluded.habit_id, completed_count = excluded.completed_count,
				completion_date = excluded.completion_date, note = excluded.note,
				updated_at = excluded.updated_at, last_synced_at = excluded.last_synced_at,
				is_dirty = 0, sync_status = 'synced', sync_error = '', conflict_data = NULL`,
			completionArgs(c)...)
		return err
	})
	if isForeignKeyViolation(err) {
		err = fmt.Errorf("habit %s of completion %s: %w", c.HabitID, c.ID, storage.ErrNotFound)
	}
	return apperrors.Store("apply remote completion", err)
}

func (s *Store) RequeueCompletion(ctx context.Context, id string, baseline *time.Time) error {
	if err := s.ready(); err != nil {
		return apperrors.Store("requeue completion", err)
	}
	return apperrors.Store("requeue completion", requeue(ctx, s.db, "habit_completions", id, baseline))
}
