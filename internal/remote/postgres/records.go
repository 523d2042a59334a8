package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/remote"
)

const habitColumns = `id, user_id, title, icon, description, category, target_count, target_unit,
	frequency_type, frequency_days, frequency_count, color, is_active, created_at, updated_at, server_updated_at`

const completionColumns = `id, habit_id, user_id, completed_count, completion_date, note,
	created_at, updated_at, server_updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanHabit(row scanner) (models.Habit, error) {
	var (
		h           models.Habit
		description sql.NullString
		freqType    string
		freqDays    sql.NullString
		freqCount   int
		serverTime  time.Time
	)
	err := row.Scan(&h.ID, &h.UserID, &h.Title, &h.Icon, &description, &h.Category, &h.TargetCount, &h.TargetUnit,
		&freqType, &freqDays, &freqCount, &h.Color, &h.Active, &h.CreatedAt, &h.UpdatedAt, &serverTime)
	if err != nil {
		return models.Habit{}, err
	}
	if description.Valid {
		h.Description = &description.String
	}
	var days []byte
	if freqDays.Valid {
		days = []byte(freqDays.String)
	}
	if h.Frequency, err = models.DecodeFrequency(freqType, days, freqCount); err != nil {
		return models.Habit{}, fmt.Errorf("remote habit %s: %w", h.ID, err)
	}
	h.CreatedAt = h.CreatedAt.UTC()
	h.UpdatedAt = h.UpdatedAt.UTC()
	h.SyncMeta = models.Synced(serverTime)
	return h, nil
}

func scanCompletion(row scanner) (models.Completion, error) {
	var (
		c          models.Completion
		note       sql.NullString
		serverTime time.Time
	)
	err := row.Scan(&c.ID, &c.HabitID, &c.UserID, &c.CompletedCount, &c.Date, &note,
		&c.CreatedAt, &c.UpdatedAt, &serverTime)
	if err != nil {
		return models.Completion{}, err
	}
	if note.Valid {
		c.Note = &note.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.SyncMeta = models.Synced(serverTime)
	return c, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// UpsertHabit writes h unless the remote row changed after h's baseline.
func (c *Client) UpsertHabit(ctx context.Context, h models.Habit) (remote.Outcome[models.Habit], error) {
	var out remote.Outcome[models.Habit]
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanHabit(tx.QueryRowContext(ctx,
			"SELECT "+habitColumns+" FROM habits WHERE id = $1 FOR UPDATE", h.ID))
		switch {
		case err == nil:
			if remote.IsConflicting(*existing.LastSyncedAt, h.LastSyncedAt) {
				out = remote.Outcome[models.Habit]{Status: remote.Conflict, Remote: existing, ServerTime: *existing.LastSyncedAt}
				return nil
			}
		case !errors.Is(err, sql.ErrNoRows):
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

		var serverTime time.Time
		err = tx.QueryRowContext(ctx, `
			INSERT INTO habits (id, user_id, title, icon, description, category, target_count, target_unit,
				frequency_type, frequency_days, frequency_count, color, is_active, created_at, updated_at, server_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, clock_timestamp())
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, icon = EXCLUDED.icon, description = EXCLUDED.description,
				category = EXCLUDED.category, target_count = EXCLUDED.target_count, target_unit = EXCLUDED.target_unit,
				frequency_type = EXCLUDED.frequency_type, frequency_days = EXCLUDED.frequency_days,
				frequency_count = EXCLUDED.frequency_count, color = EXCLUDED.color, is_active = EXCLUDED.is_active,
				updated_at = EXCLUDED.updated_at, server_updated_at = clock_timestamp()
			RETURNING server_updated_at`,
			h.ID, h.UserID, h.Title, h.Icon, nullString(h.Description), h.Category, h.TargetCount, h.TargetUnit,
			string(kind), freqDays, count, h.Color, h.Active, h.CreatedAt, h.UpdatedAt).Scan(&serverTime)
		if err != nil {
			return err
		}
		if err := notify(ctx, tx, remote.ChangeEvent{Kind: models.KindHabit, ID: h.ID, UserID: h.UserID}); err != nil {
			return err
		}

		h.SyncMeta = models.Synced(serverTime)
		out = remote.Outcome[models.Habit]{Status: remote.Applied, Remote: h, ServerTime: h.LastSyncedAt.UTC()}
		return nil
	})
	if err != nil {
		return remote.Outcome[models.Habit]{}, classify(fmt.Errorf("upsert habit %s: %w", h.ID, err))
	}
	return out, nil
}

// UpsertCompletion writes cm unless the remote row changed after its
// baseline or another completion already holds the same habit and date.
func (c *Client) UpsertCompletion(ctx context.Context, cm models.Completion) (remote.Outcome[models.Completion], error) {
	var out remote.Outcome[models.Completion]
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+completionColumns+` FROM habit_completions
			WHERE id = $1 OR (habit_id = $2 AND completion_date = $3) FOR UPDATE`, cm.ID, cm.HabitID, cm.Date)
		if err != nil {
			return err
		}
		var found []models.Completion
		for rows.Next() {
			existing, err := scanCompletion(rows)
			if err != nil {
				rows.Close()
				return err
			}
			found = append(found, existing)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, existing := range found {
			if existing.ID != cm.ID || remote.IsConflicting(*existing.LastSyncedAt, cm.LastSyncedAt) {
				out = remote.Outcome[models.Completion]{Status: remote.Conflict, Remote: existing, ServerTime: *existing.LastSyncedAt}
				return nil
			}
		}

		var serverTime time.Time
		err = tx.QueryRowContext(ctx, `
			INSERT INTO habit_completions (id, habit_id, user_id, completed_count, completion_date, note,
				created_at, updated_at, server_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp())
			ON CONFLICT (id) DO UPDATE SET
				completed_count = EXCLUDED.completed_count, note = EXCLUDED.note,
				updated_at = EXCLUDED.updated_at, server_updated_at = clock_timestamp()
			RETURNING server_updated_at`,
			cm.ID, cm.HabitID, cm.UserID, cm.CompletedCount, cm.Date, nullString(cm.Note),
			cm.CreatedAt, cm.UpdatedAt).Scan(&serverTime)
		if err != nil {
			return err
		}
		if err := notify(ctx, tx, remote.ChangeEvent{Kind: models.KindCompletion, ID: cm.ID, UserID: cm.UserID}); err != nil {
			return err
		}

		cm.SyncMeta = models.Synced(serverTime)
		out = remote.Outcome[models.Completion]{Status: remote.Applied, Remote: cm, ServerTime: cm.LastSyncedAt.UTC()}
		return nil
	})
	if err != nil {
		return remote.Outcome[models.Completion]{}, classify(fmt.Errorf("upsert completion %s: %w", cm.ID, err))
	}
	return out, nil
}

// FetchChangesSince returns the user's rows written after since. The
// returned ServerTime is the newest write seen, so a checkpoint set from it
// never skips a row.
func (c *Client) FetchChangesSince(ctx context.Context, userID string, since time.Time) (remote.Changes, error) {
	if c.db == nil {
		return remote.Changes{}, fmt.Errorf("%w: client not opened", remote.ErrUnavailable)
	}
	changes := remote.Changes{ServerTime: since}
	advance := func(t *time.Time) {
		if t != nil && t.After(changes.ServerTime) {
			changes.ServerTime = *t
		}
	}

	rows, err := c.db.QueryContext(ctx, "SELECT "+habitColumns+`
		FROM habits WHERE user_id = $1 AND server_updated_at > $2 ORDER BY server_updated_at`, userID, since)
	if err != nil {
		return remote.Changes{}, classify(fmt.Errorf("fetch habits: %w", err))
	}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			rows.Close()
			return remote.Changes{}, fmt.Errorf("fetch habits: %w", err)
		}
		advance(h.LastSyncedAt)
		changes.Habits = append(changes.Habits, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return remote.Changes{}, classify(fmt.Errorf("fetch habits: %w", err))
	}

	rows, err = c.db.QueryContext(ctx, "SELECT "+completionColumns+`
		FROM habit_completions WHERE user_id = $1 AND server_updated_at > $2 ORDER BY server_updated_at`, userID, since)
	if err != nil {
		return remote.Changes{}, classify(fmt.Errorf("fetch completions: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		cm, err := scanCompletion(rows)
		if err != nil {
			return remote.Changes{}, fmt.Errorf("fetch completions: %w", err)
		}
		advance(cm.LastSyncedAt)
		changes.Completions = append(changes.Completions, cm)
	}
	if err := rows.Err(); err != nil {
		return remote.Changes{}, classify(fmt.Errorf("fetch completions: %w", err))
	}
	return changes, nil
}

func (c *Client) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if c.db == nil {
		return fmt.Errorf("%w: client not opened", remote.ErrUnavailable)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notify(ctx context.Context, tx *sql.Tx, ev remote.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", constants.RemoteChangeChannel, string(payload))
	return err
}
