package storage

import (
	"context"
	"errors"
	"time"

	"github.com/julianstephens/habitkeep/internal/models"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// IntegrityReport is the outcome of a consistency check.
type IntegrityReport struct {
	OK       bool
	Problems []string
}

type Provider interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	VerifyIntegrity(ctx context.Context) IntegrityReport
	Reset(ctx context.Context) error
	DedupeCompletions(ctx context.Context) (int, error)
	Backup(ctx context.Context) (string, error)
	SchemaVersion(ctx context.Context) (int, error)

	// Habits
	CreateHabit(ctx context.Context, h models.Habit) (models.Habit, error)
	UpdateHabit(ctx context.Context, h models.Habit) (models.Habit, error)
	GetHabit(ctx context.Context, id string) (models.Habit, error)
	ListHabits(ctx context.Context, userID string, includeInactive bool) ([]models.Habit, error)
	DeactivateHabit(ctx context.Context, id string, at time.Time) error
	DeleteHabit(ctx context.Context, id string) error

	// Completions
	// SaveCompletion inserts c, or updates the existing row for the same
	// (habit, date) when one is already present. The returned record
	// carries the id that was actually persisted.
	SaveCompletion(ctx context.Context, c models.Completion) (models.Completion, error)
	GetCompletion(ctx context.Context, habitID, date string) (models.Completion, error)
	GetCompletionByID(ctx context.Context, id string) (models.Completion, error)
	ListCompletions(ctx context.Context, habitID string) ([]models.Completion, error)
	CompletionsInRange(ctx context.Context, userID, startDay, endDay string) ([]models.Completion, error)

	// Sync
	DirtyHabits(ctx context.Context, userID string) ([]models.Habit, error)
	MarkHabitSynced(ctx context.Context, id string, pushedUpdatedAt, syncedAt time.Time) error
	MarkHabitConflict(ctx context.Context, id string, conflict models.Conflict[models.Habit]) error
	MarkHabitError(ctx context.Context, id, msg string) error
	ApplyRemoteHabit(ctx context.Context, h models.Habit) error
	// RequeueHabit clears a conflict, rebases the row onto baseline and
	// marks it pending so the next push overwrites the remote.
	RequeueHabit(ctx context.Context, id string, baseline *time.Time) error

	DirtyCompletions(ctx context.Context, userID string) ([]models.Completion, error)
	MarkCompletionSynced(ctx context.Context, id string, pushedUpdatedAt, syncedAt time.Time) error
	MarkCompletionConflict(ctx context.Context, id string, conflict models.Conflict[models.Completion]) error
	MarkCompletionError(ctx context.Context, id, msg string) error
	ApplyRemoteCompletion(ctx context.Context, c models.Completion) error
	RequeueCompletion(ctx context.Context, id string, baseline *time.Time) error

	ListConflicts(ctx context.Context, userID string) ([]models.ConflictRef, error)
	GetCheckpoint(ctx context.Context, key string) (time.Time, error)
	SetCheckpoint(ctx context.Context, key string, t time.Time) error

	// Utils
	Path() string
}
