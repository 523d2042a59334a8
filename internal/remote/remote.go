// Package remote defines the backend the sync engine reconciles against.
// Implementations own their transport, authentication and timeouts.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/julianstephens/habitkeep/internal/models"
)

// ErrUnavailable reports that the backend cannot be reached at all. Any
// other error from a Client call concerns only the record involved.
var ErrUnavailable = errors.New("remote backend unavailable")

type OutcomeStatus int

const (
	// Applied means the record was written remotely.
	Applied OutcomeStatus = iota
	// Conflict means the remote row changed after the record's sync
	// baseline. Nothing was written.
	Conflict
)

func (s OutcomeStatus) String() string {
	if s == Conflict {
		return "conflict"
	}
	return "applied"
}

// Outcome is the result of an upsert. On Conflict, Remote holds the
// current remote version. ServerTime is the remote clock at the write (or
// at the conflicting row's last write) and becomes the record's new sync
// baseline.
type Outcome[T any] struct {
	Status     OutcomeStatus
	Remote     T
	ServerTime time.Time
}

// Changes are the rows modified remotely after a checkpoint. Records carry
// their remote modification time in LastSyncedAt.
type Changes struct {
	Habits      []models.Habit
	Completions []models.Completion
	ServerTime  time.Time
}

// ChangeEvent announces a remote modification.
type ChangeEvent struct {
	Kind   models.RecordKind `json:"kind"`
	ID     string            `json:"id"`
	UserID string            `json:"user_id"`
}

// Subscription is an active change feed.
type Subscription interface {
	Close() error
}

// Client is the authenticated CRUD and change-notification surface of the
// backend. Upserts must be idempotent per record id.
type Client interface {
	UpsertHabit(ctx context.Context, h models.Habit) (Outcome[models.Habit], error)
	UpsertCompletion(ctx context.Context, c models.Completion) (Outcome[models.Completion], error)
	FetchChangesSince(ctx context.Context, userID string, since time.Time) (Changes, error)
	SubscribeToChanges(ctx context.Context, userID string, fn func(ChangeEvent)) (Subscription, error)
}

// IsConflicting applies the backend's conflict rule: an existing remote
// row conflicts when it was written after the pushed record's baseline, or
// when the record has never been synced.
func IsConflicting(remoteModified time.Time, baseline *time.Time) bool {
	if baseline == nil {
		return true
	}
	return remoteModified.After(*baseline)
}
