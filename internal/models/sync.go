package models

import (
	"encoding/json"
	"time"
)

type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// SyncMeta is the per-row reconciliation state embedded in every record.
type SyncMeta struct {
	LastSyncedAt *time.Time      `json:"last_synced_at,omitempty"`
	IsDirty      bool            `json:"is_dirty"`
	Status       SyncStatus      `json:"sync_status"`
	SyncError    string          `json:"sync_error,omitempty"`
	ConflictData json.RawMessage `json:"conflict_data,omitempty"`
}

// Pending returns the metadata of a freshly mutated local row.
func Pending(lastSynced *time.Time) SyncMeta {
	return SyncMeta{LastSyncedAt: lastSynced, IsDirty: true, Status: SyncPending}
}

// Synced returns the metadata of a row confirmed by the remote at t.
func Synced(t time.Time) SyncMeta {
	t = t.UTC()
	return SyncMeta{LastSyncedAt: &t, Status: SyncSynced}
}

type RecordKind string

const (
	KindHabit      RecordKind = "habit"
	KindCompletion RecordKind = "completion"
)

type ResolutionChoice string

const (
	UseLocal  ResolutionChoice = "local"
	UseRemote ResolutionChoice = "remote"
)

// Conflict is the payload stored with a row in conflict: both versions and
// the names of the fields whose values differ.
type Conflict[T any] struct {
	Local  T        `json:"local"`
	Remote T        `json:"remote"`
	Fields []string `json:"conflicted_fields"`
}

// NewConflict builds a conflict payload by structural comparison.
func NewConflict[T any](local, remote T) Conflict[T] {
	return Conflict[T]{Local: local, Remote: remote, Fields: Diff(local, remote)}
}

// ConflictRef names a record left in conflict by a sync pass.
type ConflictRef struct {
	Kind   RecordKind `json:"kind"`
	ID     string     `json:"id"`
	Fields []string   `json:"conflicted_fields"`
}

// SyncResult summarizes one reconciliation pass. It is never persisted.
type SyncResult struct {
	Success           bool          `json:"success"`
	HabitsSynced      int           `json:"habits_synced"`
	CompletionsSynced int           `json:"completions_synced"`
	Pulled            int           `json:"pulled"`
	Conflicts         []ConflictRef `json:"conflicts"`
	Errors            []string      `json:"errors"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
}
