package models

import "time"

// Completion records progress on a habit for one calendar day. There is at
// most one per (HabitID, Date).
type Completion struct {
	ID             string    `json:"id"`
	HabitID        string    `json:"habit_id" diff:"habit_id"`
	UserID         string    `json:"user_id"`
	CompletedCount int       `json:"completed_count" diff:"completed_count"`
	Date           string    `json:"completion_date" diff:"completion_date"` // YYYY-MM-DD format
	Note           *string   `json:"note,omitempty" diff:"note"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SyncMeta
}

// IsComplete reports whether the day meets the habit's target.
func (c Completion) IsComplete(target int) bool {
	return c.CompletedCount >= target
}

// ToggledCount returns the count a two-state toggle moves to: the target
// when below it, zero otherwise.
func ToggledCount(current, target int) int {
	if current < target {
		return target
	}
	return 0
}
