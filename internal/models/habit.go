package models

import (
	"encoding/json"
	"time"
)

// Habit is a user-defined recurring task.
type Habit struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title" diff:"title"`
	Icon        string    `json:"icon" diff:"icon"`
	Description *string   `json:"description,omitempty" diff:"description"`
	Category    string    `json:"category" diff:"category"`
	TargetCount int       `json:"target_count" diff:"target_count"`
	TargetUnit  string    `json:"target_unit" diff:"target_unit"`
	Frequency   Frequency `json:"-" diff:"frequency"`
	Color       string    `json:"color" diff:"color"`
	Active      bool      `json:"is_active" diff:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SyncMeta
}

type habitJSON struct {
	habitAlias
	FrequencyType  FrequencyKind   `json:"frequency_type"`
	FrequencyDays  json.RawMessage `json:"frequency_days,omitempty"`
	FrequencyCount int             `json:"frequency_count,omitempty"`
}

type habitAlias Habit

// MarshalJSON flattens the frequency into the same three fields used by the
// database columns.
func (h Habit) MarshalJSON() ([]byte, error) {
	kind, days, count, err := EncodeFrequency(h.Frequency)
	if err != nil {
		return nil, err
	}
	return json.Marshal(habitJSON{
		habitAlias:     habitAlias(h),
		FrequencyType:  kind,
		FrequencyDays:  days,
		FrequencyCount: count,
	})
}

func (h *Habit) UnmarshalJSON(data []byte) error {
	var raw habitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	freq, err := DecodeFrequency(string(raw.FrequencyType), raw.FrequencyDays, raw.FrequencyCount)
	if err != nil {
		return err
	}
	*h = Habit(raw.habitAlias)
	h.Frequency = freq
	return nil
}

// HabitInput carries the user-supplied fields of a new habit.
type HabitInput struct {
	Title       string
	Icon        string
	Description *string
	Category    string
	TargetCount int
	TargetUnit  string
	Frequency   Frequency
	Color       string
}

// HabitPatch carries optional field updates. Nil fields are left unchanged.
type HabitPatch struct {
	Title       *string
	Icon        *string
	Description *string
	Category    *string
	TargetCount *int
	TargetUnit  *string
	Frequency   Frequency
	Color       *string
	Active      *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p HabitPatch) IsEmpty() bool {
	return p.Title == nil && p.Icon == nil && p.Description == nil && p.Category == nil &&
		p.TargetCount == nil && p.TargetUnit == nil && p.Frequency == nil && p.Color == nil &&
		p.Active == nil
}

// Apply returns a copy of h with the patch applied.
func (p HabitPatch) Apply(h Habit) Habit {
	if p.Title != nil {
		h.Title = *p.Title
	}
	if p.Icon != nil {
		h.Icon = *p.Icon
	}
	if p.Description != nil {
		if *p.Description == "" {
			h.Description = nil
		} else {
			d := *p.Description
			h.Description = &d
		}
	}
	if p.Category != nil {
		h.Category = *p.Category
	}
	if p.TargetCount != nil {
		h.TargetCount = *p.TargetCount
	}
	if p.TargetUnit != nil {
		h.TargetUnit = *p.TargetUnit
	}
	if p.Frequency != nil {
		h.Frequency = p.Frequency
	}
	if p.Color != nil {
		h.Color = *p.Color
	}
	if p.Active != nil {
		h.Active = *p.Active
	}
	return h
}
