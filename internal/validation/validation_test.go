package validation

import (
	"strings"
	"testing"

	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
)

func validHabit() models.Habit {
	return models.Habit{
		ID:          "h1",
		UserID:      "u1",
		Title:       "Drink water",
		TargetCount: 8,
		TargetUnit:  "glasses",
		Frequency:   models.Daily{},
		Color:       "#4CAF50",
		Active:      true,
	}
}

func TestValidateHabit(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *models.Habit)
		want   ProblemType
	}{
		{"valid", func(h *models.Habit) {}, ""},
		{"empty title", func(h *models.Habit) { h.Title = "   " }, ProblemMissingField},
		{"long title", func(h *models.Habit) { h.Title = strings.Repeat("a", MaxTitleLength+1) }, ProblemFieldTooLong},
		{"missing user", func(h *models.Habit) { h.UserID = "" }, ProblemMissingField},
		{"zero target", func(h *models.Habit) { h.TargetCount = 0 }, ProblemInvalidTarget},
		{"bad color", func(h *models.Habit) { h.Color = "green" }, ProblemInvalidColor},
		{"short color ok", func(h *models.Habit) { h.Color = "#fff" }, ""},
		{"nil frequency", func(h *models.Habit) { h.Frequency = nil }, ProblemInvalidFrequency},
		{"weekly literal out of range", func(h *models.Habit) { h.Frequency = models.Weekly{TimesPerWeek: 9} }, ProblemInvalidFrequency},
		{"monthly literal count mismatch", func(h *models.Habit) {
			h.Frequency = models.Monthly{Days: []int{1, 2}, Count: 7}
		}, ProblemInvalidFrequency},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHabit()
			tt.mutate(&h)
			result := v.ValidateHabit(h)

			if tt.want == "" {
				if result.HasProblems() {
					t.Fatalf("unexpected problems: %s", result.FormatReport())
				}
				return
			}
			found := false
			for _, p := range result.Problems {
				if p.Type == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("expected problem %s, got %v", tt.want, result.Problems)
			}
		})
	}
}

func TestValidationResultErr(t *testing.T) {
	v := New()
	h := validHabit()
	h.Title = ""
	h.TargetCount = -1

	result := v.ValidateHabit(h)
	err := result.Err("create habit")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("expected validation kind, got %v", err)
	}
	if !strings.Contains(err.Error(), "title cannot be empty") || !strings.Contains(err.Error(), "target count") {
		t.Errorf("error should list every problem, got %q", err.Error())
	}

	clean := v.ValidateHabit(validHabit())
	if clean.Err("create habit") != nil {
		t.Error("clean result should produce nil error")
	}
}

func TestValidateHabits_DuplicateTitles(t *testing.T) {
	a := validHabit()
	b := validHabit()
	b.ID = "h2"
	b.Title = "drink WATER "
	c := validHabit()
	c.ID = "h3"
	c.Active = false

	result := New().ValidateHabits([]models.Habit{a, b, c})
	found := false
	for _, p := range result.Problems {
		if p.Type == ProblemDuplicateTitle {
			found = true
			if len(p.HabitIDs) != 2 {
				t.Errorf("duplicate should name the two active habits, got %v", p.HabitIDs)
			}
		}
	}
	if !found {
		t.Error("expected duplicate title problem")
	}
}

func TestValidateHabits_SyncStateMismatch(t *testing.T) {
	h := validHabit()
	h.Status = models.SyncConflict

	result := New().ValidateHabits([]models.Habit{h})
	if len(result.Problems) != 1 || result.Problems[0].Type != ProblemSyncStateMismatch {
		t.Errorf("expected one sync state problem, got %v", result.Problems)
	}
}

func TestValidateCountAndDate(t *testing.T) {
	v := New()
	if r := v.ValidateCount(-1); !r.HasProblems() {
		t.Error("negative count should be rejected")
	}
	if r := v.ValidateCount(0); r.HasProblems() {
		t.Error("zero count should be accepted")
	}
	if r := v.ValidateDate("2026-02-30"); !r.HasProblems() {
		t.Error("impossible date should be rejected")
	}
	if r := v.ValidateDate("2026-02-28"); r.HasProblems() {
		t.Error("valid date should be accepted")
	}
}
