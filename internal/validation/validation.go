package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/julianstephens/habitkeep/internal/constants"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
)

// ProblemType represents the type of validation problem
type ProblemType string

const (
	ProblemMissingField      ProblemType = "missing_field"
	ProblemInvalidTarget     ProblemType = "invalid_target"
	ProblemInvalidColor      ProblemType = "invalid_color"
	ProblemInvalidFrequency  ProblemType = "invalid_frequency"
	ProblemFieldTooLong      ProblemType = "field_too_long"
	ProblemDuplicateTitle    ProblemType = "duplicate_title"
	ProblemInvalidCount      ProblemType = "invalid_count"
	ProblemInvalidDate       ProblemType = "invalid_date"
	ProblemSyncStateMismatch ProblemType = "sync_state_mismatch"
)

const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
	MaxTargetCount       = 10000
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Problem represents a single detected validation problem
type Problem struct {
	Type        ProblemType
	Field       string
	Description string
	HabitIDs    []string
}

// ValidationResult contains all detected problems
type ValidationResult struct {
	Problems []Problem
}

// HasProblems returns true if there are any problems
func (vr *ValidationResult) HasProblems() bool {
	return len(vr.Problems) > 0
}

// FormatReport returns a human-readable report of all problems
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasProblems() {
		return "No problems detected."
	}

	var b strings.Builder
	b.WriteString("Problems detected:\n")
	for _, p := range vr.Problems {
		fmt.Fprintf(&b, "- %s\n", p.Description)
	}
	return b.String()
}

// Err converts the result into a validation error, or nil when clean.
func (vr *ValidationResult) Err(op string) error {
	if !vr.HasProblems() {
		return nil
	}
	descs := make([]string, len(vr.Problems))
	for i, p := range vr.Problems {
		descs[i] = p.Description
	}
	return apperrors.Validation(op, "%s", strings.Join(descs, "; "))
}

func (vr *ValidationResult) add(t ProblemType, field, format string, args ...interface{}) {
	vr.Problems = append(vr.Problems, Problem{Type: t, Field: field, Description: fmt.Sprintf(format, args...)})
}

// Validator validates habit definitions and completion input
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

// ValidateHabit checks a single habit definition.
func (v *Validator) ValidateHabit(h models.Habit) ValidationResult {
	result := ValidationResult{}

	if strings.TrimSpace(h.UserID) == "" {
		result.add(ProblemMissingField, "user_id", "habit must belong to a user")
	}

	title := strings.TrimSpace(h.Title)
	if title == "" {
		result.add(ProblemMissingField, "title", "title cannot be empty")
	} else if utf8.RuneCountInString(title) > MaxTitleLength {
		result.add(ProblemFieldTooLong, "title", "title must be at most %d characters", MaxTitleLength)
	}

	if h.Description != nil && utf8.RuneCountInString(*h.Description) > MaxDescriptionLength {
		result.add(ProblemFieldTooLong, "description", "description must be at most %d characters", MaxDescriptionLength)
	}

	if h.TargetCount < 1 || h.TargetCount > MaxTargetCount {
		result.add(ProblemInvalidTarget, "target_count", "target count must be between 1 and %d, got %d", MaxTargetCount, h.TargetCount)
	}

	if h.Color != "" && !colorPattern.MatchString(h.Color) {
		result.add(ProblemInvalidColor, "color", "color %q must be a hex value like #4CAF50", h.Color)
	}

	if h.Frequency == nil {
		result.add(ProblemInvalidFrequency, "frequency", "frequency is required")
	} else if err := checkFrequency(h.Frequency); err != nil {
		result.add(ProblemInvalidFrequency, "frequency", "%v", err)
	}

	return result
}

// checkFrequency re-runs the constructor rules for values built without
// them (struct literals).
func checkFrequency(f models.Frequency) error {
	switch v := f.(type) {
	case models.Daily:
		_, err := models.NewDaily(v.Days...)
		return err
	case models.Weekly:
		_, err := models.NewWeekly(v.TimesPerWeek)
		return err
	case models.Monthly:
		m, err := models.NewMonthly(v.Days, v.Count)
		if err != nil {
			return err
		}
		if m.Count != v.Count {
			return fmt.Errorf("monthly count %d does not match %d declared days", v.Count, len(v.Days))
		}
		return nil
	default:
		return fmt.Errorf("unsupported frequency %T", f)
	}
}

// ValidateHabits checks a set of habits, adding cross-habit checks such as
// duplicate active titles for the same user.
func (v *Validator) ValidateHabits(habits []models.Habit) ValidationResult {
	result := ValidationResult{}

	titles := make(map[string][]string)
	for _, h := range habits {
		single := v.ValidateHabit(h)
		for _, p := range single.Problems {
			p.Description = fmt.Sprintf("habit %q: %s", h.Title, p.Description)
			p.HabitIDs = []string{h.ID}
			result.Problems = append(result.Problems, p)
		}

		if (h.Status == models.SyncConflict) != (len(h.ConflictData) > 0) {
			result.Problems = append(result.Problems, Problem{
				Type:        ProblemSyncStateMismatch,
				Field:       "sync_status",
				Description: fmt.Sprintf("habit %q: sync status %s does not match its conflict payload", h.Title, h.Status),
				HabitIDs:    []string{h.ID},
			})
		}

		if h.Active && strings.TrimSpace(h.Title) != "" {
			key := h.UserID + "\x00" + strings.ToLower(strings.TrimSpace(h.Title))
			titles[key] = append(titles[key], h.ID)
		}
	}

	for key, ids := range titles {
		if len(ids) > 1 {
			title := key[strings.IndexByte(key, 0)+1:]
			result.Problems = append(result.Problems, Problem{
				Type:        ProblemDuplicateTitle,
				Field:       "title",
				Description: fmt.Sprintf("duplicate active habit title %q (IDs: %v)", title, ids),
				HabitIDs:    ids,
			})
		}
	}

	return result
}

// ValidateCount checks an explicit completion count.
func (v *Validator) ValidateCount(count int) ValidationResult {
	result := ValidationResult{}
	if count < 0 || count > MaxTargetCount {
		result.add(ProblemInvalidCount, "completed_count", "completed count must be between 0 and %d, got %d", MaxTargetCount, count)
	}
	return result
}

// ValidateDate checks a YYYY-MM-DD calendar date.
func (v *Validator) ValidateDate(day string) ValidationResult {
	result := ValidationResult{}
	if _, err := time.Parse(constants.DateFormat, day); err != nil {
		result.add(ProblemInvalidDate, "completion_date", "invalid date %q (expected YYYY-MM-DD)", day)
	}
	return result
}
