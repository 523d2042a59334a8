// Package streak derives current and longest streaks from a habit's
// completion history. Everything here is pure: no clock, no I/O.
package streak

import (
	"time"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/utils"
)

// LookbackDays bounds the walk back from today, today included.
const LookbackDays = constants.StreakLookbackDays

// Result holds the streak lengths in periods of the habit's frequency:
// scheduled days, weeks or months.
type Result struct {
	Current int `json:"current_streak"`
	Longest int `json:"longest_streak"`
}

// Compute returns the streaks of h as of the calendar date of today.
//
// Periods are walked from newest to oldest. A period extends the run when
// its quota is met. The newest period (today, this week, this month) may be
// unmet without breaking the run because it has not elapsed yet; any older
// unmet period breaks it.
func Compute(h models.Habit, completions []models.Completion, today time.Time) Result {
	day := civil(today)
	start := utils.AddDays(day, -(LookbackDays - 1))

	target := h.TargetCount
	if target < 1 {
		target = 1
	}
	met := make(map[time.Time]bool, len(completions))
	for _, c := range completions {
		if c.HabitID != "" && h.ID != "" && c.HabitID != h.ID {
			continue
		}
		if !c.IsComplete(target) {
			continue
		}
		d, err := utils.ParseDate(c.Date)
		if err != nil || d.Before(start) || d.After(day) {
			continue
		}
		met[d] = true
	}

	switch f := h.Frequency.(type) {
	case models.Weekly:
		return weekly(f, met, day, start)
	case models.Monthly:
		return monthly(f, met, day, start)
	case models.Daily:
		return daily(f, met, day)
	default:
		return daily(models.Daily{}, met, day)
	}
}

func daily(f models.Daily, met map[time.Time]bool, today time.Time) Result {
	var periods []bool
	for i := 0; i < LookbackDays; i++ {
		d := utils.AddDays(today, -i)
		if !f.Includes(d.Weekday()) {
			continue
		}
		periods = append(periods, met[d])
	}
	// Grace belongs to today only; when today is not scheduled the first
	// period is an earlier, fully elapsed day.
	return walk(periods, f.Includes(today.Weekday()))
}

func weekly(f models.Weekly, met map[time.Time]bool, today, start time.Time) Result {
	counts := make(map[time.Time]int)
	for d := range met {
		counts[utils.WeekStart(d)]++
	}

	var periods []bool
	for ws := utils.WeekStart(today); !utils.AddDays(ws, 6).Before(start); ws = utils.AddDays(ws, -7) {
		periods = append(periods, counts[ws] >= f.TimesPerWeek)
	}
	return walk(periods, true)
}

func monthly(f models.Monthly, met map[time.Time]bool, today, start time.Time) Result {
	counts := make(map[time.Time]int)
	for d := range met {
		counts[utils.MonthStart(d)]++
	}

	required := f.Required()
	var periods []bool
	for ms := utils.MonthStart(today); !ms.AddDate(0, 1, -1).Before(start); ms = ms.AddDate(0, -1, 0) {
		periods = append(periods, counts[ms] >= required)
	}
	return walk(periods, true)
}

// walk counts the trailing run of satisfied periods, newest first, and the
// longest run seen on the way.
func walk(periods []bool, grace bool) Result {
	var res Result
	run := 0
	open := true
	for i, ok := range periods {
		if ok {
			run++
			if run > res.Longest {
				res.Longest = run
			}
			continue
		}
		if i == 0 && grace {
			continue
		}
		if open {
			res.Current = run
			open = false
		}
		run = 0
	}
	if open {
		res.Current = run
	}
	return res
}

// ScheduledOn reports whether the habit expects progress on day. Weekly and
// count-based monthly habits can be done on any day.
func ScheduledOn(f models.Frequency, day time.Time) bool {
	switch v := f.(type) {
	case models.Daily:
		return v.Includes(day.Weekday())
	case models.Monthly:
		if len(v.Days) == 0 {
			return true
		}
		for _, d := range v.Days {
			if d == day.Day() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
