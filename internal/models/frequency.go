package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type FrequencyKind string

const (
	FrequencyDaily   FrequencyKind = "daily"
	FrequencyWeekly  FrequencyKind = "weekly"
	FrequencyMonthly FrequencyKind = "monthly"
)

// Frequency is the recurrence pattern of a habit. The only implementations
// are Daily, Weekly and Monthly, and their constructors refuse ill-formed
// parameters, so a Frequency value is always well-formed for its kind.
type Frequency interface {
	Kind() FrequencyKind
	String() string
	isFrequency()
}

// Daily repeats on the listed weekdays, or every day when Days is empty.
type Daily struct {
	Days []time.Weekday
}

// Weekly requires TimesPerWeek qualifying days in each calendar week.
type Weekly struct {
	TimesPerWeek int
}

// Monthly requires Count qualifying days in each calendar month. When Days
// is declared, Count is always len(Days).
type Monthly struct {
	Days  []int
	Count int
}

func (Daily) Kind() FrequencyKind   { return FrequencyDaily }
func (Weekly) Kind() FrequencyKind  { return FrequencyWeekly }
func (Monthly) Kind() FrequencyKind { return FrequencyMonthly }

func (Daily) isFrequency()   {}
func (Weekly) isFrequency()  {}
func (Monthly) isFrequency() {}

var weekdayLabels = [7]string{"Su", "M", "T", "W", "Th", "F", "Sa"}

var weekdayAliases = map[string]time.Weekday{
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
	"m": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"t": time.Tuesday, "tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
	"w": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
	"f": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
}

// WeekdayLabel returns the short label used in persisted day sets.
func WeekdayLabel(wd time.Weekday) string {
	return weekdayLabels[wd]
}

// ParseWeekday accepts short labels (M, Th, Sa), three-letter names and full
// names, case-insensitively.
func ParseWeekday(label string) (time.Weekday, error) {
	wd, ok := weekdayAliases[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday label %q", label)
	}
	return wd, nil
}

// NewDaily builds a daily frequency. Duplicate days are collapsed.
func NewDaily(days ...time.Weekday) (Daily, error) {
	if len(days) == 0 {
		return Daily{}, nil
	}
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return Daily{}, fmt.Errorf("invalid weekday %d", d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return Daily{Days: out}, nil
}

// NewDailyFromLabels builds a daily frequency from weekday labels.
func NewDailyFromLabels(labels ...string) (Daily, error) {
	days := make([]time.Weekday, 0, len(labels))
	for _, l := range labels {
		wd, err := ParseWeekday(l)
		if err != nil {
			return Daily{}, err
		}
		days = append(days, wd)
	}
	return NewDaily(days...)
}

// NewWeekly builds a weekly frequency of n occurrences per week.
func NewWeekly(n int) (Weekly, error) {
	if n < 1 || n > 7 {
		return Weekly{}, fmt.Errorf("weekly frequency must be between 1 and 7 times per week, got %d", n)
	}
	return Weekly{TimesPerWeek: n}, nil
}

// NewMonthly builds a monthly frequency. With days declared, count must be
// zero or equal to len(days).
func NewMonthly(days []int, count int) (Monthly, error) {
	if len(days) == 0 {
		if count < 1 || count > 31 {
			return Monthly{}, fmt.Errorf("monthly frequency count must be between 1 and 31, got %d", count)
		}
		return Monthly{Count: count}, nil
	}

	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 1 || d > 31 {
			return Monthly{}, fmt.Errorf("invalid day of month %d", d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	if count != 0 && count != len(out) {
		return Monthly{}, fmt.Errorf("monthly count %d does not match %d declared days", count, len(out))
	}
	return Monthly{Days: out, Count: len(out)}, nil
}

// Includes reports whether wd is a scheduled day.
func (d Daily) Includes(wd time.Weekday) bool {
	if len(d.Days) == 0 {
		return true
	}
	for _, day := range d.Days {
		if day == wd {
			return true
		}
	}
	return false
}

func (d Daily) Labels() []string {
	labels := make([]string, len(d.Days))
	for i, wd := range d.Days {
		labels[i] = WeekdayLabel(wd)
	}
	return labels
}

func (d Daily) String() string {
	if len(d.Days) == 0 {
		return "daily"
	}
	return "daily on " + strings.Join(d.Labels(), ",")
}

func (w Weekly) String() string {
	return fmt.Sprintf("%d× per week", w.TimesPerWeek)
}

// Required returns the number of qualifying days needed in a month.
func (m Monthly) Required() int {
	if len(m.Days) > 0 {
		return len(m.Days)
	}
	return m.Count
}

func (m Monthly) String() string {
	if len(m.Days) == 0 {
		return fmt.Sprintf("%d× per month", m.Count)
	}
	parts := make([]string, len(m.Days))
	for i, d := range m.Days {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "monthly on " + strings.Join(parts, ",")
}

// EncodeFrequency flattens f into the persisted columns. days is nil when
// the frequency declares no day set.
func EncodeFrequency(f Frequency) (kind FrequencyKind, days []byte, count int, err error) {
	switch v := f.(type) {
	case Daily:
		if len(v.Days) > 0 {
			days, err = json.Marshal(v.Labels())
		}
		return FrequencyDaily, days, 0, err
	case Weekly:
		return FrequencyWeekly, nil, v.TimesPerWeek, nil
	case Monthly:
		if len(v.Days) > 0 {
			days, err = json.Marshal(v.Days)
		}
		return FrequencyMonthly, days, v.Count, err
	case nil:
		return "", nil, 0, fmt.Errorf("frequency is required")
	default:
		return "", nil, 0, fmt.Errorf("unsupported frequency %T", f)
	}
}

// DecodeFrequency rebuilds a Frequency from persisted columns, rejecting
// parameters that do not belong to the declared kind.
func DecodeFrequency(kind string, days []byte, count int) (Frequency, error) {
	hasDays := len(days) > 0 && string(days) != "null" && string(days) != "[]"
	switch FrequencyKind(kind) {
	case FrequencyDaily:
		if !hasDays {
			return Daily{}, nil
		}
		var labels []string
		if err := json.Unmarshal(days, &labels); err != nil {
			return nil, fmt.Errorf("invalid daily day set: %w", err)
		}
		return NewDailyFromLabels(labels...)
	case FrequencyWeekly:
		if hasDays {
			return nil, fmt.Errorf("weekly frequency cannot carry a day set")
		}
		return NewWeekly(count)
	case FrequencyMonthly:
		var monthDays []int
		if hasDays {
			if err := json.Unmarshal(days, &monthDays); err != nil {
				return nil, fmt.Errorf("invalid monthly day set: %w", err)
			}
			count = 0
		}
		return NewMonthly(monthDays, count)
	default:
		return nil, fmt.Errorf("unknown frequency type %q", kind)
	}
}

// ParseFrequency parses the short text form used by the CLI and TUI:
//
//	daily              every day
//	daily:mon,wed,fri  selected weekdays
//	weekly:3           three times per week
//	monthly:4          four times per month
//	monthly:1,15       on days 1 and 15
func ParseFrequency(s string) (Frequency, error) {
	kind, arg, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch FrequencyKind(kind) {
	case FrequencyDaily:
		if arg == "" {
			return Daily{}, nil
		}
		return NewDailyFromLabels(strings.Split(arg, ",")...)
	case FrequencyWeekly:
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("weekly frequency needs a count, e.g. weekly:3")
		}
		return NewWeekly(n)
	case FrequencyMonthly:
		parts := strings.Split(arg, ",")
		nums := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid monthly value %q", p)
			}
			nums = append(nums, n)
		}
		if len(nums) == 1 {
			return NewMonthly(nil, nums[0])
		}
		return NewMonthly(nums, 0)
	default:
		return nil, fmt.Errorf("unknown frequency %q (use daily, weekly:N or monthly:N)", s)
	}
}
