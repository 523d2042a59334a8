package models

// HabitView is a habit with the fields derived for "today".
type HabitView struct {
	Habit
	TodayCount     int     `json:"today_count"`
	CompletedToday bool    `json:"completed_today"`
	ScheduledToday bool    `json:"scheduled_today"`
	Progress       float64 `json:"progress"` // 0..1
	CurrentStreak  int     `json:"current_streak"`
	LongestStreak  int     `json:"longest_streak"`
}

// Stats aggregates today's state across active habits.
type Stats struct {
	TotalHabits    int     `json:"total_habits"`
	CompletedToday int     `json:"completed_today"`
	ActiveStreak   int     `json:"active_streak"`
	CompletionRate float64 `json:"completion_rate"` // 0..1
}
