package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitkeep/internal/coordinator"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/utils"
)

type HabitCmd struct {
	Add        HabitAddCmd        `cmd:"" help:"Add a new habit."`
	List       HabitListCmd       `cmd:"" help:"List habits with today's progress."`
	Update     HabitUpdateCmd     `cmd:"" help:"Update a habit."`
	Deactivate HabitDeactivateCmd `cmd:"" help:"Deactivate a habit. Its history is kept."`
	Delete     HabitDeleteCmd     `cmd:"" help:"Permanently delete a habit from this device."`
	Toggle     HabitToggleCmd     `cmd:"" help:"Toggle today's completion."`
	Set        HabitSetCmd        `cmd:"" help:"Set today's completion count."`
}

// FindHabit resolves ref as a habit id, a unique id prefix or a
// case-insensitive title.
func (c *Context) FindHabit(ctx context.Context, ref string) (models.Habit, error) {
	habits, err := c.Store.ListHabits(ctx, c.Config.UserID, true)
	if err != nil {
		return models.Habit{}, err
	}
	ref = strings.TrimSpace(ref)

	var matches []models.Habit
	for _, h := range habits {
		if h.ID == ref {
			return h, nil
		}
		if strings.EqualFold(h.Title, ref) || (len(ref) >= 4 && strings.HasPrefix(h.ID, ref)) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return models.Habit{}, fmt.Errorf("habit %q: %w", ref, coordinator.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return models.Habit{}, fmt.Errorf("%q matches %d habits, use the id", ref, len(matches))
	}
}

type HabitAddCmd struct {
	Title       string `arg:"" help:"Habit title."`
	Frequency   string `help:"daily, daily:mon,wed, weekly:N, monthly:N or monthly:1,15." default:"daily" short:"f"`
	Target      int    `help:"Target count per day." default:"1"`
	Unit        string `help:"Unit of the target count (e.g. glasses)."`
	Icon        string `help:"Icon shown next to the title."`
	Category    string `help:"Category."`
	Color       string `help:"Display color."`
	Description string `help:"Longer description."`
}

func (c *HabitAddCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	freq, err := models.ParseFrequency(c.Frequency)
	if err != nil {
		return err
	}
	in := models.HabitInput{
		Title:       c.Title,
		Icon:        c.Icon,
		Category:    c.Category,
		TargetCount: c.Target,
		TargetUnit:  c.Unit,
		Frequency:   freq,
		Color:       c.Color,
	}
	if c.Description != "" {
		in.Description = &c.Description
	}

	ctx.OpenRemote(bg)
	h, err := ctx.Coordinator.CreateHabit(bg, in)
	if err != nil {
		return err
	}
	ctx.Printf("Added habit: %s (%s) [%s]\n", h.Title, h.Frequency, h.ID)
	return nil
}

type HabitListCmd struct {
	All bool `help:"Include inactive habits."`
}

func (c *HabitListCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}

	views, err := ctx.Coordinator.GetHabits(bg)
	if err != nil {
		return err
	}

	if c.All {
		habits, err := ctx.Store.ListHabits(bg, ctx.Config.UserID, true)
		if err != nil {
			return err
		}
		for _, h := range habits {
			if !h.Active {
				views = append(views, models.HabitView{Habit: h})
			}
		}
	}

	if len(views) == 0 {
		ctx.Println("No habits found.")
		return nil
	}

	ctx.Println(HeaderStyle.Render("Habits") + "  " + StateLabel(ctx.Coordinator.SyncState(bg)))
	for _, v := range views {
		ctx.Println(formatHabitLine(v))
	}
	return nil
}

func formatHabitLine(v models.HabitView) string {
	mark := PendingStyle.Render("[ ]")
	switch {
	case !v.Active:
		mark = MutedStyle.Render("[-]")
	case v.CompletedToday:
		mark = DoneStyle.Render("[x]")
	case !v.ScheduledToday:
		mark = MutedStyle.Render("[ ]")
	}

	title := v.Title
	if v.Icon != "" {
		title = v.Icon + " " + title
	}
	line := fmt.Sprintf("%s %-28s %d/%d", mark, title, v.TodayCount, v.TargetCount)
	if v.TargetUnit != "" {
		line += " " + v.TargetUnit
	}
	line += MutedStyle.Render(fmt.Sprintf("  %s  streak %d (best %d)  %s", v.Frequency, v.CurrentStreak, v.LongestStreak, shortID(v.ID)))
	if v.Status == models.SyncConflict {
		line += "  " + ErrorStyle.Render("conflict")
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type HabitUpdateCmd struct {
	Habit            string `arg:"" help:"Habit id, id prefix or title."`
	Title            string `help:"New title."`
	Frequency        string `help:"New frequency." short:"f"`
	Target           int    `help:"New target count."`
	Unit             string `help:"New unit."`
	Icon             string `help:"New icon."`
	Category         string `help:"New category."`
	Color            string `help:"New color."`
	Description      string `help:"New description."`
	ClearDescription bool   `help:"Remove the description."`
	Activate         bool   `help:"Reactivate an inactive habit."`
}

func (c *HabitUpdateCmd) patch() (models.HabitPatch, error) {
	var p models.HabitPatch
	set := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	p.Title = set(c.Title)
	p.TargetUnit = set(c.Unit)
	p.Icon = set(c.Icon)
	p.Category = set(c.Category)
	p.Color = set(c.Color)
	p.Description = set(c.Description)
	if c.ClearDescription {
		empty := ""
		p.Description = &empty
	}
	if c.Target != 0 {
		p.TargetCount = &c.Target
	}
	if c.Frequency != "" {
		freq, err := models.ParseFrequency(c.Frequency)
		if err != nil {
			return p, err
		}
		p.Frequency = freq
	}
	if c.Activate {
		active := true
		p.Active = &active
	}
	return p, nil
}

func (c *HabitUpdateCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	h, err := ctx.FindHabit(bg, c.Habit)
	if err != nil {
		return err
	}
	p, err := c.patch()
	if err != nil {
		return err
	}

	ctx.OpenRemote(bg)
	updated, err := ctx.Coordinator.UpdateHabit(bg, h.ID, p)
	if err != nil {
		return err
	}
	ctx.Printf("Updated habit: %s (%s)\n", updated.Title, updated.Frequency)
	return nil
}

type HabitDeactivateCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (c *HabitDeactivateCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	h, err := ctx.FindHabit(bg, c.Habit)
	if err != nil {
		return err
	}
	ctx.OpenRemote(bg)
	if err := ctx.Coordinator.DeactivateHabit(bg, h.ID); err != nil {
		return err
	}
	ctx.Printf("Deactivated habit: %s\n", h.Title)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (c *HabitDeleteCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	h, err := ctx.FindHabit(bg, c.Habit)
	if err != nil {
		return err
	}

	ok, err := ctx.Confirm(
		fmt.Sprintf("Delete %q and all of its completions?", h.Title),
		"This only affects this device. Use deactivate to stop tracking everywhere.")
	if err != nil {
		return err
	}
	if !ok {
		ctx.Println("Delete cancelled.")
		return nil
	}

	if err := ctx.Store.DeleteHabit(bg, h.ID); err != nil {
		return err
	}
	ctx.Printf("Deleted habit: %s\n", h.Title)
	return nil
}

type HabitToggleCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (c *HabitToggleCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	h, err := ctx.FindHabit(bg, c.Habit)
	if err != nil {
		return err
	}
	ctx.OpenRemote(bg)
	done, err := ctx.Coordinator.ToggleCompletion(bg, h.ID)
	if err != nil {
		return err
	}
	if done.IsComplete(h.TargetCount) {
		ctx.Printf("%s %s\n", DoneStyle.Render("✓"), h.Title)
	} else {
		ctx.Printf("%s %s\n", MutedStyle.Render("○"), h.Title)
	}
	return nil
}

type HabitSetCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
	Count int    `arg:"" help:"Completed count for today."`
}

func (c *HabitSetCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	h, err := ctx.FindHabit(bg, c.Habit)
	if err != nil {
		return err
	}
	ctx.OpenRemote(bg)
	done, err := ctx.Coordinator.SetCompletionCount(bg, h.ID, c.Count)
	if err != nil {
		return err
	}
	ctx.Printf("%s: %d/%d\n", h.Title, done.CompletedCount, h.TargetCount)
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	stats, err := ctx.Coordinator.GetStats(bg)
	if err != nil {
		return err
	}
	ctx.Println(HeaderStyle.Render("Today"))
	ctx.Printf("  Habits:          %d\n", stats.TotalHabits)
	ctx.Printf("  Completed:       %d\n", stats.CompletedToday)
	ctx.Printf("  Best streak:     %d\n", stats.ActiveStreak)
	ctx.Printf("  Completion rate: %.0f%%\n", stats.CompletionRate*100)
	return nil
}

type HistoryCmd struct {
	From  string `help:"First day (YYYY-MM-DD). Defaults to seven days ago."`
	To    string `help:"Last day (YYYY-MM-DD). Defaults to today."`
	Habit string `help:"Only show this habit."`
}

func (c *HistoryCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}

	loc, err := ctx.Config.Location()
	if err != nil {
		return err
	}
	today, err := utils.ParseDate(utils.TodayIn(time.Now(), loc))
	if err != nil {
		return err
	}
	from, to := c.From, c.To
	if to == "" {
		to = utils.FormatDate(today)
	}
	if from == "" {
		from = utils.FormatDate(utils.AddDays(today, -6))
	}

	filter := ""
	if c.Habit != "" {
		h, err := ctx.FindHabit(bg, c.Habit)
		if err != nil {
			return err
		}
		filter = h.ID
	}

	completions, err := ctx.Coordinator.History(bg, from, to)
	if err != nil {
		return err
	}
	habits, err := ctx.Store.ListHabits(bg, ctx.Config.UserID, true)
	if err != nil {
		return err
	}
	titles := make(map[string]string, len(habits))
	for _, h := range habits {
		titles[h.ID] = h.Title
	}

	shown := 0
	for _, cm := range completions {
		if filter != "" && cm.HabitID != filter {
			continue
		}
		line := fmt.Sprintf("%s  %-28s %d", cm.Date, titles[cm.HabitID], cm.CompletedCount)
		if cm.Note != nil {
			line += MutedStyle.Render("  " + *cm.Note)
		}
		ctx.Println(line)
		shown++
	}
	if shown == 0 {
		ctx.Printf("No completions between %s and %s.\n", from, to)
	}
	return nil
}
