package habits

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitkeep/internal/models"
)

type AddHabitMsg struct{}

type ToggleHabitMsg struct {
	ID string
}

type SetCountMsg struct {
	ID    string
	Count int
}

type DeactivateHabitMsg struct {
	ID string
}

type Item struct {
	View models.HabitView
}

func (i Item) Title() string {
	title := i.View.Title
	if i.View.Icon != "" {
		title = i.View.Icon + " " + title
	}
	switch {
	case i.View.CompletedToday:
		title = "✓ " + title
	case !i.View.ScheduledToday:
		title = "· " + title
	default:
		title = "○ " + title
	}
	if i.View.Status == models.SyncConflict {
		title += "  [conflict]"
	}
	return title
}

func (i Item) Description() string {
	progress := fmt.Sprintf("%d/%d", i.View.TodayCount, i.View.TargetCount)
	if i.View.TargetUnit != "" {
		progress += " " + i.View.TargetUnit
	}
	return fmt.Sprintf("%s · %s · streak %d (best %d)", progress, i.View.Frequency, i.View.CurrentStreak, i.View.LongestStreak)
}

func (i Item) FilterValue() string { return i.View.Title }

type KeyMap struct {
	Add        key.Binding
	Toggle     key.Binding
	Increment  key.Binding
	Decrement  key.Binding
	Deactivate key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Add: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "m"),
			key.WithHelp("space", "toggle"),
		),
		Increment: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "count up"),
		),
		Decrement: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "count down"),
		),
		Deactivate: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "deactivate"),
		),
	}
}

type Model struct {
	list list.Model
	keys KeyMap
}

func New(views []models.HabitView, width, height int) Model {
	l := list.New(toItems(views), list.NewDefaultDelegate(), width, height)
	l.Title = "Habits"
	l.SetShowTitle(false)
	l.SetShowHelp(false)

	keys := DefaultKeyMap()
	bindings := func() []key.Binding {
		return []key.Binding{keys.Add, keys.Toggle, keys.Increment, keys.Decrement, keys.Deactivate}
	}
	l.AdditionalShortHelpKeys = bindings
	l.AdditionalFullHelpKeys = bindings

	return Model{list: l, keys: keys}
}

func toItems(views []models.HabitView) []list.Item {
	items := make([]list.Item, len(views))
	for i, v := range views {
		items[i] = Item{View: v}
	}
	return items
}

func (m *Model) SetViews(views []models.HabitView) {
	m.list.SetItems(toItems(views))
}

// Selected returns the highlighted habit.
func (m Model) Selected() (models.HabitView, bool) {
	i, ok := m.list.SelectedItem().(Item)
	return i.View, ok
}

// Filtering reports whether the filter input has focus.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok && !m.Filtering() {
		switch {
		case key.Matches(msg, m.keys.Add):
			return m, func() tea.Msg { return AddHabitMsg{} }
		case key.Matches(msg, m.keys.Toggle):
			if v, ok := m.Selected(); ok {
				return m, func() tea.Msg { return ToggleHabitMsg{ID: v.ID} }
			}
		case key.Matches(msg, m.keys.Increment):
			if v, ok := m.Selected(); ok {
				return m, func() tea.Msg { return SetCountMsg{ID: v.ID, Count: v.TodayCount + 1} }
			}
		case key.Matches(msg, m.keys.Decrement):
			if v, ok := m.Selected(); ok && v.TodayCount > 0 {
				return m, func() tea.Msg { return SetCountMsg{ID: v.ID, Count: v.TodayCount - 1} }
			}
		case key.Matches(msg, m.keys.Deactivate):
			if v, ok := m.Selected(); ok {
				return m, func() tea.Msg { return DeactivateHabitMsg{ID: v.ID} }
			}
		}
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.list.Items()) == 0 && !m.Filtering() {
		return "\n  No habits yet.\n  Press 'a' to add one."
	}
	return m.list.View()
}

func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}
