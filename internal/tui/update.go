package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitkeep/internal/coordinator"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/syncer"
	"github.com/julianstephens/habitkeep/internal/tui/components/habits"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h, v := docStyle.GetFrameSize()
		// title, stats, status and help lines
		m.habitsModel.SetSize(msg.Width-h, msg.Height-v-4)
		return m, nil

	case ViewsMsg:
		m.habitsModel.SetViews(msg)
		return m, m.loadStats()

	case statsMsg:
		m.stats = models.Stats(msg)
		return m, nil

	case syncStateMsg:
		m.syncState = syncer.SyncState(msg)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadStatus(), tick())

	case syncDoneMsg:
		if msg.err != nil {
			m.status = describeError(msg.err)
		} else {
			m.status = describeSync(msg.result)
		}
		return m, m.loadStatus()

	case errMsg:
		m.status = describeError(msg.err)
		return m, nil

	case habitAddedMsg:
		m.status = fmt.Sprintf("Added %q", msg.title)
		return m, m.loadStatus()
	}

	if m.state == stateAddHabit {
		return m.updateForm(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.habitsModel.Filtering() {
			switch {
			case key.Matches(msg, m.keys.Quit):
				m.quitting = true
				return m, tea.Quit
			case key.Matches(msg, m.keys.Help):
				m.help.ShowAll = !m.help.ShowAll
				return m, nil
			case key.Matches(msg, m.keys.Sync):
				m.status = "Syncing..."
				m.syncState = syncer.StateSyncing
				return m, m.syncNow()
			case key.Matches(msg, m.keys.Refresh):
				return m, m.loadHabits()
			}
		}

	case habits.AddHabitMsg:
		m.habitForm = &HabitFormModel{Frequency: "daily", Target: "1"}
		m.form = newHabitForm(m.habitForm)
		m.formError = ""
		m.state = stateAddHabit
		return m, m.form.Init()

	case habits.ToggleHabitMsg:
		return m, m.run(func(ctx context.Context) error {
			_, err := m.backend.ToggleCompletion(ctx, msg.ID)
			return err
		})

	case habits.SetCountMsg:
		return m, m.run(func(ctx context.Context) error {
			_, err := m.backend.SetCompletionCount(ctx, msg.ID, msg.Count)
			return err
		})

	case habits.DeactivateHabitMsg:
		return m, m.run(func(ctx context.Context) error {
			return m.backend.DeactivateHabit(ctx, msg.ID)
		})
	}

	var cmd tea.Cmd
	m.habitsModel, cmd = m.habitsModel.Update(msg)
	return m, cmd
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		m.state = stateHabits
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		in, err := m.habitForm.input()
		if err != nil {
			// Stay in the form so the user can fix the input or cancel with ESC
			m.formError = describeError(err)
			m.form = newHabitForm(m.habitForm)
			return m, m.form.Init()
		}
		m.state = stateHabits
		return m, m.createHabit(in)
	case huh.StateAborted:
		m.state = stateHabits
		return m, nil
	}
	return m, cmd
}

type habitAddedMsg struct{ title string }

// createHabit runs off the event loop because the backend publishes the
// new projection back into the program.
func (m Model) createHabit(in models.HabitInput) tea.Cmd {
	return func() tea.Msg {
		h, err := m.backend.CreateHabit(context.Background(), in)
		if err != nil {
			return errMsg{err}
		}
		return habitAddedMsg{title: h.Title}
	}
}

func newHabitForm(f *HabitFormModel) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&f.Title),
			huh.NewInput().
				Title("Frequency").
				Description("daily, daily:mon,wed, weekly:3, monthly:4 or monthly:1,15").
				Value(&f.Frequency),
			huh.NewInput().
				Title("Target per day").
				Value(&f.Target),
		),
	).WithShowHelp(false)
}

func (f *HabitFormModel) input() (models.HabitInput, error) {
	freq, err := models.ParseFrequency(f.Frequency)
	if err != nil {
		return models.HabitInput{}, err
	}
	target, err := strconv.Atoi(strings.TrimSpace(f.Target))
	if err != nil {
		return models.HabitInput{}, fmt.Errorf("target must be a number")
	}
	return models.HabitInput{Title: f.Title, Frequency: freq, TargetCount: target}, nil
}

// run performs a mutation off the event loop. The new projection arrives
// through the backend subscription.
func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil {
			return errMsg{err}
		}
		return syncStateMsg(m.backend.SyncState(context.Background()))
	}
}

func (m Model) syncNow() tea.Cmd {
	return func() tea.Msg {
		res, err := m.backend.SyncNow(context.Background())
		return syncDoneMsg{result: res, err: err}
	}
}

func describeSync(res models.SyncResult) string {
	s := fmt.Sprintf("Synced: %d pushed, %d pulled", res.HabitsSynced+res.CompletionsSynced, res.Pulled)
	if n := len(res.Conflicts); n > 0 {
		s += fmt.Sprintf(", %d conflict(s)", n)
	}
	if n := len(res.Errors); n > 0 {
		s += fmt.Sprintf(", %d error(s)", n)
	}
	return s
}

func describeError(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrOperationInProgress):
		return "Still saving the previous change"
	case errors.Is(err, syncer.ErrSyncInProgress):
		return "A sync is already running"
	}
	return strings.TrimPrefix(apperrors.Format(err), "Error: ")
}
