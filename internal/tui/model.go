package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/syncer"
	"github.com/julianstephens/habitkeep/internal/tui/components/habits"
)

// statusRefresh is how often the footer re-reads the sync state.
const statusRefresh = 2 * time.Second

// Backend is the coordinator surface the screen drives.
type Backend interface {
	GetHabits(ctx context.Context) ([]models.HabitView, error)
	GetStats(ctx context.Context) (models.Stats, error)
	CreateHabit(ctx context.Context, in models.HabitInput) (models.Habit, error)
	ToggleCompletion(ctx context.Context, habitID string) (models.Completion, error)
	SetCompletionCount(ctx context.Context, habitID string, count int) (models.Completion, error)
	DeactivateHabit(ctx context.Context, id string) error
	SyncNow(ctx context.Context) (models.SyncResult, error)
	SyncState(ctx context.Context) syncer.SyncState
	Subscribe(fn func([]models.HabitView)) func()
}

type sessionState int

const (
	stateHabits sessionState = iota
	stateAddHabit
)

type HabitFormModel struct {
	Title     string
	Frequency string
	Target    string
}

// ViewsMsg carries a new projection published by the backend.
type ViewsMsg []models.HabitView

type statsMsg models.Stats

type syncStateMsg syncer.SyncState

type syncDoneMsg struct {
	result models.SyncResult
	err    error
}

type errMsg struct{ err error }

type tickMsg time.Time

type KeyMap struct {
	Sync    key.Binding
	Refresh key.Binding
	Quit    key.Binding
	Help    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Sync: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "sync now"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

type Model struct {
	backend     Backend
	state       sessionState
	keys        KeyMap
	help        help.Model
	habitsModel habits.Model
	form        *huh.Form
	habitForm   *HabitFormModel
	stats       models.Stats
	syncState   syncer.SyncState
	status      string // last action result or error
	formError   string
	quitting    bool
	width       int
	height      int
}

func NewModel(backend Backend) Model {
	return Model{
		backend:     backend,
		state:       stateHabits,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		habitsModel: habits.New(nil, 0, 0),
		syncState:   syncer.StateIdle,
	}
}

func (m Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.Sync, m.keys.Refresh, m.keys.Quit, m.keys.Help}
}

func (m Model) FullHelp() [][]key.Binding {
	hk := habits.DefaultKeyMap()
	return [][]key.Binding{
		{m.keys.Sync, m.keys.Refresh, m.keys.Quit, m.keys.Help},
		{hk.Add, hk.Toggle, hk.Increment, hk.Decrement, hk.Deactivate},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadHabits(), m.loadStatus(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(statusRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) loadHabits() tea.Cmd {
	return func() tea.Msg {
		views, err := m.backend.GetHabits(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return ViewsMsg(views)
	}
}

func (m Model) loadStatus() tea.Cmd {
	return func() tea.Msg {
		return syncStateMsg(m.backend.SyncState(context.Background()))
	}
}

func (m Model) loadStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.backend.GetStats(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return statsMsg(stats)
	}
}

// Run shows the habit screen until the user quits. Projection updates
// from the backend, including those caused by background sync, are
// forwarded to the screen.
func Run(backend Backend, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(NewModel(backend), opts...)
	unsubscribe := backend.Subscribe(func(views []models.HabitView) {
		p.Send(ViewsMsg(views))
	})
	defer unsubscribe()

	_, err := p.Run()
	return err
}
