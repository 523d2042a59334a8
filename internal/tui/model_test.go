package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitkeep/internal/coordinator"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/syncer"
	"github.com/julianstephens/habitkeep/internal/tui/components/habits"
)

type fakeBackend struct {
	mu      sync.Mutex
	views   []models.HabitView
	toggled []string
	created []models.HabitInput
	syncErr error
}

func (f *fakeBackend) GetHabits(ctx context.Context) ([]models.HabitView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views, nil
}

func (f *fakeBackend) GetStats(ctx context.Context) (models.Stats, error) {
	return models.Stats{TotalHabits: len(f.views)}, nil
}

func (f *fakeBackend) CreateHabit(ctx context.Context, in models.HabitInput) (models.Habit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return models.Habit{ID: "new", Title: in.Title}, nil
}

func (f *fakeBackend) ToggleCompletion(ctx context.Context, habitID string) (models.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, habitID)
	return models.Completion{HabitID: habitID, CompletedCount: 1}, nil
}

func (f *fakeBackend) SetCompletionCount(ctx context.Context, habitID string, count int) (models.Completion, error) {
	return models.Completion{HabitID: habitID, CompletedCount: count}, nil
}

func (f *fakeBackend) DeactivateHabit(ctx context.Context, id string) error {
	return nil
}

func (f *fakeBackend) SyncNow(ctx context.Context) (models.SyncResult, error) {
	if f.syncErr != nil {
		return models.SyncResult{}, f.syncErr
	}
	return models.SyncResult{Success: true, HabitsSynced: 2, Pulled: 1}, nil
}

func (f *fakeBackend) SyncState(ctx context.Context) syncer.SyncState {
	return syncer.StatePending
}

func (f *fakeBackend) Subscribe(fn func([]models.HabitView)) func() {
	return func() {}
}

func newBackend() *fakeBackend {
	return &fakeBackend{views: []models.HabitView{
		{Habit: models.Habit{ID: "h1", Title: "Read", TargetCount: 1, Frequency: models.Daily{}, Active: true}, ScheduledToday: true},
		{Habit: models.Habit{ID: "h2", Title: "Run", TargetCount: 1, Frequency: models.Daily{}, Active: true}, ScheduledToday: true, TodayCount: 1, CompletedToday: true},
	}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestModelShowsProjection(t *testing.T) {
	b := newBackend()
	m := NewModel(b)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(t, m, ViewsMsg(b.views))
	m, _ = update(t, m, syncStateMsg(syncer.StatePending))

	view := m.View()
	for _, want := range []string{"Read", "Run", "pending"} {
		if !strings.Contains(view, want) {
			t.Errorf("view does not contain %q:\n%s", want, view)
		}
	}
}

func TestModelToggleRunsOffLoop(t *testing.T) {
	b := newBackend()
	m := NewModel(b)
	m, _ = update(t, m, ViewsMsg(b.views))

	_, cmd := update(t, m, habits.ToggleHabitMsg{ID: "h1"})
	if cmd == nil {
		t.Fatal("toggle returned no command")
	}
	if len(b.toggled) != 0 {
		t.Fatal("toggle ran inside Update")
	}
	if msg := cmd(); msg != syncStateMsg(syncer.StatePending) {
		t.Errorf("toggle command returned %#v", msg)
	}
	if len(b.toggled) != 1 || b.toggled[0] != "h1" {
		t.Errorf("toggled = %v, want [h1]", b.toggled)
	}
}

func TestModelSyncStatus(t *testing.T) {
	tests := []struct {
		name    string
		syncErr error
		want    string
	}{
		{"success", nil, "Synced: 2 pushed, 1 pulled"},
		{"in progress", fmt.Errorf("pass: %w", syncer.ErrSyncInProgress), "already running"},
		{"failure", errors.New("network unavailable"), "network unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend()
			b.syncErr = tt.syncErr
			m := NewModel(b)

			m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
			if cmd == nil {
				t.Fatal("sync key returned no command")
			}
			m, _ = update(t, m, cmd())
			if !strings.Contains(m.status, tt.want) {
				t.Errorf("status = %q, want it to contain %q", m.status, tt.want)
			}
		})
	}
}

func TestModelErrorStatus(t *testing.T) {
	m := NewModel(newBackend())
	m, _ = update(t, m, errMsg{fmt.Errorf("toggle h1: %w", coordinator.ErrOperationInProgress)})
	if m.status != "Still saving the previous change" {
		t.Errorf("status = %q", m.status)
	}
}

func TestHabitFormInput(t *testing.T) {
	tests := []struct {
		name    string
		form    HabitFormModel
		wantErr bool
	}{
		{"daily", HabitFormModel{Title: "Read", Frequency: "daily", Target: "1"}, false},
		{"weekly", HabitFormModel{Title: "Gym", Frequency: "weekly:3", Target: "1"}, false},
		{"bad frequency", HabitFormModel{Title: "Gym", Frequency: "hourly", Target: "1"}, true},
		{"bad target", HabitFormModel{Title: "Gym", Frequency: "daily", Target: "lots"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.form.input()
			if (err != nil) != tt.wantErr {
				t.Errorf("input() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateHabitCommand(t *testing.T) {
	b := newBackend()
	m := NewModel(b)
	cmd := m.createHabit(models.HabitInput{Title: "Stretch", Frequency: models.Daily{}, TargetCount: 1})
	m, _ = update(t, m, cmd())
	if len(b.created) != 1 || !strings.Contains(m.status, "Stretch") {
		t.Errorf("created = %v, status = %q", b.created, m.status)
	}
}
