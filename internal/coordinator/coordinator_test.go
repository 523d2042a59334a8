package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/remote/remotetest"
	"github.com/julianstephens/habitkeep/internal/storage"
	"github.com/julianstephens/habitkeep/internal/storage/sqlite"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

const testUser = "u1"

// 2026-10-14 is a Wednesday.
var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newCoordinator(store storage.Provider, engine Syncer) *Coordinator {
	return New(store, engine, Options{
		UserID:   testUser,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
}

func mustCreate(t *testing.T, c *Coordinator, title string, target int) models.Habit {
	t.Helper()
	h, err := c.CreateHabit(context.Background(), models.HabitInput{Title: title, TargetCount: target})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}
	return h
}

func TestToggleCompletionFlips(t *testing.T) {
	tests := []struct {
		name   string
		target int
	}{
		{"single", 1},
		{"counted", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			c := newCoordinator(store, nil)
			ctx := context.Background()
			h := mustCreate(t, c, "Toggle me", tt.target)

			want := []int{tt.target, 0, tt.target}
			for i, w := range want {
				got, err := c.ToggleCompletion(ctx, h.ID)
				if err != nil {
					t.Fatalf("toggle %d failed: %v", i+1, err)
				}
				if got.CompletedCount != w {
					t.Errorf("toggle %d count = %d, want %d", i+1, got.CompletedCount, w)
				}
			}

			stored, err := store.GetCompletion(ctx, h.ID, "2026-10-14")
			if err != nil {
				t.Fatalf("completion missing: %v", err)
			}
			if stored.CompletedCount != tt.target || !stored.IsDirty {
				t.Errorf("stored = %+v, want count %d and dirty", stored, tt.target)
			}
			all, _ := store.ListCompletions(ctx, h.ID)
			if len(all) != 1 {
				t.Errorf("%d completion rows, want 1", len(all))
			}
		})
	}
}

func TestGetHabitsAndStats(t *testing.T) {
	store := setupTestStore(t)
	c := newCoordinator(store, nil)
	ctx := context.Background()

	water := mustCreate(t, c, "Water", 8)
	read := mustCreate(t, c, "Read", 1)
	weekend, _ := models.NewDailyFromLabels("Sa", "Su")
	if _, err := c.CreateHabit(ctx, models.HabitInput{Title: "Hike", TargetCount: 1, Frequency: weekend}); err != nil {
		t.Fatalf("failed to create weekend habit: %v", err)
	}

	for _, day := range []string{"2026-10-12", "2026-10-13"} {
		if _, err := store.SaveCompletion(ctx, models.Completion{HabitID: read.ID, UserID: testUser, Date: day, CompletedCount: 1}); err != nil {
			t.Fatalf("failed to seed completion: %v", err)
		}
	}
	if _, err := c.ToggleCompletion(ctx, read.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if _, err := c.SetCompletionCount(ctx, water.ID, 4); err != nil {
		t.Fatalf("set count failed: %v", err)
	}

	views, err := c.GetHabits(ctx)
	if err != nil {
		t.Fatalf("GetHabits failed: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("%d views, want 3", len(views))
	}
	byTitle := make(map[string]models.HabitView)
	for _, v := range views {
		byTitle[v.Title] = v
	}
	if v := byTitle["Read"]; !v.CompletedToday || v.CurrentStreak != 3 || v.Progress != 1 {
		t.Errorf("Read view = %+v, want completed with streak 3", v)
	}
	if v := byTitle["Water"]; v.CompletedToday || v.TodayCount != 4 || v.Progress != 0.5 {
		t.Errorf("Water view = %+v, want 4/8", v)
	}
	if v := byTitle["Hike"]; v.ScheduledToday {
		t.Error("weekend habit reported as scheduled on a Wednesday")
	}

	stats, err := c.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := models.Stats{TotalHabits: 3, CompletedToday: 1, ActiveStreak: 3, CompletionRate: 0.5}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestStatsNothingScheduled(t *testing.T) {
	if got := statsOf(nil); got.CompletionRate != 0 || got.TotalHabits != 0 {
		t.Errorf("stats of nothing = %+v", got)
	}
}

// failingStore fails every completion write.
type failingStore struct {
	storage.Provider
}

func (failingStore) SaveCompletion(ctx context.Context, c models.Completion) (models.Completion, error) {
	return models.Completion{}, apperrors.Store("save completion", errors.New("disk full"))
}

func TestMutationRollsBackOnWriteFailure(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	h := mustCreate(t, newCoordinator(store, nil), "Fragile", 1)

	c := newCoordinator(failingStore{store}, nil)
	if _, err := c.GetHabits(ctx); err != nil {
		t.Fatalf("GetHabits failed: %v", err)
	}

	var seen [][]models.HabitView
	c.Subscribe(func(v []models.HabitView) { seen = append(seen, v) })

	_, err := c.ToggleCompletion(ctx, h.ID)
	if !apperrors.IsKind(err, apperrors.KindStore) {
		t.Fatalf("error = %v, want a store error", err)
	}

	if len(seen) != 2 {
		t.Fatalf("observers saw %d projections, want optimistic then rollback", len(seen))
	}
	if !seen[0][0].CompletedToday {
		t.Error("optimistic projection did not show the completion")
	}
	if seen[1][0].CompletedToday {
		t.Error("rollback projection still shows the completion")
	}
	if proj := c.Projection(); proj[0].CompletedToday || proj[0].TodayCount != 0 {
		t.Errorf("projection after failure = %+v, want the snapshot", proj[0])
	}
}

// stallingStore holds the completion write for one habit until release is
// closed and then fails it. Other writes go straight through.
type stallingStore struct {
	storage.Provider
	habitID string
	entered chan struct{}
	release chan struct{}
}

func (s stallingStore) SaveCompletion(ctx context.Context, c models.Completion) (models.Completion, error) {
	if c.HabitID != s.habitID {
		return s.Provider.SaveCompletion(ctx, c)
	}
	close(s.entered)
	<-s.release
	return models.Completion{}, apperrors.Store("save completion", errors.New("disk full"))
}

func TestRollbackKeepsConcurrentCommits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seed := newCoordinator(store, nil)
	slow := mustCreate(t, seed, "Slow", 1)
	fast := mustCreate(t, seed, "Fast", 1)

	stall := stallingStore{
		Provider: store,
		habitID:  slow.ID,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := newCoordinator(stall, nil)
	if _, err := c.GetHabits(ctx); err != nil {
		t.Fatalf("GetHabits failed: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.ToggleCompletion(ctx, slow.ID)
		errc <- err
	}()
	<-stall.entered

	if _, err := c.ToggleCompletion(ctx, fast.ID); err != nil {
		t.Fatalf("toggle of the other habit failed: %v", err)
	}
	close(stall.release)
	if err := <-errc; !apperrors.IsKind(err, apperrors.KindStore) {
		t.Fatalf("error = %v, want a store error", err)
	}

	byID := make(map[string]models.HabitView)
	for _, v := range c.Projection() {
		byID[v.ID] = v
	}
	if len(byID) != 2 {
		t.Fatalf("projection holds %d habits, want 2", len(byID))
	}
	if !byID[fast.ID].CompletedToday {
		t.Error("rollback discarded the committed completion of the other habit")
	}
	if byID[slow.ID].CompletedToday {
		t.Error("failed completion still shown after rollback")
	}
}

func TestRollbackRemovesFailedCreate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	mustCreate(t, newCoordinator(store, nil), "Kept", 1)

	c := newCoordinator(failingCreateStore{store}, nil)
	if _, err := c.GetHabits(ctx); err != nil {
		t.Fatalf("GetHabits failed: %v", err)
	}
	if _, err := c.CreateHabit(ctx, models.HabitInput{Title: "Lost"}); err == nil {
		t.Fatal("expected create to fail")
	}
	proj := c.Projection()
	if len(proj) != 1 || proj[0].Title != "Kept" {
		t.Errorf("projection = %+v, want only the existing habit", proj)
	}
}

// failingCreateStore fails every habit insert.
type failingCreateStore struct {
	storage.Provider
}

func (failingCreateStore) CreateHabit(ctx context.Context, h models.Habit) (models.Habit, error) {
	return models.Habit{}, apperrors.Store("create habit", errors.New("disk full"))
}

func TestValidationNeverTouchesProjection(t *testing.T) {
	store := setupTestStore(t)
	c := newCoordinator(store, nil)
	ctx := context.Background()
	h := mustCreate(t, c, "Existing", 1)

	calls := 0
	c.Subscribe(func([]models.HabitView) { calls++ })

	tests := []struct {
		name string
		run  func() error
	}{
		{"empty title", func() error {
			_, err := c.CreateHabit(ctx, models.HabitInput{Title: "  "})
			return err
		}},
		{"duplicate title", func() error {
			_, err := c.CreateHabit(ctx, models.HabitInput{Title: "existing"})
			return err
		}},
		{"negative count", func() error {
			_, err := c.SetCompletionCount(ctx, h.ID, -1)
			return err
		}},
		{"empty patch", func() error {
			_, err := c.UpdateHabit(ctx, h.ID, models.HabitPatch{})
			return err
		}},
		{"bad target", func() error {
			zero := 0
			_, err := c.UpdateHabit(ctx, h.ID, models.HabitPatch{TargetCount: &zero})
			return err
		}},
		{"bad history range", func() error {
			_, err := c.History(ctx, "2026-10-14", "2026-10-01")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !apperrors.IsKind(err, apperrors.KindValidation) {
				t.Errorf("error = %v, want a validation error", err)
			}
		})
	}
	if calls != 0 {
		t.Errorf("observers called %d times for rejected input", calls)
	}
}

// blockingStore holds completion writes until released.
type blockingStore struct {
	storage.Provider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) SaveCompletion(ctx context.Context, c models.Completion) (models.Completion, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Provider.SaveCompletion(ctx, c)
}

func TestToggleGuard(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	h := mustCreate(t, newCoordinator(store, nil), "Guarded", 1)

	bs := &blockingStore{Provider: store, started: make(chan struct{}), release: make(chan struct{})}
	c := newCoordinator(bs, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.ToggleCompletion(ctx, h.ID)
		done <- err
	}()
	<-bs.started

	if _, err := c.ToggleCompletion(ctx, h.ID); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second toggle error = %v, want ErrOperationInProgress", err)
	}

	close(bs.release)
	if err := <-done; err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	got, _ := store.GetCompletion(ctx, h.ID, "2026-10-14")
	if got.CompletedCount != 1 {
		t.Errorf("count = %d, want 1 (one flip)", got.CompletedCount)
	}

	// The guard is released afterwards.
	if _, err := c.ToggleCompletion(ctx, h.ID); err != nil {
		t.Errorf("toggle after release failed: %v", err)
	}
}

func TestUpdateAndDeactivate(t *testing.T) {
	store := setupTestStore(t)
	c := newCoordinator(store, nil)
	ctx := context.Background()
	h := mustCreate(t, c, "Old title", 1)

	title := "New title"
	updated, err := c.UpdateHabit(ctx, h.ID, models.HabitPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateHabit failed: %v", err)
	}
	if updated.Title != title || !updated.IsDirty {
		t.Errorf("updated = %+v", updated)
	}

	if err := c.DeactivateHabit(ctx, h.ID); err != nil {
		t.Fatalf("DeactivateHabit failed: %v", err)
	}
	views, _ := c.GetHabits(ctx)
	if len(views) != 0 {
		t.Errorf("%d views after deactivation, want 0", len(views))
	}
	if _, err := c.ToggleCompletion(ctx, h.ID); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("toggle of inactive habit error = %v, want validation", err)
	}

	if err := c.DeactivateHabit(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deactivate missing error = %v, want ErrNotFound", err)
	}
}

func TestHistory(t *testing.T) {
	store := setupTestStore(t)
	c := newCoordinator(store, nil)
	ctx := context.Background()
	h := mustCreate(t, c, "Tracked", 1)

	for _, day := range []string{"2026-09-30", "2026-10-01", "2026-10-10"} {
		store.SaveCompletion(ctx, models.Completion{HabitID: h.ID, UserID: testUser, Date: day, CompletedCount: 1})
	}
	got, err := c.History(ctx, "2026-10-01", "2026-10-14")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("%d completions, want 2", len(got))
	}
}

func TestSyncNowAndResolve(t *testing.T) {
	store := setupTestStore(t)
	mem := remotetest.NewMemory()
	engine := syncer.New(store, mem, network.NewStatic(true), syncer.Config{UserID: testUser})
	c := newCoordinator(store, engine)
	ctx := context.Background()

	if got := c.SyncState(ctx); got != syncer.StateIdle {
		t.Errorf("initial state = %s, want %s", got, syncer.StateIdle)
	}

	now := time.Now().UTC()
	remoteHabit := mem.PutHabit(models.Habit{
		ID: uuid.NewString(), UserID: testUser, Title: "From the web", TargetCount: 1,
		Frequency: models.Daily{}, Active: true, CreatedAt: now, UpdatedAt: now,
	})

	var latest []models.HabitView
	c.Subscribe(func(v []models.HabitView) { latest = v })

	res, err := c.SyncNow(ctx)
	if err != nil || !res.Success || res.Pulled != 1 {
		t.Fatalf("SyncNow = %+v, %v", res, err)
	}
	if len(latest) != 1 || latest[0].ID != remoteHabit.ID {
		t.Errorf("projection after sync = %+v, want the pulled habit", latest)
	}
	if got := c.SyncState(ctx); got != syncer.StateSynced {
		t.Errorf("state after sync = %s, want %s", got, syncer.StateSynced)
	}

	if err := c.ResolveConflict(ctx, remoteHabit.ID, models.UseRemote); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("resolving a clean habit error = %v, want validation", err)
	}
	if err := c.ResolveConflict(ctx, "nope", models.UseRemote); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolving an unknown id error = %v, want ErrNotFound", err)
	}
}

func TestSyncNowWithoutEngine(t *testing.T) {
	c := newCoordinator(setupTestStore(t), nil)
	if _, err := c.SyncNow(context.Background()); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("error = %v, want validation", err)
	}
	if c.SyncState(context.Background()) != syncer.StateIdle {
		t.Error("state without engine should be idle")
	}
}
