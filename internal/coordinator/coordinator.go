// Package coordinator is the command and query surface used by the UI. It
// keeps an in-memory projection of today's habits, applies mutations to it
// optimistically, writes them through to the store and rolls the projection
// back when the write fails. Sync always happens in the background.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitkeep/internal/constants"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/storage"
	"github.com/julianstephens/habitkeep/internal/streak"
	"github.com/julianstephens/habitkeep/internal/syncer"
	"github.com/julianstephens/habitkeep/internal/utils"
	"github.com/julianstephens/habitkeep/internal/validation"
)

var (
	// ErrOperationInProgress is returned when the same operation is already
	// running for the same target. The second call does nothing.
	ErrOperationInProgress = errors.New("operation already in progress")
	ErrNotFound            = storage.ErrNotFound
)

// Syncer is the part of the sync engine the coordinator drives.
type Syncer interface {
	Sync(ctx context.Context) (models.SyncResult, error)
	Trigger(ctx context.Context) bool
	ResolveConflict(ctx context.Context, kind models.RecordKind, id string, choice models.ResolutionChoice) error
	Status(ctx context.Context) syncer.SyncState
}

type Options struct {
	UserID   string
	Location *time.Location
	Now      func() time.Time
}

type Coordinator struct {
	store     storage.Provider
	engine    Syncer
	opts      Options
	validator *validation.Validator

	mu        sync.Mutex
	views     []models.HabitView
	observers map[int]func([]models.HabitView)
	nextObs   int

	guardMu  sync.Mutex
	inFlight map[string]struct{}
}

// New builds a coordinator. engine may be nil, in which case mutations are
// only written locally.
func New(store storage.Provider, engine Syncer, opts Options) *Coordinator {
	if opts.UserID == "" {
		opts.UserID = constants.DefaultUserID
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:     store,
		engine:    engine,
		opts:      opts,
		validator: validation.New(),
		observers: make(map[int]func([]models.HabitView)),
		inFlight:  make(map[string]struct{}),
	}
}

func (c *Coordinator) now() time.Time {
	return c.opts.Now().In(c.opts.Location)
}

func (c *Coordinator) today() string {
	return utils.TodayIn(c.opts.Now(), c.opts.Location)
}

// Subscribe registers fn to receive every new projection. The returned
// function removes it.
func (c *Coordinator) Subscribe(fn func([]models.HabitView)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Projection returns the current in-memory view without reading the store.
func (c *Coordinator) Projection() []models.HabitView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.views)
}

func (c *Coordinator) publish(views []models.HabitView) {
	c.mu.Lock()
	c.views = views
	fns := make([]func([]models.HabitView), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(views))
	}
}

// GetHabits reads the active habits from the store, recomputes their
// streaks for today and refreshes the projection.
func (c *Coordinator) GetHabits(ctx context.Context) ([]models.HabitView, error) {
	habits, err := c.store.ListHabits(ctx, c.opts.UserID, false)
	if err != nil {
		return nil, err
	}

	today := c.now()
	todayStr := c.today()
	start := utils.FormatDate(utils.AddDays(utils.CivilDate(today, c.opts.Location), -(streak.LookbackDays - 1)))
	completions, err := c.store.CompletionsInRange(ctx, c.opts.UserID, start, todayStr)
	if err != nil {
		return nil, err
	}

	byHabit := make(map[string][]models.Completion)
	for _, cm := range completions {
		byHabit[cm.HabitID] = append(byHabit[cm.HabitID], cm)
	}

	views := make([]models.HabitView, 0, len(habits))
	for _, h := range habits {
		views = append(views, buildView(h, byHabit[h.ID], today, todayStr))
	}
	c.publish(views)
	return slices.Clone(views), nil
}

func buildView(h models.Habit, completions []models.Completion, today time.Time, todayStr string) models.HabitView {
	v := models.HabitView{
		Habit:          h,
		ScheduledToday: streak.ScheduledOn(h.Frequency, today),
	}
	for _, cm := range completions {
		if cm.Date == todayStr {
			v.TodayCount = cm.CompletedCount
		}
	}
	setToday(&v, v.TodayCount)

	res := streak.Compute(h, completions, today)
	v.CurrentStreak = res.Current
	v.LongestStreak = res.Longest
	return v
}

func setToday(v *models.HabitView, count int) {
	v.TodayCount = count
	target := max(v.TargetCount, 1)
	v.CompletedToday = count >= target
	v.Progress = min(float64(count)/float64(target), 1)
}

// GetStats aggregates today's state across active habits.
func (c *Coordinator) GetStats(ctx context.Context) (models.Stats, error) {
	views, err := c.GetHabits(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	return statsOf(views), nil
}

func statsOf(views []models.HabitView) models.Stats {
	var stats models.Stats
	scheduled, done := 0, 0
	for _, v := range views {
		stats.TotalHabits++
		if v.CompletedToday {
			stats.CompletedToday++
		}
		stats.ActiveStreak = max(stats.ActiveStreak, v.CurrentStreak)
		if v.ScheduledToday {
			scheduled++
			if v.CompletedToday {
				done++
			}
		}
	}
	if scheduled > 0 {
		stats.CompletionRate = float64(done) / float64(scheduled)
	}
	return stats
}

// History returns the raw completions between two YYYY-MM-DD dates,
// inclusive.
func (c *Coordinator) History(ctx context.Context, start, end string) ([]models.Completion, error) {
	const op = "history"
	for _, day := range []string{start, end} {
		res := c.validator.ValidateDate(day)
		if err := res.Err(op); err != nil {
			return nil, err
		}
	}
	if end < start {
		return nil, apperrors.Validation(op, "range end %s is before start %s", end, start)
	}
	return c.store.CompletionsInRange(ctx, c.opts.UserID, start, end)
}

// guard marks op:target as running. The returned release must be called.
func (c *Coordinator) guard(op, target string) (func(), error) {
	key := op + ":" + target
	c.guardMu.Lock()
	defer c.guardMu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		logger.Debug("operation already running, ignored", "op", op, "target", target)
		return nil, fmt.Errorf("%s %s: %w", op, target, ErrOperationInProgress)
	}
	c.inFlight[key] = struct{}{}
	return func() {
		c.guardMu.Lock()
		defer c.guardMu.Unlock()
		delete(c.inFlight, key)
	}, nil
}

// update applies fn to the current projection under the lock and publishes
// the result.
func (c *Coordinator) update(fn func([]models.HabitView) []models.HabitView) {
	c.mu.Lock()
	views := fn(slices.Clone(c.views))
	c.mu.Unlock()
	c.publish(views)
}

// entry returns a copy of the view for id and its position, or nil when
// the projection does not hold it.
func (c *Coordinator) entry(id string) (*models.HabitView, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range c.views {
		if v.ID == id {
			return &v, i
		}
	}
	return nil, len(c.views)
}

// mutate runs the three phases of a local change to habit id: remember its
// view, publish the optimistic version, then write through. A failed write
// puts back only that habit's view so changes committed meanwhile survive.
func (c *Coordinator) mutate(ctx context.Context, id string, apply func([]models.HabitView) []models.HabitView, write func(context.Context) error) error {
	prev, idx := c.entry(id)
	c.update(apply)

	if err := write(ctx); err != nil {
		c.update(func(views []models.HabitView) []models.HabitView {
			return restoreView(views, id, prev, idx)
		})
		return err
	}

	if c.engine != nil {
		c.engine.Trigger(ctx)
	}
	if _, err := c.GetHabits(ctx); err != nil {
		logger.Warn("failed to refresh habits after write", "error", err)
	}
	return nil
}

func restoreView(views []models.HabitView, id string, prev *models.HabitView, idx int) []models.HabitView {
	views = withoutHabit(views, id)
	if prev == nil {
		return views
	}
	return slices.Insert(views, min(idx, len(views)), *prev)
}

func (c *Coordinator) activeHabit(ctx context.Context, op, id string) (models.Habit, error) {
	h, err := c.store.GetHabit(ctx, id)
	if err != nil {
		return models.Habit{}, err
	}
	if h.UserID != c.opts.UserID {
		return models.Habit{}, fmt.Errorf("habit %s: %w", id, ErrNotFound)
	}
	if !h.Active {
		return models.Habit{}, apperrors.Validation(op, "habit %q is inactive", h.Title)
	}
	return h, nil
}

// ToggleCompletion flips today's completion between zero and the habit's
// target. A second toggle for a habit that is still toggling returns
// ErrOperationInProgress.
func (c *Coordinator) ToggleCompletion(ctx context.Context, habitID string) (models.Completion, error) {
	const op = "toggle completion"
	release, err := c.guard("toggle", habitID)
	if err != nil {
		return models.Completion{}, err
	}
	defer release()

	h, err := c.activeHabit(ctx, op, habitID)
	if err != nil {
		return models.Completion{}, err
	}
	current, err := c.store.GetCompletion(ctx, habitID, c.today())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.Completion{}, err
	}
	return c.writeCount(ctx, h, current, models.ToggledCount(current.CompletedCount, h.TargetCount))
}

// SetCompletionCount records an explicit count for today.
func (c *Coordinator) SetCompletionCount(ctx context.Context, habitID string, count int) (models.Completion, error) {
	const op = "set completion count"
	res := c.validator.ValidateCount(count)
	if err := res.Err(op); err != nil {
		return models.Completion{}, err
	}

	release, err := c.guard("set", habitID)
	if err != nil {
		return models.Completion{}, err
	}
	defer release()

	h, err := c.activeHabit(ctx, op, habitID)
	if err != nil {
		return models.Completion{}, err
	}
	current, err := c.store.GetCompletion(ctx, habitID, c.today())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.Completion{}, err
	}
	return c.writeCount(ctx, h, current, count)
}

func (c *Coordinator) writeCount(ctx context.Context, h models.Habit, current models.Completion, count int) (models.Completion, error) {
	next := models.Completion{
		ID:             current.ID,
		HabitID:        h.ID,
		UserID:         c.opts.UserID,
		Date:           c.today(),
		CompletedCount: count,
		Note:           current.Note,
		CreatedAt:      current.CreatedAt,
	}

	var saved models.Completion
	err := c.mutate(ctx, h.ID,
		func(views []models.HabitView) []models.HabitView {
			for i := range views {
				if views[i].ID == h.ID {
					setToday(&views[i], count)
				}
			}
			return views
		},
		func(ctx context.Context) error {
			var err error
			saved, err = c.store.SaveCompletion(ctx, next)
			return err
		})
	return saved, err
}

// CreateHabit validates in and stores it as a new active habit.
func (c *Coordinator) CreateHabit(ctx context.Context, in models.HabitInput) (models.Habit, error) {
	const op = "create habit"
	now := c.opts.Now().UTC()
	h := models.Habit{
		ID:          uuid.NewString(),
		UserID:      c.opts.UserID,
		Title:       in.Title,
		Icon:        in.Icon,
		Description: in.Description,
		Category:    in.Category,
		TargetCount: in.TargetCount,
		TargetUnit:  in.TargetUnit,
		Frequency:   in.Frequency,
		Color:       in.Color,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if h.TargetCount == 0 {
		h.TargetCount = 1
	}
	if h.Frequency == nil {
		h.Frequency = models.Daily{}
	}
	if err := c.validate(ctx, op, h); err != nil {
		return models.Habit{}, err
	}

	var created models.Habit
	err := c.mutate(ctx, h.ID,
		func(views []models.HabitView) []models.HabitView {
			v := models.HabitView{Habit: h, ScheduledToday: streak.ScheduledOn(h.Frequency, c.now())}
			return append(views, v)
		},
		func(ctx context.Context) error {
			var err error
			created, err = c.store.CreateHabit(ctx, h)
			return err
		})
	return created, err
}

// validate checks h on its own and against the user's other habits.
func (c *Coordinator) validate(ctx context.Context, op string, h models.Habit) error {
	single := c.validator.ValidateHabit(h)
	if err := single.Err(op); err != nil {
		return err
	}

	existing, err := c.store.ListHabits(ctx, c.opts.UserID, false)
	if err != nil {
		return err
	}
	others := slices.DeleteFunc(existing, func(o models.Habit) bool { return o.ID == h.ID })
	all := c.validator.ValidateHabits(append(others, h))

	var mine validation.ValidationResult
	for _, p := range all.Problems {
		if p.Type == validation.ProblemDuplicateTitle && slices.Contains(p.HabitIDs, h.ID) {
			mine.Problems = append(mine.Problems, p)
		}
	}
	return mine.Err(op)
}

// UpdateHabit applies patch to the habit with the given id.
func (c *Coordinator) UpdateHabit(ctx context.Context, id string, patch models.HabitPatch) (models.Habit, error) {
	const op = "update habit"
	if patch.IsEmpty() {
		return models.Habit{}, apperrors.Validation(op, "nothing to update")
	}

	release, err := c.guard("update", id)
	if err != nil {
		return models.Habit{}, err
	}
	defer release()

	h, err := c.store.GetHabit(ctx, id)
	if err != nil {
		return models.Habit{}, err
	}
	next := patch.Apply(h)
	if err := c.validate(ctx, op, next); err != nil {
		return models.Habit{}, err
	}

	var updated models.Habit
	err = c.mutate(ctx, id,
		func(views []models.HabitView) []models.HabitView {
			for i := range views {
				if views[i].ID == id {
					views[i].Habit = next
					setToday(&views[i], views[i].TodayCount)
				}
			}
			if !next.Active {
				views = withoutHabit(views, id)
			}
			return views
		},
		func(ctx context.Context) error {
			var err error
			updated, err = c.store.UpdateHabit(ctx, next)
			return err
		})
	return updated, err
}

// DeactivateHabit hides a habit while keeping its history.
func (c *Coordinator) DeactivateHabit(ctx context.Context, id string) error {
	release, err := c.guard("deactivate", id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := c.store.GetHabit(ctx, id); err != nil {
		return err
	}
	return c.mutate(ctx, id,
		func(views []models.HabitView) []models.HabitView { return withoutHabit(views, id) },
		func(ctx context.Context) error { return c.store.DeactivateHabit(ctx, id, c.opts.Now()) })
}

func withoutHabit(views []models.HabitView, id string) []models.HabitView {
	return slices.DeleteFunc(views, func(v models.HabitView) bool { return v.ID == id })
}

// SyncNow runs a pass in the foreground and then refreshes the projection.
func (c *Coordinator) SyncNow(ctx context.Context) (models.SyncResult, error) {
	if c.engine == nil {
		return models.SyncResult{}, apperrors.Validation("sync", "sync is not configured")
	}
	res, err := c.engine.Sync(ctx)
	if err != nil {
		return res, err
	}
	if _, err := c.GetHabits(ctx); err != nil {
		logger.Warn("failed to refresh habits after sync", "error", err)
	}
	return res, nil
}

// ResolveConflict settles the habit or completion with the given id.
// Keeping the local version schedules a push.
func (c *Coordinator) ResolveConflict(ctx context.Context, id string, choice models.ResolutionChoice) error {
	if c.engine == nil {
		return apperrors.Validation("resolve conflict", "sync is not configured")
	}

	kind := models.KindHabit
	if _, err := c.store.GetHabit(ctx, id); errors.Is(err, storage.ErrNotFound) {
		if _, err := c.store.GetCompletionByID(ctx, id); err != nil {
			return err
		}
		kind = models.KindCompletion
	} else if err != nil {
		return err
	}

	if err := c.engine.ResolveConflict(ctx, kind, id, choice); err != nil {
		return err
	}
	logger.Info("conflict resolved", "kind", kind, "id", id, "choice", choice)

	if choice == models.UseLocal {
		c.engine.Trigger(ctx)
	}
	if _, err := c.GetHabits(ctx); err != nil {
		logger.Warn("failed to refresh habits after resolution", "error", err)
	}
	return nil
}

// SyncState is the indicator shown next to the habit list.
func (c *Coordinator) SyncState(ctx context.Context) syncer.SyncState {
	if c.engine == nil {
		return syncer.StateIdle
	}
	return c.engine.Status(ctx)
}
