// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/remote"
)

var _ remote.Client = (*Memory)(nil)

// Memory is a remote backend held in maps. It applies the same conflict
// rule as the PostgreSQL backend and can inject failures.
type Memory struct {
	mu          sync.Mutex
	habits      map[string]models.Habit
	completions map[string]models.Completion
	last        time.Time
	unavailable bool
	failures    map[string]error
	upserts     int
	subs        map[int]subscriber
	nextSub     int
}

type subscriber struct {
	userID string
	fn     func(remote.ChangeEvent)
}

func NewMemory() *Memory {
	return &Memory{
		habits:      make(map[string]models.Habit),
		completions: make(map[string]models.Completion),
		failures:    make(map[string]error),
		subs:        make(map[int]subscriber),
	}
}

// SetUnavailable makes every call fail with remote.ErrUnavailable.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// FailNext makes the next upsert of the record with id return err.
func (m *Memory) FailNext(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Upserts returns the number of upserts that reached the backend.
func (m *Memory) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// tick returns a server time strictly after every earlier one.
func (m *Memory) tick() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

func (m *Memory) check(id string) error {
	if m.unavailable {
		return remote.ErrUnavailable
	}
	if err, ok := m.failures[id]; ok {
		delete(m.failures, id)
		return err
	}
	return nil
}

func (m *Memory) UpsertHabit(ctx context.Context, h models.Habit) (remote.Outcome[models.Habit], error) {
	m.mu.Lock()
	if err := m.check(h.ID); err != nil {
		m.mu.Unlock()
		return remote.Outcome[models.Habit]{}, err
	}
	if existing, ok := m.habits[h.ID]; ok && remote.IsConflicting(*existing.LastSyncedAt, h.LastSyncedAt) {
		m.mu.Unlock()
		return remote.Outcome[models.Habit]{Status: remote.Conflict, Remote: existing, ServerTime: *existing.LastSyncedAt}, nil
	}
	stored := m.putHabit(h)
	m.upserts++
	m.mu.Unlock()

	m.notify(remote.ChangeEvent{Kind: models.KindHabit, ID: h.ID, UserID: h.UserID})
	return remote.Outcome[models.Habit]{Status: remote.Applied, Remote: stored, ServerTime: *stored.LastSyncedAt}, nil
}

func (m *Memory) UpsertCompletion(ctx context.Context, c models.Completion) (remote.Outcome[models.Completion], error) {
	m.mu.Lock()
	if err := m.check(c.ID); err != nil {
		m.mu.Unlock()
		return remote.Outcome[models.Completion]{}, err
	}
	if _, ok := m.habits[c.HabitID]; !ok {
		m.mu.Unlock()
		return remote.Outcome[models.Completion]{}, fmt.Errorf("completion %s references unknown habit %s", c.ID, c.HabitID)
	}
	for _, other := range m.completions {
		if other.ID != c.ID && other.HabitID == c.HabitID && other.Date == c.Date {
			m.mu.Unlock()
			return remote.Outcome[models.Completion]{Status: remote.Conflict, Remote: other, ServerTime: *other.LastSyncedAt}, nil
		}
	}
	if existing, ok := m.completions[c.ID]; ok && remote.IsConflicting(*existing.LastSyncedAt, c.LastSyncedAt) {
		m.mu.Unlock()
		return remote.Outcome[models.Completion]{Status: remote.Conflict, Remote: existing, ServerTime: *existing.LastSyncedAt}, nil
	}
	stored := m.putCompletion(c)
	m.upserts++
	m.mu.Unlock()

	m.notify(remote.ChangeEvent{Kind: models.KindCompletion, ID: c.ID, UserID: c.UserID})
	return remote.Outcome[models.Completion]{Status: remote.Applied, Remote: stored, ServerTime: *stored.LastSyncedAt}, nil
}

func (m *Memory) putHabit(h models.Habit) models.Habit {
	h.SyncMeta = models.Synced(m.tick())
	m.habits[h.ID] = h
	return h
}

func (m *Memory) putCompletion(c models.Completion) models.Completion {
	c.SyncMeta = models.Synced(m.tick())
	m.completions[c.ID] = c
	return c
}

// PutHabit writes h as another client would, bypassing conflict checks.
func (m *Memory) PutHabit(h models.Habit) models.Habit {
	m.mu.Lock()
	stored := m.putHabit(h)
	m.mu.Unlock()
	m.notify(remote.ChangeEvent{Kind: models.KindHabit, ID: h.ID, UserID: h.UserID})
	return stored
}

// PutCompletion writes c as another client would.
func (m *Memory) PutCompletion(c models.Completion) models.Completion {
	m.mu.Lock()
	stored := m.putCompletion(c)
	m.mu.Unlock()
	m.notify(remote.ChangeEvent{Kind: models.KindCompletion, ID: c.ID, UserID: c.UserID})
	return stored
}

func (m *Memory) Habit(id string) (models.Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.habits[id]
	return h, ok
}

func (m *Memory) Completion(id string) (models.Completion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completions[id]
	return c, ok
}

// Completions returns every stored completion.
func (m *Memory) Completions() []models.Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Completion, 0, len(m.completions))
	for _, c := range m.completions {
		out = append(out, c)
	}
	return out
}

func (m *Memory) FetchChangesSince(ctx context.Context, userID string, since time.Time) (remote.Changes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return remote.Changes{}, remote.ErrUnavailable
	}

	changes := remote.Changes{ServerTime: m.last}
	for _, h := range m.habits {
		if h.UserID == userID && h.LastSyncedAt.After(since) {
			changes.Habits = append(changes.Habits, h)
		}
	}
	for _, c := range m.completions {
		if c.UserID == userID && c.LastSyncedAt.After(since) {
			changes.Completions = append(changes.Completions, c)
		}
	}
	return changes, nil
}

func (m *Memory) SubscribeToChanges(ctx context.Context, userID string, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, remote.ErrUnavailable
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = subscriber{userID: userID, fn: fn}
	return &subscription{m: m, id: id}, nil
}

func (m *Memory) notify(ev remote.ChangeEvent) {
	m.mu.Lock()
	var fns []func(remote.ChangeEvent)
	for _, s := range m.subs {
		if s.userID == ev.UserID {
			fns = append(fns, s.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

type subscription struct {
	m    *Memory
	id   int
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s.id)
		s.m.mu.Unlock()
	})
	return nil
}
