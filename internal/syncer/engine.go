// Package syncer reconciles the local store with the remote backend.
//
// A pass pushes every dirty row that is not in conflict, then pulls the
// rows changed remotely since the last checkpoint. Rows whose local and
// remote versions diverged since their sync baseline are left in conflict
// until ResolveConflict is called; nothing is merged automatically.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julianstephens/habitkeep/internal/constants"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/remote"
	"github.com/julianstephens/habitkeep/internal/storage"
)

// ErrSyncInProgress is returned when a pass is requested while another is
// running. The request is dropped, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncState is the status indicator shown to the user.
type SyncState string

const (
	StateIdle    SyncState = "idle"
	StateSynced  SyncState = "synced"
	StatePending SyncState = "pending"
	StateSyncing SyncState = "syncing"
	StateError   SyncState = "error"
)

type Config struct {
	UserID string
	Now    func() time.Time
}

type Engine struct {
	store  storage.Provider
	client remote.Client
	net    network.Provider
	cfg    Config

	running atomic.Bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	last      *models.SyncResult
	observers []func(models.SyncResult)
}

// New builds an engine. client may be nil when no backend is configured;
// every pass then fails without touching the store.
func New(store storage.Provider, client remote.Client, net network.Provider, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UserID == "" {
		cfg.UserID = constants.DefaultUserID
	}
	return &Engine{store: store, client: client, net: net, cfg: cfg}
}

// OnComplete registers fn to receive the result of every finished pass.
func (e *Engine) OnComplete(fn func(models.SyncResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastResult returns the result of the most recent pass, if any.
func (e *Engine) LastResult() (models.SyncResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return models.SyncResult{}, false
	}
	return *e.last, true
}

// Status derives the indicator from the running flag, the last pass and
// the presence of unpushed rows.
func (e *Engine) Status(ctx context.Context) SyncState {
	if e.running.Load() {
		return StateSyncing
	}
	last, ran := e.LastResult()
	if ran && !last.Success {
		return StateError
	}
	habits, err := e.store.DirtyHabits(ctx, e.cfg.UserID)
	if err != nil {
		return StateError
	}
	completions, err := e.store.DirtyCompletions(ctx, e.cfg.UserID)
	if err != nil {
		return StateError
	}
	if len(habits)+len(completions) > 0 {
		return StatePending
	}
	if !ran {
		return StateIdle
	}
	return StateSynced
}

// Trigger starts a background pass unless one is already running.
func (e *Engine) Trigger(ctx context.Context) bool {
	if e.running.Load() {
		logger.Debug("sync already running, trigger dropped")
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.Sync(context.WithoutCancel(ctx))
		switch {
		case errors.Is(err, ErrSyncInProgress):
			logger.Debug("sync already running, trigger dropped")
		case err != nil:
			logger.Warn("background sync failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until every pass started by Trigger has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Sync runs one push-then-pull pass. Transport failures are reported in
// the result; the returned error is set only for store failures and for
// ErrSyncInProgress. Cancelling ctx does not interrupt a pass.
func (e *Engine) Sync(ctx context.Context) (models.SyncResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return models.SyncResult{}, ErrSyncInProgress
	}
	res, err := func() (models.SyncResult, error) {
		defer e.running.Store(false)
		return e.runPass(context.WithoutCancel(ctx))
	}()

	// Observers run after the guard is released so they can start a pass.
	e.mu.Lock()
	observers := append([]func(models.SyncResult){}, e.observers...)
	e.mu.Unlock()
	for _, fn := range observers {
		fn(res)
	}
	return res, err
}

func (e *Engine) runPass(ctx context.Context) (models.SyncResult, error) {
	p := &pass{
		Engine: e,
		res: models.SyncResult{
			StartedAt: e.cfg.Now().UTC(),
			Conflicts: []models.ConflictRef{},
			Errors:    []string{},
		},
	}

	err := p.run(ctx)
	res := p.res
	res.Success = err == nil && !p.aborted && len(res.Errors) == 0
	res.Duration = e.cfg.Now().Sub(res.StartedAt)

	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		logger.Error("sync pass failed", "error", err)
	} else {
		logger.Info("sync pass complete", "success", res.Success,
			"habits", res.HabitsSynced, "completions", res.CompletionsSynced,
			"pulled", res.Pulled, "conflicts", len(res.Conflicts), "errors", len(res.Errors))
	}

	e.mu.Lock()
	e.last = &res
	e.mu.Unlock()
	return res, err
}

// pass holds the state of one reconciliation attempt.
type pass struct {
	*Engine
	res     models.SyncResult
	aborted bool
}

func (p *pass) run(ctx context.Context) error {
	if p.client == nil {
		p.abort("remote backend not configured")
		return nil
	}
	if p.net != nil && !network.Online(ctx, p.net) {
		p.abort("network unavailable")
		return nil
	}

	if err := p.pushHabits(ctx); err != nil || p.aborted {
		return err
	}
	if err := p.pushCompletions(ctx); err != nil || p.aborted {
		return err
	}
	return p.pull(ctx)
}

func (p *pass) abort(msg string) {
	p.aborted = true
	p.res.Errors = append(p.res.Errors, msg)
	logger.Warn("sync pass aborted", "reason", msg)
}

// transportFailure records a per-row or per-pass transport error. It
// reports whether the pass must stop.
func (p *pass) transportFailure(kind models.RecordKind, id string, err error) bool {
	if errors.Is(err, remote.ErrUnavailable) {
		p.abort(err.Error())
		return true
	}
	err = apperrors.Transport("push "+string(kind), err)
	p.res.Errors = append(p.res.Errors, fmt.Sprintf("%s %s: %v", kind, id, err))
	logger.Warn("sync push failed", "kind", kind, "id", id, "error", err)
	return false
}

func (p *pass) conflict(kind models.RecordKind, id string, fields []string) {
	p.res.Conflicts = append(p.res.Conflicts, models.ConflictRef{Kind: kind, ID: id, Fields: fields})
	logger.Info("sync conflict", "kind", kind, "id", id, "fields", fields)
}

func (p *pass) pushHabits(ctx context.Context) error {
	dirty, err := p.store.DirtyHabits(ctx, p.cfg.UserID)
	if err != nil {
		return err
	}

	for _, h := range dirty {
		out, err := p.client.UpsertHabit(ctx, h)
		if err != nil {
			if p.transportFailure(models.KindHabit, h.ID, err) {
				return nil
			}
			if err := p.store.MarkHabitError(ctx, h.ID, err.Error()); err != nil {
				return err
			}
			continue
		}

		if out.Status == remote.Conflict {
			c := models.NewConflict(h, out.Remote)
			if len(c.Fields) > 0 {
				if err := p.store.MarkHabitConflict(ctx, h.ID, c); err != nil {
					return err
				}
				p.conflict(models.KindHabit, h.ID, c.Fields)
				continue
			}
			// Same content: an earlier push landed but its response was lost.
		}
		if err := p.store.MarkHabitSynced(ctx, h.ID, h.UpdatedAt, out.ServerTime); err != nil {
			return err
		}
		p.res.HabitsSynced++
	}
	return nil
}

func (p *pass) pushCompletions(ctx context.Context) error {
	dirty, err := p.store.DirtyCompletions(ctx, p.cfg.UserID)
	if err != nil {
		return err
	}

	for _, c := range dirty {
		out, err := p.client.UpsertCompletion(ctx, c)
		if err != nil {
			if p.transportFailure(models.KindCompletion, c.ID, err) {
				return nil
			}
			if err := p.store.MarkCompletionError(ctx, c.ID, err.Error()); err != nil {
				return err
			}
			continue
		}

		if out.Status == remote.Conflict {
			cf := models.NewConflict(c, out.Remote)
			if len(cf.Fields) > 0 {
				if err := p.store.MarkCompletionConflict(ctx, c.ID, cf); err != nil {
					return err
				}
				p.conflict(models.KindCompletion, c.ID, cf.Fields)
				continue
			}
			if out.Remote.ID != c.ID {
				// Another client recorded the same day first; adopt its row.
				if err := p.store.ApplyRemoteCompletion(ctx, out.Remote); err != nil {
					return err
				}
				p.res.CompletionsSynced++
				continue
			}
		}
		if err := p.store.MarkCompletionSynced(ctx, c.ID, c.UpdatedAt, out.ServerTime); err != nil {
			return err
		}
		p.res.CompletionsSynced++
	}
	return nil
}

// CheckpointKey is the sync_state key holding a user's pull checkpoint.
func CheckpointKey(userID string) string {
	return constants.CheckpointLastPullKey + ":" + userID
}

func (p *pass) pull(ctx context.Context) error {
	since, err := p.store.GetCheckpoint(ctx, CheckpointKey(p.cfg.UserID))
	if err != nil {
		return err
	}

	changes, err := p.client.FetchChangesSince(ctx, p.cfg.UserID, since)
	if err != nil {
		if errors.Is(err, remote.ErrUnavailable) {
			p.abort(err.Error())
			return nil
		}
		p.res.Errors = append(p.res.Errors, apperrors.Transport("fetch changes", err).Error())
		return nil
	}

	clean := true
	for _, rh := range changes.Habits {
		ok, err := p.pullHabit(ctx, rh)
		if err != nil {
			return err
		}
		clean = clean && ok
	}
	for _, rc := range changes.Completions {
		ok, err := p.pullCompletion(ctx, rc)
		if err != nil {
			return err
		}
		clean = clean && ok
	}

	// A row that failed to apply must be fetched again next time.
	if clean && changes.ServerTime.After(since) {
		return p.store.SetCheckpoint(ctx, CheckpointKey(p.cfg.UserID), changes.ServerTime)
	}
	return nil
}

// remoteNewer reports whether the remote version was written after the
// local row's sync baseline.
func remoteNewer(local, remote *time.Time) bool {
	if remote == nil {
		return true
	}
	if local == nil {
		return true
	}
	return remote.After(*local)
}

func (p *pass) pullHabit(ctx context.Context, rh models.Habit) (bool, error) {
	local, err := p.store.GetHabit(ctx, rh.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := p.store.ApplyRemoteHabit(ctx, rh); err != nil {
			p.res.Errors = append(p.res.Errors, fmt.Sprintf("habit %s: %v", rh.ID, err))
			return false, nil
		}
		p.res.Pulled++
		return true, nil
	}
	if err != nil {
		return false, err
	}

	fields := models.Diff(local, rh)
	switch {
	case local.Status == models.SyncConflict:
		return true, nil
	case !local.IsDirty:
		if len(fields) == 0 && !remoteNewer(local.LastSyncedAt, rh.LastSyncedAt) {
			return true, nil
		}
		if err := p.store.ApplyRemoteHabit(ctx, rh); err != nil {
			return false, err
		}
		if len(fields) > 0 {
			p.res.Pulled++
		}
		return true, nil
	case !remoteNewer(local.LastSyncedAt, rh.LastSyncedAt):
		// Pending local work on top of the version we already know.
		return true, nil
	case len(fields) == 0:
		return true, p.store.MarkHabitSynced(ctx, local.ID, local.UpdatedAt, *rh.LastSyncedAt)
	default:
		c := models.NewConflict(local, rh)
		if err := p.store.MarkHabitConflict(ctx, local.ID, c); err != nil {
			return false, err
		}
		p.conflict(models.KindHabit, local.ID, c.Fields)
		return true, nil
	}
}

func (p *pass) pullCompletion(ctx context.Context, rc models.Completion) (bool, error) {
	local, err := p.store.GetCompletionByID(ctx, rc.ID)
	if errors.Is(err, storage.ErrNotFound) {
		local, err = p.store.GetCompletion(ctx, rc.HabitID, rc.Date)
	}
	if errors.Is(err, storage.ErrNotFound) {
		if err := p.store.ApplyRemoteCompletion(ctx, rc); err != nil {
			p.res.Errors = append(p.res.Errors, fmt.Sprintf("completion %s: %v", rc.ID, err))
			return false, nil
		}
		p.res.Pulled++
		return true, nil
	}
	if err != nil {
		return false, err
	}

	fields := models.Diff(local, rc)
	sameRow := local.ID == rc.ID
	switch {
	case local.Status == models.SyncConflict:
		return true, nil
	case !local.IsDirty:
		if sameRow && len(fields) == 0 && !remoteNewer(local.LastSyncedAt, rc.LastSyncedAt) {
			return true, nil
		}
		if err := p.store.ApplyRemoteCompletion(ctx, rc); err != nil {
			return false, err
		}
		if len(fields) > 0 || !sameRow {
			p.res.Pulled++
		}
		return true, nil
	case sameRow && !remoteNewer(local.LastSyncedAt, rc.LastSyncedAt):
		return true, nil
	case len(fields) == 0:
		if !sameRow {
			return true, p.store.ApplyRemoteCompletion(ctx, rc)
		}
		return true, p.store.MarkCompletionSynced(ctx, local.ID, local.UpdatedAt, *rc.LastSyncedAt)
	default:
		c := models.NewConflict(local, rc)
		if err := p.store.MarkCompletionConflict(ctx, local.ID, c); err != nil {
			return false, err
		}
		p.conflict(models.KindCompletion, local.ID, c.Fields)
		return true, nil
	}
}

// ResolveConflict settles a record left in conflict. UseRemote accepts the
// remote version and marks the row synced. UseLocal keeps the local
// version and queues it to overwrite the remote on the next push.
func (e *Engine) ResolveConflict(ctx context.Context, kind models.RecordKind, id string, choice models.ResolutionChoice) error {
	const op = "resolve conflict"
	if choice != models.UseLocal && choice != models.UseRemote {
		return apperrors.Validation(op, "resolution must be %q or %q, got %q", models.UseLocal, models.UseRemote, choice)
	}

	switch kind {
	case models.KindHabit:
		h, err := e.store.GetHabit(ctx, id)
		if err != nil {
			return err
		}
		if h.Status != models.SyncConflict {
			return apperrors.Validation(op, "habit %s is not in conflict", id)
		}
		var c models.Conflict[models.Habit]
		if err := json.Unmarshal(h.ConflictData, &c); err != nil {
			return apperrors.Store(op, fmt.Errorf("habit %s: invalid conflict payload: %w", id, err))
		}
		if choice == models.UseRemote {
			return e.store.ApplyRemoteHabit(ctx, c.Remote)
		}
		return e.store.RequeueHabit(ctx, id, c.Remote.LastSyncedAt)

	case models.KindCompletion:
		cm, err := e.store.GetCompletionByID(ctx, id)
		if err != nil {
			return err
		}
		if cm.Status != models.SyncConflict {
			return apperrors.Validation(op, "completion %s is not in conflict", id)
		}
		var c models.Conflict[models.Completion]
		if err := json.Unmarshal(cm.ConflictData, &c); err != nil {
			return apperrors.Store(op, fmt.Errorf("completion %s: invalid conflict payload: %w", id, err))
		}
		if choice == models.UseRemote {
			return e.store.ApplyRemoteCompletion(ctx, c.Remote)
		}
		if c.Remote.ID == cm.ID {
			return e.store.RequeueCompletion(ctx, id, c.Remote.LastSyncedAt)
		}
		// The remote row for this day has its own id: take it over and
		// write the local values onto it.
		if err := e.store.ApplyRemoteCompletion(ctx, c.Remote); err != nil {
			return err
		}
		kept := c.Remote
		kept.CompletedCount = cm.CompletedCount
		kept.Note = cm.Note
		kept.UpdatedAt = time.Time{}
		_, err = e.store.SaveCompletion(ctx, kept)
		return err

	default:
		return apperrors.Validation(op, "unknown record kind %q", kind)
	}
}
