package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/remote"
	"github.com/julianstephens/habitkeep/internal/remote/remotetest"
)

func waitForPass(t *testing.T, results <-chan models.SyncResult, what string) models.SyncResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("no sync pass after %s", what)
		return models.SyncResult{}
	}
}

func TestMonitorSyncsWhenNetworkReturns(t *testing.T) {
	env := setupTestEnv(t)
	env.net.Set(false)
	env.createHabit(t, "Offline habit")

	results := make(chan models.SyncResult, 8)
	env.engine.OnComplete(func(res models.SyncResult) { results <- res })

	ctx, cancel := context.WithCancel(context.Background())
	monitor := NewMonitor(env.engine, MonitorConfig{PollInterval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case res := <-results:
		t.Fatalf("pass ran while offline: %+v", res)
	default:
	}

	env.net.Set(true)
	res := waitForPass(t, results, "network restored")
	if !res.Success || res.HabitsSynced != 1 {
		t.Errorf("result = %+v, want the pending habit pushed", res)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestMonitorSyncsOnRemoteChange(t *testing.T) {
	env := setupTestEnv(t)

	results := make(chan models.SyncResult, 8)
	env.engine.OnComplete(func(res models.SyncResult) { results <- res })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor := NewMonitor(env.engine, MonitorConfig{PollInterval: time.Hour})
	go monitor.Run(ctx)

	// Online at start triggers one pass.
	waitForPass(t, results, "start")

	now := time.Now().UTC()
	h := env.remote.PutHabit(models.Habit{
		ID: uuid.NewString(), UserID: testUser, Title: "Remote", TargetCount: 1,
		Frequency: models.Daily{}, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	res := waitForPass(t, results, "remote change")
	if res.Pulled != 1 {
		t.Errorf("result = %+v, want 1 pulled", res)
	}
	if _, err := env.store.GetHabit(context.Background(), h.ID); err != nil {
		t.Errorf("remote habit not pulled: %v", err)
	}
}

func TestMonitorRejectsBadSchedule(t *testing.T) {
	env := setupTestEnv(t)
	monitor := NewMonitor(env.engine, MonitorConfig{Schedule: "every now and then"})
	if err := monitor.Run(context.Background()); err == nil {
		t.Error("expected an invalid schedule to fail")
	}
}

// lateEventClient delivers one more change event while its subscription is
// being closed, as a realtime feed can during shutdown.
type lateEventClient struct {
	*remotetest.Memory
}

func (c lateEventClient) SubscribeToChanges(ctx context.Context, userID string, fn func(remote.ChangeEvent)) (remote.Subscription, error) {
	sub, err := c.Memory.SubscribeToChanges(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	return lateEventSub{Subscription: sub, fire: func() { fn(remote.ChangeEvent{UserID: userID}) }}, nil
}

type lateEventSub struct {
	remote.Subscription
	fire func()
}

func (s lateEventSub) Close() error {
	s.fire()
	return s.Subscription.Close()
}

func TestMonitorWaitsForPassesStartedDuringShutdown(t *testing.T) {
	env := setupTestEnv(t)
	engine := New(env.store, lateEventClient{env.remote}, env.net, Config{UserID: testUser})

	var (
		mu     sync.Mutex
		passes int
	)
	started := make(chan struct{}, 1)
	engine.OnComplete(func(models.SyncResult) {
		mu.Lock()
		passes++
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	monitor := NewMonitor(engine, MonitorConfig{PollInterval: time.Hour})
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no sync pass after start")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if passes != 2 {
		t.Errorf("passes finished when Run returned = %d, want 2", passes)
	}
}
