package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/remote"
)

// MonitorConfig controls when the Monitor starts passes.
type MonitorConfig struct {
	PollInterval time.Duration
	// Schedule is a cron expression ("@every 5m", "0 */2 * * *"). Empty disables
	// scheduled passes.
	Schedule string
	Location *time.Location
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval: constants.DefaultPollInterval,
		Schedule:     constants.DefaultSyncSchedule,
		Location:     time.Local,
	}
}

// Monitor drives an Engine from connectivity changes, remote change events
// and a cron schedule.
type Monitor struct {
	engine *Engine
	cfg    MonitorConfig
}

func NewMonitor(engine *Engine, cfg MonitorConfig) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Monitor{engine: engine, cfg: cfg}
}

// Run blocks until ctx is cancelled, then stops the schedule, closes the
// subscription and waits for in-flight passes.
func (m *Monitor) Run(ctx context.Context) error {
	// Registered first so it runs after every trigger source is stopped.
	defer m.engine.Wait()

	if m.cfg.Schedule != "" {
		c := cron.New(cron.WithLocation(m.cfg.Location))
		if _, err := c.AddFunc(m.cfg.Schedule, func() { m.engine.Trigger(ctx) }); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", m.cfg.Schedule, err)
		}
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
		logger.Info("scheduled sync enabled", "schedule", m.cfg.Schedule)
	}

	if m.engine.client != nil {
		sub, err := m.engine.client.SubscribeToChanges(ctx, m.engine.cfg.UserID, func(ev remote.ChangeEvent) {
			logger.Debug("remote change received", "kind", ev.Kind, "id", ev.ID)
			m.engine.Trigger(ctx)
		})
		if err != nil {
			logger.Warn("realtime subscription unavailable, relying on polling", "error", err)
		} else {
			defer sub.Close()
		}
	}

	online := m.online(ctx)
	if online {
		m.engine.Trigger(ctx)
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := m.online(ctx)
			if now && !online {
				logger.Info("network restored, starting sync")
				m.engine.Trigger(ctx)
			}
			if !now && online {
				logger.Info("network lost, sync paused")
			}
			online = now
		}
	}
}

func (m *Monitor) online(ctx context.Context) bool {
	if m.engine.net == nil {
		return true
	}
	return network.Online(ctx, m.engine.net)
}
