package system

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/syncer"
	"github.com/julianstephens/habitkeep/internal/tui"
)

type TuiCmd struct {
	NoWatch bool `help:"Do not sync in the background while the screen is open."`
}

func (c *TuiCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	ctx.OpenRemote(bg)

	// Pulled changes reach the screen through the projection
	ctx.Engine.OnComplete(func(res models.SyncResult) {
		if res.Pulled == 0 && len(res.Conflicts) == 0 {
			return
		}
		if _, err := ctx.Coordinator.GetHabits(bg); err != nil {
			logger.Warn("failed to refresh habits after sync", "error", err)
		}
	})

	runCtx, cancel := context.WithCancel(bg)
	defer cancel()

	if !c.NoWatch {
		loc, err := ctx.Config.Location()
		if err != nil {
			return err
		}
		monitor := syncer.NewMonitor(ctx.Engine, syncer.MonitorConfig{
			PollInterval: ctx.Config.Sync.PollInterval.Duration,
			Schedule:     ctx.Config.Sync.Schedule,
			Location:     loc,
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := monitor.Run(runCtx); err != nil {
				logger.Warn("background sync stopped", "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if err := tui.Run(ctx.Coordinator, tea.WithAltScreen()); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
