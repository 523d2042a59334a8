package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

type SyncCmd struct{}

func (c *SyncCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	ctx.OpenRemote(bg)

	res, err := ctx.Coordinator.SyncNow(bg)
	if err != nil {
		return err
	}
	printSyncResult(ctx, res)
	if !res.Success {
		return fmt.Errorf("sync finished with %d error(s)", len(res.Errors))
	}
	return nil
}

func printSyncResult(ctx *Context, res models.SyncResult) {
	status := DoneStyle.Render("✓ Sync complete")
	if !res.Success {
		status = ErrorStyle.Render("❌ Sync incomplete")
	}
	ctx.Printf("%s: pushed %d habit(s), %d completion(s); pulled %d in %s\n",
		status, res.HabitsSynced, res.CompletionsSynced, res.Pulled, res.Duration.Round(time.Millisecond))
	for _, ref := range res.Conflicts {
		ctx.Printf("  %s %s %s (%s)\n", PendingStyle.Render("conflict"), ref.Kind, ref.ID, strings.Join(ref.Fields, ", "))
	}
	for _, msg := range res.Errors {
		ctx.Printf("  %s %s\n", ErrorStyle.Render("error"), msg)
	}
	if len(res.Conflicts) > 0 {
		ctx.Println("Run 'habitkeep conflicts resolve <id> --use local|remote' to settle conflicts.")
	}
}

type ConflictsCmd struct {
	List    ConflictsListCmd    `cmd:"" default:"1" help:"List records in conflict."`
	Resolve ConflictsResolveCmd `cmd:"" help:"Resolve a conflict by keeping one side."`
}

type ConflictsListCmd struct{}

func (c *ConflictsListCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	refs, err := ctx.Store.ListConflicts(bg, ctx.Config.UserID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		ctx.Println("No conflicts.")
		return nil
	}
	ctx.Println(HeaderStyle.Render(fmt.Sprintf("%d conflict(s)", len(refs))))
	for _, ref := range refs {
		ctx.Printf("  %-10s %s  %s\n", ref.Kind, ref.ID, MutedStyle.Render(strings.Join(ref.Fields, ", ")))
	}
	return nil
}

type ConflictsResolveCmd struct {
	ID  string `arg:"" help:"Id of the habit or completion in conflict."`
	Use string `help:"Version to keep." enum:"local,remote" required:""`
}

func (c *ConflictsResolveCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	choice := models.ResolutionChoice(c.Use)
	ok, err := ctx.Confirm(
		fmt.Sprintf("Keep the %s version of %s?", c.Use, c.ID),
		"The other version is discarded.")
	if err != nil {
		return err
	}
	if !ok {
		ctx.Println("Resolution cancelled.")
		return nil
	}

	ctx.OpenRemote(bg)
	if err := ctx.Coordinator.ResolveConflict(bg, c.ID, choice); err != nil {
		return err
	}
	ctx.Printf("✓ Kept the %s version of %s\n", c.Use, c.ID)
	return nil
}

type WatchCmd struct{}

func (c *WatchCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}
	ctx.OpenRemote(bg)

	loc, err := ctx.Config.Location()
	if err != nil {
		return err
	}
	monitor := syncer.NewMonitor(ctx.Engine, syncer.MonitorConfig{
		PollInterval: ctx.Config.Sync.PollInterval.Duration,
		Schedule:     ctx.Config.Sync.Schedule,
		Location:     loc,
	})
	ctx.Engine.OnComplete(func(res models.SyncResult) {
		printSyncResult(ctx, res)
	})

	runCtx, stop := signal.NotifyContext(bg, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx.Println("Watching for changes. Press Ctrl+C to stop.")
	logger.Info("sync monitor started", "user", ctx.Config.UserID)
	if err := monitor.Run(runCtx); err != nil {
		return err
	}
	ctx.Println("Stopped.")
	return nil
}
