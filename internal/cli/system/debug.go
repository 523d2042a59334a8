package system

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

type DebugCmd struct {
	DBPath         *DebugDBPathCmd         `cmd:"" help:"Show database and config paths."`
	DumpHabit      *DebugDumpHabitCmd      `cmd:"" help:"Dump a habit and its sync metadata as JSON."`
	DumpCompletion *DebugDumpCompletionCmd `cmd:"" help:"Dump a completion and its sync metadata as JSON."`
	Dirty          *DebugDirtyCmd          `cmd:"" help:"List records waiting to be pushed."`
	Checkpoint     *DebugCheckpointCmd     `cmd:"" help:"Show the last pull checkpoint."`
}

func printJSON(ctx *cli.Context, v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	ctx.Println(string(jsonBytes))
	return nil
}

type DebugDBPathCmd struct{}

func (cmd *DebugDBPathCmd) Run(ctx *cli.Context) error {
	return printJSON(ctx, map[string]string{
		"path":       ctx.Store.Path(),
		"config_dir": ctx.ConfigDir,
	})
}

type DebugDumpHabitCmd struct {
	Habit string `arg:"" help:"Habit id, id prefix or title."`
}

func (cmd *DebugDumpHabitCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	h, err := ctx.FindHabit(bg, cmd.Habit)
	if err != nil {
		return err
	}
	return printJSON(ctx, h)
}

type DebugDumpCompletionCmd struct {
	ID string `arg:"" help:"ID of the completion to dump."`
}

func (cmd *DebugDumpCompletionCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	c, err := ctx.Store.GetCompletionByID(bg, cmd.ID)
	if err != nil {
		return fmt.Errorf("completion %s: %w", cmd.ID, err)
	}
	return printJSON(ctx, c)
}

type DebugDirtyCmd struct{}

func (cmd *DebugDirtyCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	habits, err := ctx.Store.DirtyHabits(bg, ctx.Config.UserID)
	if err != nil {
		return err
	}
	completions, err := ctx.Store.DirtyCompletions(bg, ctx.Config.UserID)
	if err != nil {
		return err
	}
	return printJSON(ctx, map[string]interface{}{
		"habits":      habits,
		"completions": completions,
	})
}

type DebugCheckpointCmd struct{}

func (cmd *DebugCheckpointCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	key := syncer.CheckpointKey(ctx.Config.UserID)
	at, err := ctx.Store.GetCheckpoint(bg, key)
	if err != nil {
		return err
	}
	out := map[string]string{"key": key, "last_pull_at": ""}
	if !at.IsZero() {
		out["last_pull_at"] = at.UTC().Format(time.RFC3339Nano)
	}
	return printJSON(ctx, out)
}
