package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/constants"
)

type InitCmd struct {
	Force bool `help:"Force reset by deleting existing database before initialization."`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	dbPath := ctx.Store.Path()
	if c.Force {
		if _, err := os.Stat(dbPath); err == nil {
			// Close first so the lock and WAL files are released
			if err := ctx.Store.Close(); err != nil {
				return fmt.Errorf("failed to close existing database: %w", err)
			}
			for _, suffix := range []string{"", "-wal", "-shm"} {
				if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to delete existing database: %w", err)
				}
			}
			ctx.Printf("Deleted existing database at: %s\n", dbPath)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to access existing database: %w", err)
		}
	}

	if err := ctx.Open(context.Background()); err != nil {
		return err
	}
	ctx.Printf("Initialized habitkeep storage at: %s\n", dbPath)

	cfgPath := filepath.Join(ctx.ConfigDir, constants.ConfigFileName)
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := ctx.Config.Save(ctx.ConfigDir); err != nil {
			return err
		}
		ctx.Printf("Wrote default configuration to: %s\n", cfgPath)
	}
	return nil
}
