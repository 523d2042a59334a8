package system

import (
	"context"

	"github.com/julianstephens/habitkeep/internal/cli"
)

type ResetCmd struct{}

func (c *ResetCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	if err := ctx.Open(bg); err != nil {
		return err
	}

	ok, err := ctx.Confirm(
		"Reset the local database?",
		"All habits and completions on this device are removed. A backup is taken first.")
	if err != nil {
		return err
	}
	if !ok {
		ctx.Println("Reset cancelled.")
		return nil
	}

	if err := ctx.Store.Reset(bg); err != nil {
		return err
	}
	ctx.Println("✓ Database reset. A backup of the previous data is in the backups directory.")
	return nil
}
