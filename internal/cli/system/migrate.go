package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/julianstephens/habitkeep/internal/cli"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx *cli.Context) error {
	ctx.Store.OnMigration(func(msg string) {
		ctx.Println(strings.TrimRight(msg, "\n"))
	})
	if err := ctx.Open(context.Background()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	count := ctx.Store.AppliedMigrations()
	if count == 0 {
		ctx.Println("No migrations to apply. Database is up to date.")
	} else {
		ctx.Printf("\nSuccessfully applied %d migration(s).\n", count)
	}
	return nil
}
