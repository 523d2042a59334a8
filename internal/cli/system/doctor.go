package system

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitkeep/internal/backup"
	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/validation"
)

type DoctorCmd struct {
	Fix bool `help:"Remove duplicate completions left by older versions."`
}

// doctorReport prints check lines and remembers whether any failed.
type doctorReport struct {
	ctx      *cli.Context
	hasError bool
}

func (r *doctorReport) check(name string, err error) {
	if err != nil {
		r.ctx.Printf("❌ %s: FAIL\n", name)
		r.ctx.Printf("   Error: %v\n", err)
		r.hasError = true
		return
	}
	r.ctx.Printf("✓ %s: OK\n", name)
}

func (r *doctorReport) warn(name string, err error) {
	if err != nil {
		r.ctx.Printf("⚠ %s: WARNING\n", name)
		r.ctx.Printf("   %v\n", err)
		return
	}
	r.ctx.Printf("✓ %s: OK\n", name)
}

func (r *doctorReport) skip(name, why string) {
	r.ctx.Printf("⊘ %s: SKIPPED (%s)\n", name, why)
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	bg := context.Background()
	ctx.Println("Running diagnostics...")
	ctx.Println()

	r := &doctorReport{ctx: ctx}

	dbErr := ctx.Open(bg)
	r.check("Database reachable", dbErr)

	dbChecks := []struct {
		name string
		fn   func(context.Context, *cli.Context) error
	}{
		{"Schema version", checkSchemaVersion},
		{"Data integrity", cmd.checkIntegrity},
		{"Habit validation", checkHabits},
	}
	for _, c := range dbChecks {
		if dbErr != nil {
			r.skip(c.name, "database not reachable")
			continue
		}
		r.check(c.name, c.fn(bg, ctx))
	}

	r.warn("Backups present", checkBackupsPresent(ctx))
	r.check("Clock/timezone", checkClockTimezone(ctx))
	r.warn("Remote backend", checkRemote(bg, ctx))

	if dbErr == nil {
		r.warn("Sync state", checkSyncState(bg, ctx))
	} else {
		r.skip("Sync state", "database not reachable")
	}

	ctx.Println()
	if r.hasError {
		return errors.New("diagnostics found problems")
	}
	ctx.Println("All checks passed.")
	return nil
}

func checkSchemaVersion(ctx context.Context, c *cli.Context) error {
	current, err := c.Store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	latest, err := c.Store.LatestSchemaVersion()
	if err != nil {
		return err
	}
	if current != latest {
		return fmt.Errorf("database is at version %d, latest is %d. Run 'habitkeep migrate'", current, latest)
	}
	return nil
}

func (cmd *DoctorCmd) checkIntegrity(ctx context.Context, c *cli.Context) error {
	if cmd.Fix {
		n, err := c.Store.DedupeCompletions(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			c.Printf("   Removed %d duplicate completion(s)\n", n)
		}
	}
	report := c.Store.VerifyIntegrity(ctx)
	if !report.OK {
		return errors.New(strings.Join(report.Problems, "\n          "))
	}
	return nil
}

func checkHabits(ctx context.Context, c *cli.Context) error {
	habits, err := c.Store.ListHabits(ctx, c.Config.UserID, true)
	if err != nil {
		return err
	}
	res := validation.New().ValidateHabits(habits)
	if res.HasProblems() {
		return errors.New(strings.TrimSpace(res.FormatReport()))
	}
	return nil
}

func checkBackupsPresent(c *cli.Context) error {
	backups, err := backup.NewManager(c.Store.Path()).ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		return errors.New("no backups found - consider creating one with 'habitkeep backup create'")
	}
	return nil
}

func checkClockTimezone(c *cli.Context) error {
	if _, err := c.Config.Location(); err != nil {
		return err
	}
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	return nil
}

func checkRemote(ctx context.Context, c *cli.Context) error {
	if c.Remote == nil {
		return errors.New("no remote backend configured; changes stay on this device")
	}
	if !network.Online(ctx, c.Network) {
		return errors.New("network unavailable")
	}
	if err := c.Remote.Open(ctx); err != nil {
		return err
	}
	return c.Remote.Close()
}

func checkSyncState(ctx context.Context, c *cli.Context) error {
	conflicts, err := c.Store.ListConflicts(ctx, c.Config.UserID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%d record(s) in conflict. Run 'habitkeep conflicts list'", len(conflicts))
	}
	return nil
}
