package system

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julianstephens/habitkeep/internal/backup"
	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/config"
	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/coordinator"
	"github.com/julianstephens/habitkeep/internal/models"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/remote/remotetest"
	"github.com/julianstephens/habitkeep/internal/storage/sqlite"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

func newTestContext(t *testing.T, dir, dbPath string) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	store := sqlite.NewStore(dbPath)
	cfg := config.Default()
	cfg.UserID = "u1"
	cfg.Timezone = "UTC"

	net := network.NewStatic(false)
	engine := syncer.New(store, remotetest.NewMemory(), net, syncer.Config{UserID: cfg.UserID})
	out := &bytes.Buffer{}
	return &cli.Context{
		Config:    cfg,
		ConfigDir: dir,
		Store:     store,
		Network:   net,
		Engine:    engine,
		Coordinator: coordinator.New(store, engine, coordinator.Options{
			UserID:   cfg.UserID,
			Location: time.UTC,
		}),
		Out:       out,
		AssumeYes: true,
	}, out
}

func setupTestDB(t *testing.T) (*cli.Context, *bytes.Buffer, string, func()) {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	ctx, out := newTestContext(t, tempDir, dbPath)

	cleanup := func() {
		if err := ctx.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	}
	return ctx, out, dbPath, cleanup
}

func addHabit(t *testing.T, ctx *cli.Context, title string) models.Habit {
	t.Helper()
	if err := ctx.Open(context.Background()); err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	h, err := ctx.Coordinator.CreateHabit(context.Background(), models.HabitInput{
		Title:       title,
		TargetCount: 1,
		Frequency:   models.Daily{},
	})
	if err != nil {
		t.Fatalf("failed to create habit: %v", err)
	}
	ctx.Engine.Wait()
	return h
}

func TestInitCmd_Success(t *testing.T) {
	ctx, out, dbPath, cleanup := setupTestDB(t)
	defer cleanup()

	if err := (&InitCmd{}).Run(ctx); err != nil {
		t.Fatalf("init command failed: %v", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}
	cfgPath := filepath.Join(ctx.ConfigDir, constants.ConfigFileName)
	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config file was not written: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote default configuration") {
		t.Errorf("init output = %q", out.String())
	}
}

func TestInitCmd_Idempotent(t *testing.T) {
	ctx, out, _, cleanup := setupTestDB(t)
	defer cleanup()

	if err := (&InitCmd{}).Run(ctx); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	addHabit(t, ctx, "Read")

	out.Reset()
	if err := (&InitCmd{}).Run(ctx); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if strings.Contains(out.String(), "Wrote default configuration") {
		t.Error("second init overwrote the existing config")
	}
	views, err := ctx.Coordinator.GetHabits(context.Background())
	if err != nil || len(views) != 1 {
		t.Errorf("habits after second init = %d, %v; want 1", len(views), err)
	}
}

func TestInitCmd_Force(t *testing.T) {
	ctx, out, _, cleanup := setupTestDB(t)
	defer cleanup()

	if err := (&InitCmd{}).Run(ctx); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	addHabit(t, ctx, "Read")

	out.Reset()
	if err := (&InitCmd{Force: true}).Run(ctx); err != nil {
		t.Fatalf("forced init failed: %v", err)
	}
	if !strings.Contains(out.String(), "Deleted existing database") {
		t.Errorf("forced init output = %q", out.String())
	}
	habits, err := ctx.Store.ListHabits(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("ListHabits failed: %v", err)
	}
	if len(habits) != 0 {
		t.Errorf("habits after forced init = %d, want 0", len(habits))
	}
}

func TestMigrateCmd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	ctx, out := newTestContext(t, dir, dbPath)
	if err := (&MigrateCmd{}).Run(ctx); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Successfully applied") {
		t.Errorf("first migrate output = %q", out.String())
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	ctx, out = newTestContext(t, dir, dbPath)
	defer ctx.Close()
	if err := (&MigrateCmd{}).Run(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Database is up to date") {
		t.Errorf("second migrate output = %q", out.String())
	}
}

func TestDoctorCmd_Healthy(t *testing.T) {
	ctx, out, _, cleanup := setupTestDB(t)
	defer cleanup()
	addHabit(t, ctx, "Read")

	if err := (&DoctorCmd{}).Run(ctx); err != nil {
		t.Fatalf("doctor failed on a healthy database: %v\n%s", err, out.String())
	}
	for _, want := range []string{
		"✓ Database reachable: OK",
		"✓ Schema version: OK",
		"✓ Data integrity: OK",
		"✓ Habit validation: OK",
		"⚠ Remote backend: WARNING",
		"All checks passed.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("doctor output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDoctorCmd_UnreachableDatabase(t *testing.T) {
	dir := t.TempDir()
	// A directory cannot be opened as a database file.
	ctx, out := newTestContext(t, dir, dir)
	defer ctx.Close()

	if err := (&DoctorCmd{}).Run(ctx); err == nil {
		t.Fatal("doctor should fail when the database is unreachable")
	}
	if !strings.Contains(out.String(), "⊘ Schema version: SKIPPED") {
		t.Errorf("doctor output = %q, want dependent checks skipped", out.String())
	}
}

func TestResetCmd(t *testing.T) {
	ctx, out, dbPath, cleanup := setupTestDB(t)
	defer cleanup()
	addHabit(t, ctx, "Read")
	addHabit(t, ctx, "Run")

	if err := (&ResetCmd{}).Run(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.Contains(out.String(), "Database reset") {
		t.Errorf("reset output = %q", out.String())
	}

	habits, err := ctx.Store.ListHabits(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("ListHabits failed: %v", err)
	}
	if len(habits) != 0 {
		t.Errorf("habits after reset = %d, want 0", len(habits))
	}

	backups, err := backup.NewManager(dbPath).ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) == 0 {
		t.Error("reset did not leave a backup")
	}
}

func TestDebugCmds(t *testing.T) {
	ctx, out, dbPath, cleanup := setupTestDB(t)
	defer cleanup()
	h := addHabit(t, ctx, "Read")
	done, err := ctx.Coordinator.ToggleCompletion(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("ToggleCompletion failed: %v", err)
	}
	ctx.Engine.Wait()

	tests := []struct {
		name string
		cmd  interface{ Run(*cli.Context) error }
		want []string
	}{
		{"db path", &DebugDBPathCmd{}, []string{dbPath}},
		{"dump habit", &DebugDumpHabitCmd{Habit: "Read"}, []string{h.ID, `"Read"`}},
		{"dump completion", &DebugDumpCompletionCmd{ID: done.ID}, []string{done.ID, h.ID}},
		{"dirty", &DebugDirtyCmd{}, []string{h.ID, done.ID}},
		{"checkpoint", &DebugCheckpointCmd{}, []string{syncer.CheckpointKey("u1"), `"last_pull_at": ""`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			if err := tt.cmd.Run(ctx); err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}

	if err := (&DebugDumpCompletionCmd{ID: "missing"}).Run(ctx); err == nil {
		t.Error("dumping an unknown completion should fail")
	}
}
