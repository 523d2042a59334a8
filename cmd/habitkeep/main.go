package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/cli/backups"
	"github.com/julianstephens/habitkeep/internal/cli/settings"
	"github.com/julianstephens/habitkeep/internal/cli/system"
	"github.com/julianstephens/habitkeep/internal/config"
	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/coordinator"
	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/keyring"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/remote"
	"github.com/julianstephens/habitkeep/internal/remote/postgres"
	"github.com/julianstephens/habitkeep/internal/storage/sqlite"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

var CLI struct {
	Version   kong.VersionFlag
	ConfigDir string `help:"Configuration directory." type:"path" default:"${config_dir}"`
	DB        string `help:"SQLite database path. Defaults to habitkeep.db in the configuration directory." type:"path"`
	Debug     bool   `help:"Log debug output to stderr."`
	Offline   bool   `help:"Never contact the remote backend."`
	User      string `help:"User id to act as. Overrides the configuration."`
	Yes       bool   `help:"Answer yes to confirmation prompts." short:"y"`

	Init      system.InitCmd       `cmd:"" help:"Initialize habitkeep storage."`
	Migrate   system.MigrateCmd    `cmd:"" help:"Run database migrations."`
	Doctor    system.DoctorCmd     `cmd:"" help:"Run health checks and diagnostics."`
	Reset     system.ResetCmd      `cmd:"" help:"Erase the local database after taking a backup."`
	Tui       system.TuiCmd        `cmd:"" help:"Launch the interactive TUI." default:"1"`
	Backup    backups.BackupCmd    `cmd:"" help:"Manage database backups."`
	Habit     cli.HabitCmd         `cmd:"" help:"Manage habits and today's completions."`
	Stats     cli.StatsCmd         `cmd:"" help:"Show today's statistics."`
	History   cli.HistoryCmd       `cmd:"" help:"Show completions for a date range."`
	Sync      cli.SyncCmd          `cmd:"" help:"Synchronize with the remote backend now."`
	Conflicts cli.ConflictsCmd     `cmd:"" help:"List and resolve sync conflicts."`
	Watch     cli.WatchCmd         `cmd:"" help:"Keep syncing in the foreground until interrupted."`
	Remote    system.RemoteCmd     `cmd:"" help:"Manage the remote backend connection."`
	Settings  settings.SettingsCmd `cmd:"" help:"Show or change configuration settings."`
	Debug     system.DebugCmd      `cmd:"" help:"Debug commands for troubleshooting sync."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Offline-first habit tracker with background sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":    constants.Version,
			"config_dir": constants.DefaultConfigDir,
		},
	)

	appCtx, err := build()
	if err != nil {
		apperrors.Fatal(err)
	}

	err = ctx.Run(appCtx)
	if cerr := appCtx.Close(); cerr != nil {
		logger.Warn("failed to close storage", "error", cerr)
	}
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", apperrors.Format(err))
		os.Exit(1)
	}
}

// build wires the store, remote client, sync engine and coordinator from
// the flags and the configuration file.
func build() (*cli.Context, error) {
	dir, err := config.ExpandDir(CLI.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{Debug: CLI.Debug, ConfigDir: dir}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if CLI.User != "" {
		cfg.UserID = CLI.User
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	dbPath := CLI.DB
	if dbPath == "" {
		dbPath = filepath.Join(dir, constants.DatabaseFileName)
	}
	store := sqlite.NewStore(dbPath)

	var net network.Provider = network.NewTCPProvider(cfg.Sync.ProbeAddress, constants.DefaultProbeTimeout)
	if CLI.Offline {
		net = network.NewStatic(false)
	}

	appCtx := &cli.Context{
		Config:    cfg,
		ConfigDir: dir,
		Store:     store,
		Network:   net,
		AssumeYes: CLI.Yes,
	}

	var client remote.Client
	if !CLI.Offline {
		pg, err := remoteClient(cfg)
		if err != nil {
			return nil, err
		}
		if pg != nil {
			client = pg
			appCtx.Remote = pg
		}
	}

	appCtx.Engine = syncer.New(store, client, net, syncer.Config{UserID: cfg.UserID})
	appCtx.Coordinator = coordinator.New(store, appCtx.Engine, coordinator.Options{
		UserID:   cfg.UserID,
		Location: loc,
	})
	return appCtx, nil
}

// remoteClient picks the DSN from the configuration or environment first,
// then the OS keyring. No DSN means sync is not configured.
func remoteClient(cfg config.Config) (*postgres.Client, error) {
	if cfg.Remote.DSN != "" {
		pg, err := postgres.New(cfg.Remote.DSN)
		if errors.Is(err, postgres.ErrEmbeddedCredentials) {
			return nil, fmt.Errorf("%s must not embed a password; use PGPASSWORD, .pgpass or 'habitkeep remote set-dsn'", constants.SettingRemoteDSN)
		}
		return pg, err
	}

	dsn, err := keyring.GetRemoteDSN()
	switch {
	case err == nil:
		return postgres.NewFromKeyring(dsn)
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	default:
		logger.Debug("keyring unavailable, running without a remote backend", "error", err)
		return nil, nil
	}
}
