package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/habitkeep/internal/cli"
	"github.com/julianstephens/habitkeep/internal/config"
)

// SettingsCmd shows or edits config.toml.
type SettingsCmd struct {
	List bool `help:"List current settings."`

	UserID       *string `help:"User id whose habits this device tracks." name:"user-id"`
	Timezone     *string `help:"IANA timezone used for 'today' (or Local)."`
	PollInterval *string `help:"Connectivity poll interval, e.g. 15s."`
	Schedule     *string `help:"Cron schedule for background sync. Empty disables it."`
	ProbeAddress *string `help:"host:port dialed to check connectivity."`
}

func (c *SettingsCmd) Run(ctx *cli.Context) error {
	if c.List {
		cfg := ctx.Config
		ctx.Println("Current Settings:")
		ctx.Printf("  User ID:        %s\n", cfg.UserID)
		ctx.Printf("  Timezone:       %s\n", cfg.Timezone)
		ctx.Println("\nSync Settings:")
		ctx.Printf("  Poll Interval:  %s\n", cfg.Sync.PollInterval)
		ctx.Printf("  Schedule:       %s\n", orNone(cfg.Sync.Schedule))
		ctx.Printf("  Probe Address:  %s\n", cfg.Sync.ProbeAddress)
		ctx.Printf("  Remote DSN:     %s\n", orNone(cfg.Remote.DSN))
		return nil
	}

	// Edit the file as written so environment overrides are not saved
	cfg, err := config.LoadFile(ctx.ConfigDir)
	if err != nil {
		return err
	}

	updated := false
	if c.UserID != nil {
		cfg.UserID = strings.TrimSpace(*c.UserID)
		updated = true
	}
	if c.Timezone != nil {
		cfg.Timezone = *c.Timezone
		updated = true
	}
	if c.PollInterval != nil {
		d, err := time.ParseDuration(*c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval: %w", err)
		}
		cfg.Sync.PollInterval = config.Duration{Duration: d}
		updated = true
	}
	if c.Schedule != nil {
		cfg.Sync.Schedule = *c.Schedule
		updated = true
	}
	if c.ProbeAddress != nil {
		cfg.Sync.ProbeAddress = *c.ProbeAddress
		updated = true
	}

	if !updated {
		ctx.Println("No changes specified. Use --list to view settings or flags to update them.")
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(ctx.ConfigDir); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	ctx.Println("Settings updated successfully.")
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
