// Package config loads and saves the habitkeep TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/julianstephens/habitkeep/internal/constants"
	"github.com/julianstephens/habitkeep/internal/utils"
)

// Duration is a time.Duration written as a string ("15s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type SyncConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	Schedule     string   `toml:"schedule"`
	ProbeAddress string   `toml:"probe_address"`
}

type RemoteConfig struct {
	// DSN of the PostgreSQL backend. Passwords belong in PGPASSWORD,
	// .pgpass or the OS keyring, never here.
	DSN string `toml:"dsn"`
}

type Config struct {
	UserID   string       `toml:"user_id"`
	Timezone string       `toml:"timezone"`
	Sync     SyncConfig   `toml:"sync"`
	Remote   RemoteConfig `toml:"remote"`

	path string
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		UserID:   constants.DefaultUserID,
		Timezone: constants.DefaultTimezone,
		Sync: SyncConfig{
			PollInterval: Duration{constants.DefaultPollInterval},
			Schedule:     constants.DefaultSyncSchedule,
			ProbeAddress: constants.DefaultProbeAddress,
		},
	}
}

// ExpandDir resolves a leading ~ in dir.
func ExpandDir(dir string) (string, error) {
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// Load reads <dir>/config.toml over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(dir string) (Config, error) {
	cfg, err := LoadFile(dir)
	if err != nil {
		return cfg, err
	}

	if v := os.Getenv(constants.EnvUserID); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv(constants.EnvRemoteDSN); v != "" {
		cfg.Remote.DSN = v
	}

	return cfg, cfg.Validate()
}

// LoadFile is Load without environment overrides, for editing the file.
func LoadFile(dir string) (Config, error) {
	cfg := Default()
	dir, err := ExpandDir(dir)
	if err != nil {
		return cfg, err
	}
	cfg.path = filepath.Join(dir, constants.ConfigFileName)

	if _, err := toml.DecodeFile(cfg.path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read %s: %w", cfg.path, err)
	}
	return cfg, nil
}

// Validate rejects values that would fail later at startup.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%s cannot be empty", constants.SettingUserID)
	}
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("%s: unknown timezone %q", constants.SettingTimezone, c.Timezone)
	}
	if c.Sync.PollInterval.Duration <= 0 {
		return fmt.Errorf("%s must be positive", constants.SettingPollInterval)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("%s: %w", constants.SettingSchedule, err)
		}
	}
	return nil
}

// Location returns the configured timezone.
func (c Config) Location() (*time.Location, error) {
	return utils.LoadLocation(c.Timezone)
}

// Path is the file the configuration was loaded from.
func (c Config) Path() string {
	return c.path
}

// Save writes the configuration to dir, creating it when needed.
func (c Config) Save(dir string) error {
	dir, err := ExpandDir(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, constants.ConfigFileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
