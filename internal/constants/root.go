package constants

import "time"

const (
	AppName            = "habitkeep"
	DefaultKeyringUser = "remote-connection"
	DefaultConfigDir   = "~/.config/habitkeep"
	DatabaseFileName   = "habitkeep.db"
	ConfigFileName     = "config.toml"
	LockFileSuffix     = ".lock"
	Version            = "v0.3.0"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "habitkeep-"
	BackupFileSuffix = ".db"

	// StreakLookbackDays bounds how far back the streak walk looks.
	StreakLookbackDays = 365

	// Remote notification channel used by the PostgreSQL backend.
	RemoteChangeChannel = "habitkeep_changes"
	RemoteSchema        = "habitkeep"
)

const (
	// Environment overrides
	EnvUserID    = "HABITKEEP_USER_ID"
	EnvRemoteDSN = "HABITKEEP_REMOTE_DSN"
)

const (
	DefaultPollInterval   = 15 * time.Second
	DefaultProbeAddress   = "1.1.1.1:443"
	DefaultProbeTimeout   = 3 * time.Second
	DefaultSyncSchedule   = "@every 5m"
	ListenerMinReconnect  = 10 * time.Second
	ListenerMaxReconnect  = time.Minute
	SQLiteBusyTimeoutMs   = 5000
	CheckpointLastPullKey = "last_pull_at"
)
