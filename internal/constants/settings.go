package constants

const (
	// Config file keys, used in validation messages
	SettingUserID       = "user_id"
	SettingTimezone     = "timezone"
	SettingPollInterval = "sync.poll_interval"
	SettingSchedule     = "sync.schedule"
	SettingProbeAddress = "sync.probe_address"
	SettingRemoteDSN    = "remote.dsn"

	DefaultTimezone = "Local" // Use system local timezone by default
	DefaultUserID   = "local"
)
