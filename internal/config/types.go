package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Source   SourceConfig   `json:"source"`
	Schedule ScheduleConfig `json:"schedule"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// WelcomeImage is a photo URL sent ahead of the /start greeting. Optional.
	WelcomeImage string `json:"welcome_image,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the mosque site publishing the daily schedule.
type SourceConfig struct {
	URL string `json:"url"`
	// Timeout is a Go duration string for the whole fetch (default "15s").
	Timeout string `json:"timeout,omitempty"`
}

// ScheduleConfig controls the operating timezone and the fixed local times at
// which the daily schedule is re-fetched.
//
// RefreshTimes entries are local "HH:MM" wall-clock times. Defaults to
// ["00:01", "01:30"] when omitted.
type ScheduleConfig struct {
	Timezone     string   `json:"timezone"`
	RefreshTimes []string `json:"refresh_times,omitempty"`
}

// NotifierConfig controls the dispatch pipeline fanning fired prayer events
// out to subscribers.
type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./prayerbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}
