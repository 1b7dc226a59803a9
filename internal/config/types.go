package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Scheduler controls the polling dispatcher loops for both job
	// families (reminders and habits).
	Scheduler SchedulerConfig `json:"scheduler"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendRatePerSec caps outgoing messages per second. 0 keeps the default.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
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

// StorageConfig selects the job store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the dispatcher polling loops.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "10s"
//   - lock_ttl: "60s"
//   - batch_size: 25
//   - instance_id: random per process
type SchedulerConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	LockTTL      string `json:"lock_ttl,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`

	// InstanceID identifies this process as a lock holder. Set it only
	// when you need stable identities across restarts.
	InstanceID string `json:"instance_id,omitempty"`
}
