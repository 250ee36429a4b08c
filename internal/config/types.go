package config

// Config is the on-disk configuration of reminderd.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminder  ReminderConfig  `json:"reminder"`
	Directory DirectoryConfig `json:"directory"`
	Mail      MailConfig      `json:"mail"`
	Admin     AdminConfig     `json:"admin,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Alerts  *AlertsConfig  `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to the operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the send-only operator channel shared by the log sink and alerts.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"` // default: "15s"
}

// SchedulerConfig controls when ticks and sweeps fire.
//
// Tick and Sweep accept a cron expression (seconds optional), an interval
// ("5m", "every 5m") or a daily wall clock time ("03:30").
type SchedulerConfig struct {
	// Enabled is a pointer so an omitted value defaults to true.
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Tick  string `json:"tick,omitempty"`  // default: "5m"
	Sweep string `json:"sweep,omitempty"` // default: "1h"

	// RunOnStart fires one tick right after startup.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

// WindowConfig is an inclusive minute band.
type WindowConfig struct {
	Lower int `json:"lower_minutes"`
	Upper int `json:"upper_minutes"`
}

// ReminderConfig controls the dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - pre_start: [10, 30]
//   - post_end: [0, 10]
//   - max_retries: 3
//   - retention_days: 7
//   - call_timeout: "30s"
//   - concurrency: 4
type ReminderConfig struct {
	PreStart      *WindowConfig `json:"pre_start,omitempty"`
	PostEnd       *WindowConfig `json:"post_end,omitempty"`
	MaxRetries    *int          `json:"max_retries,omitempty"`
	RetentionDays int           `json:"retention_days,omitempty"`
	CallTimeout   string        `json:"call_timeout,omitempty"`
	Concurrency   int           `json:"concurrency,omitempty"`
}

// DirectoryConfig points at the upstream gateway serving sessions,
// registrations and email addresses.
//
// Path templates use {sessionId} and {username} placeholders.
type DirectoryConfig struct {
	BaseURL           string `json:"base_url"`
	SessionSearchPath string `json:"session_search_path,omitempty"` // default: "/sessions/api/search"
	RegistrationsPath string `json:"registrations_path,omitempty"`  // default: "/rarf/api/session/{sessionId}"
	EmailPath         string `json:"email_path,omitempty"`          // default: "/users/api/findemail/{username}"
	Token             string `json:"token,omitempty"`               // optional bearer token (do not log)
	Timeout           string `json:"timeout,omitempty"`             // default: "30s"
	Lookback          string `json:"lookback,omitempty"`            // default: "2h"
	Timezone          string `json:"timezone,omitempty"`            // zone of upstream local date-times; default: scheduler.timezone
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default: 587
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	FromAddr string `json:"from_email"`
	FromName string `json:"from_name,omitempty"` // default: "Session Reminders"

	// StartTLS: "auto" (default), "always" or "never".
	StartTLS   string `json:"starttls,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 5
	Timeout    string `json:"timeout,omitempty"`      // default: "30s"

	FeedbackURL string `json:"feedback_url,omitempty"` // feedback form linked from feedback mails
}

// AdminConfig controls the admin HTTP server.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// an explicit allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8085"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the ledger backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reminderd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory (default), file, sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// AlertsConfig controls operator alerts sent over Telegram.
type AlertsConfig struct {
	Enabled     bool   `json:"enabled"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default: 1
	DedupWindow string `json:"dedup_window,omitempty"` // default: "10m"
	QueueSize   int    `json:"queue_size,omitempty"`   // default: 64
	RetryMax    int    `json:"retry_max,omitempty"`    // default: 2
}
