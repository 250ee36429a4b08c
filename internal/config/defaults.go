package config

import (
	"strings"
	"time"
)

const (
	DefaultTick          = "5m"
	DefaultSweep         = "1h"
	DefaultMaxRetries    = 3
	DefaultRetentionDays = 7
	DefaultCallTimeout   = 30 * time.Second
	DefaultConcurrency   = 4
	DefaultLookback      = 2 * time.Hour
	DefaultAdminAddr     = "127.0.0.1:8085"
	DefaultSMTPPort      = 587
	DefaultMailRate      = 5
	DefaultFromName      = "Session Reminders"

	DefaultSessionSearchPath = "/sessions/api/search"
	DefaultRegistrationsPath = "/rarf/api/session/{sessionId}"
	DefaultEmailPath         = "/users/api/findemail/{username}"
)

var (
	DefaultPreStart = WindowConfig{Lower: 10, Upper: 30}
	DefaultPostEnd  = WindowConfig{Lower: 0, Upper: 10}
)

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SchedulerConfig) TickSpec() string { return orDefault(s.Tick, DefaultTick) }

func (s SchedulerConfig) SweepSpec() string { return orDefault(s.Sweep, DefaultSweep) }

// Location resolves Timezone, falling back to the process local zone.
func (s SchedulerConfig) Location() *time.Location {
	return loadLocation(s.Timezone, time.Local)
}

func (r ReminderConfig) PreStartWindow() WindowConfig {
	if r.PreStart == nil {
		return DefaultPreStart
	}
	return *r.PreStart
}

func (r ReminderConfig) PostEndWindow() WindowConfig {
	if r.PostEnd == nil {
		return DefaultPostEnd
	}
	return *r.PostEnd
}

// EffectiveMaxRetries is the configured limit, or the default when the key
// is absent.
func (r ReminderConfig) EffectiveMaxRetries() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

func (r ReminderConfig) Retention() time.Duration {
	return time.Duration(orDefaultInt(r.RetentionDays, DefaultRetentionDays)) * 24 * time.Hour
}

func (r ReminderConfig) EffectiveCallTimeout() time.Duration {
	d, err := ParseDurationOrDefault("reminder.call_timeout", r.CallTimeout, DefaultCallTimeout)
	if err != nil {
		return DefaultCallTimeout
	}
	return d
}

func (r ReminderConfig) EffectiveConcurrency() int {
	return orDefaultInt(r.Concurrency, DefaultConcurrency)
}

func (d DirectoryConfig) EffectiveTimeout() time.Duration {
	v, err := ParseDurationOrDefault("directory.timeout", d.Timeout, DefaultCallTimeout)
	if err != nil {
		return DefaultCallTimeout
	}
	return v
}

func (d DirectoryConfig) EffectiveLookback() time.Duration {
	v, err := ParseDurationOrDefault("directory.lookback", d.Lookback, DefaultLookback)
	if err != nil {
		return DefaultLookback
	}
	return v
}

func (d DirectoryConfig) SearchPath() string {
	return orDefault(d.SessionSearchPath, DefaultSessionSearchPath)
}

func (d DirectoryConfig) RegistrationPath() string {
	return orDefault(d.RegistrationsPath, DefaultRegistrationsPath)
}

func (d DirectoryConfig) EmailLookupPath() string { return orDefault(d.EmailPath, DefaultEmailPath) }

// Location resolves the zone of upstream local date-times.
func (d DirectoryConfig) Location(fallback *time.Location) *time.Location {
	return loadLocation(d.Timezone, fallback)
}

func (m MailConfig) EffectivePort() int { return orDefaultInt(m.Port, DefaultSMTPPort) }

func (m MailConfig) EffectiveRate() int { return orDefaultInt(m.RatePerSec, DefaultMailRate) }

func (m MailConfig) EffectiveFromName() string { return orDefault(m.FromName, DefaultFromName) }

func (m MailConfig) EffectiveTimeout() time.Duration {
	v, err := ParseDurationOrDefault("mail.timeout", m.Timeout, DefaultCallTimeout)
	if err != nil {
		return DefaultCallTimeout
	}
	return v
}

func (a AdminConfig) EffectiveAddr() string { return orDefault(a.Addr, DefaultAdminAddr) }

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
