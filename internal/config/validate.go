package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"reminderd/internal/scheduler"
	logx "reminderd/pkg/logx"
)

// Validate reports every problem in cfg at once. A non-nil result is a
// configuration error: fatal at startup, rejected on reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := func(fields map[string]string) {
		for path, raw := range fields {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Telegram.Enabled && !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}
	needTelegram := cfg.Logging.Telegram.Enabled || (cfg.Alerts != nil && cfg.Alerts.Enabled)
	if needTelegram {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("telegram.token: required when telegram logging or alerts are enabled"))
		}
		if cfg.Telegram.ChatID == 0 {
			add(errors.New("telegram.chat_id: required when telegram logging or alerts are enabled"))
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if err := scheduler.ValidateSpec(cfg.Scheduler.TickSpec()); err != nil {
		add(fmt.Errorf("scheduler.tick: %w", err))
	}
	if err := scheduler.ValidateSpec(cfg.Scheduler.SweepSpec()); err != nil {
		add(fmt.Errorf("scheduler.sweep: %w", err))
	}
	if tz := strings.TrimSpace(cfg.Directory.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("directory.timezone: %w", err))
		}
	}

	add(validateWindow("reminder.pre_start", cfg.Reminder.PreStartWindow()))
	add(validateWindow("reminder.post_end", cfg.Reminder.PostEndWindow()))
	if n := cfg.Reminder.MaxRetries; n != nil && *n < 1 {
		add(errors.New("reminder.max_retries: must be >= 1"))
	}
	if cfg.Reminder.RetentionDays < 0 {
		add(errors.New("reminder.retention_days: must be >= 0"))
	}
	if cfg.Reminder.Concurrency < 0 {
		add(errors.New("reminder.concurrency: must be >= 0"))
	}

	durations(map[string]string{
		"reminder.call_timeout": cfg.Reminder.CallTimeout,
		"directory.timeout":     cfg.Directory.Timeout,
		"directory.lookback":    cfg.Directory.Lookback,
		"mail.timeout":          cfg.Mail.Timeout,
		"telegram.timeout":      cfg.Telegram.Timeout,
		"admin.read_timeout":    cfg.Admin.ReadTimeout,
		"admin.write_timeout":   cfg.Admin.WriteTimeout,
		"admin.idle_timeout":    cfg.Admin.IdleTimeout,
	})

	if raw := strings.TrimSpace(cfg.Directory.BaseURL); raw == "" {
		add(errors.New("directory.base_url: required"))
	} else if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
		add(fmt.Errorf("directory.base_url: invalid URL %q", raw))
	}
	if !strings.Contains(cfg.Directory.RegistrationPath(), "{sessionId}") {
		add(errors.New("directory.registrations_path: missing {sessionId} placeholder"))
	}
	if !strings.Contains(cfg.Directory.EmailLookupPath(), "{username}") {
		add(errors.New("directory.email_path: missing {username} placeholder"))
	}

	if strings.TrimSpace(cfg.Mail.Host) == "" {
		add(errors.New("mail.host: required"))
	}
	if !strings.Contains(cfg.Mail.FromAddr, "@") {
		add(fmt.Errorf("mail.from_email: invalid address %q", cfg.Mail.FromAddr))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.StartTLS)) {
	case "", "auto", "always", "never":
	default:
		add(fmt.Errorf("mail.starttls: want auto, always or never, got %q", cfg.Mail.StartTLS))
	}

	if cfg.Admin.Enabled {
		addr := cfg.Admin.EffectiveAddr()
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.Admin.Token) == "" && !cfg.Admin.AllowInsecure {
			add(fmt.Errorf("admin.addr: %q is not loopback; set admin.token or admin.allow_insecure", addr))
		}
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "memory":
		case "file", "sqlite":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", cfg.Storage.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
	}
	if cfg.Alerts != nil {
		_, err := ParseDurationField("alerts.dedup_window", cfg.Alerts.DedupWindow)
		add(err)
	}

	return errors.Join(errs...)
}

func validateWindow(path string, w WindowConfig) error {
	if w.Lower < 0 || w.Upper < 0 {
		return fmt.Errorf("%s: bounds must be >= 0", path)
	}
	if w.Lower > w.Upper {
		return fmt.Errorf("%s: lower_minutes %d > upper_minutes %d", path, w.Lower, w.Upper)
	}
	return nil
}

// IsLoopbackAddr reports whether a host:port binds only to loopback.
// An empty host (":8085") listens on every interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
