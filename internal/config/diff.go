package config

import (
	"reflect"
	"sort"
	"strings"

	logx "reminderd/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (tokens, passwords) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		oldCfg.Scheduler.TickSpec() != newCfg.Scheduler.TickSpec() ||
		oldCfg.Scheduler.SweepSpec() != newCfg.Scheduler.SweepSpec() ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.RunOnStart != newCfg.Scheduler.RunOnStart {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.tick", newCfg.Scheduler.TickSpec()),
			logx.String("scheduler.sweep", newCfg.Scheduler.SweepSpec()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oR, nR := oldCfg.Reminder, newCfg.Reminder
	if oR.PreStartWindow() != nR.PreStartWindow() ||
		oR.PostEndWindow() != nR.PostEndWindow() ||
		oR.EffectiveMaxRetries() != nR.EffectiveMaxRetries() ||
		oR.Retention() != nR.Retention() ||
		oR.EffectiveCallTimeout() != nR.EffectiveCallTimeout() ||
		oR.EffectiveConcurrency() != nR.EffectiveConcurrency() {
		pre, post := nR.PreStartWindow(), nR.PostEndWindow()
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Int("reminder.pre_start.lower", pre.Lower),
			logx.Int("reminder.pre_start.upper", pre.Upper),
			logx.Int("reminder.post_end.lower", post.Lower),
			logx.Int("reminder.post_end.upper", post.Upper),
			logx.Int("reminder.max_retries", nR.EffectiveMaxRetries()),
			logx.Duration("reminder.retention", nR.Retention()),
			logx.Duration("reminder.call_timeout", nR.EffectiveCallTimeout()),
			logx.Int("reminder.concurrency", nR.EffectiveConcurrency()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Directory, newCfg.Directory) {
		changed = append(changed, "directory")
		attrs = append(attrs,
			logx.String("directory.base_url", strings.TrimSpace(newCfg.Directory.BaseURL)),
			logx.Bool("directory.token_set", strings.TrimSpace(newCfg.Directory.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Mail, newCfg.Mail) {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.host", strings.TrimSpace(newCfg.Mail.Host)),
			logx.Int("mail.port", newCfg.Mail.EffectivePort()),
			logx.Bool("mail.auth", strings.TrimSpace(newCfg.Mail.Username) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Admin, newCfg.Admin) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.EffectiveAddr()),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.Bool("alerts.enabled", newCfg.Alerts != nil && newCfg.Alerts.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "directory", "mail", "admin", "storage", "telegram":
			out = append(out, s)
		}
	}
	return out
}
