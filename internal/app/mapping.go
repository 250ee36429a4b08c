package app

import (
	"strings"
	"time"

	"reminderd/internal/admin"
	"reminderd/internal/alert"
	"reminderd/internal/config"
	"reminderd/internal/directory"
	"reminderd/internal/mailer"
	"reminderd/internal/reminder"
	"reminderd/internal/storage"
	"reminderd/internal/transport"
	logx "reminderd/pkg/logx"
)

// lookaheadSlack widens the before-start search past the window's upper
// bound so sessions near the edge are still fetched.
const lookaheadSlack = 5 * time.Minute

func chatTarget(cfg *config.Config, threadID int) transport.ChatTarget {
	if threadID == 0 {
		threadID = cfg.Telegram.ThreadID
	}
	return transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: threadID}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			Target:     chatTarget(cfg, cfg.Logging.Telegram.ThreadID),
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{MaxRetries: cfg.Reminder.EffectiveMaxRetries()}
	if cfg.Storage == nil {
		return sc, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	sc.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	sc.Path = strings.TrimSpace(cfg.Storage.Path)
	sc.BusyTimeout = busy
	return sc, nil
}

func mapSettings(cfg *config.Config) reminder.Settings {
	pre, post := cfg.Reminder.PreStartWindow(), cfg.Reminder.PostEndWindow()
	return reminder.Settings{
		Windows: reminder.Windows{
			PreStart: reminder.Band{Lower: pre.Lower, Upper: pre.Upper},
			PostEnd:  reminder.Band{Lower: post.Lower, Upper: post.Upper},
		},
		CallTimeout: cfg.Reminder.EffectiveCallTimeout(),
		Concurrency: cfg.Reminder.EffectiveConcurrency(),
	}
}

// searchWindows returns the directory lookahead and lookback for cfg.
func searchWindows(cfg *config.Config) (time.Duration, time.Duration) {
	ahead := time.Duration(cfg.Reminder.PreStartWindow().Upper)*time.Minute + lookaheadSlack
	return ahead, cfg.Directory.EffectiveLookback()
}

func mapDirectoryConfig(cfg *config.Config) directory.Config {
	ahead, back := searchWindows(cfg)
	d := cfg.Directory
	return directory.Config{
		BaseURL:          d.BaseURL,
		SearchPath:       d.SearchPath(),
		RegistrationPath: d.RegistrationPath(),
		EmailPath:        d.EmailLookupPath(),
		Token:            d.Token,
		Timeout:          d.EffectiveTimeout(),
		Lookahead:        ahead,
		Lookback:         back,
		Location:         d.Location(cfg.Scheduler.Location()),
	}
}

func mapMailerConfig(cfg *config.Config) mailer.Config {
	m := cfg.Mail
	return mailer.Config{
		Host:        m.Host,
		Port:        m.EffectivePort(),
		Username:    m.Username,
		Password:    m.Password,
		From:        m.FromAddr,
		FromName:    m.EffectiveFromName(),
		StartTLS:    m.StartTLS,
		RatePerSec:  m.EffectiveRate(),
		Timeout:     m.EffectiveTimeout(),
		FeedbackURL: m.FeedbackURL,
		Location:    cfg.Scheduler.Location(),
	}
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	ac := alert.Config{Target: chatTarget(cfg, 0)}
	if cfg.Alerts == nil {
		return ac, nil
	}
	window, err := config.ParseDurationOrDefault("alerts.dedup_window", cfg.Alerts.DedupWindow, 10*time.Minute)
	if err != nil {
		return alert.Config{}, err
	}
	ac.Enabled = cfg.Alerts.Enabled
	ac.RatePerSec = cfg.Alerts.RatePerSec
	ac.QueueSize = cfg.Alerts.QueueSize
	ac.RetryMax = cfg.Alerts.RetryMax
	if ac.RetryMax == 0 {
		ac.RetryMax = 2
	}
	ac.DedupWindow = window
	return ac, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	a := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", a.ReadTimeout, admin.DefaultReadTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("admin.write_timeout", a.WriteTimeout, admin.DefaultWriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", a.IdleTimeout, admin.DefaultIdleTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       a.Enabled,
		Addr:          a.EffectiveAddr(),
		Token:         strings.TrimSpace(a.Token),
		AllowInsecure: a.AllowInsecure,
		Pprof:         a.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
