package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderd/internal/config"
	"reminderd/internal/eventbus"
	"reminderd/internal/reminder"
)

const testConfig = `{
  "logging": {"level": "error", "console": true},
  "scheduler": {"timezone": "UTC", "tick": "2m", "sweep": "1h"},
  "reminder": {"pre_start": {"lower_minutes": 10, "upper_minutes": 30}, "max_retries": 3},
  "directory": {"base_url": "http://gateway.local", "lookback": "90m"},
  "mail": {"host": "smtp.local", "from_email": "noreply@example.com"}
}`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminderd.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	a, err := New(path, "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = a.logs.Close()
	})
	return a
}

func TestNewWiresComponents(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	ahead, back := a.dir.Windows()
	assert.Equal(t, 35*time.Minute, ahead)
	assert.Equal(t, 90*time.Minute, back)

	jobs := a.sched.Snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, "sweep", jobs[0].Name)
	assert.Equal(t, "tick", jobs[1].Name)
	assert.Equal(t, "@every 2m0s", jobs[1].Spec)

	assert.False(t, a.admin.Enabled())
	assert.False(t, a.alerts.Enabled())
	assert.Equal(t, reminder.Band{Lower: 10, Upper: 30}, a.driver.Settings().Windows.PreStart)

	h := a.health()
	assert.Contains(t, h, "scheduler")
	assert.Contains(t, h, "directory")
}

func TestApplyConfigUpdatesRunningComponents(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	// Pretend the scheduler is already running so the reload does not start cron.
	a.setSchedEnabled(true)
	events, unsub := a.bus.Subscribe(8)
	defer unsub()

	prev := a.cfgm.Get()
	next := *prev
	next.Reminder.PreStart = &config.WindowConfig{Lower: 5, Upper: 20}
	next.Reminder.RetentionDays = 3
	next.Scheduler.Tick = "*/10 * * * *"

	a.applyConfig(context.Background(), prev, &next)

	assert.Equal(t, reminder.Band{Lower: 5, Upper: 20}, a.driver.Settings().Windows.PreStart)
	assert.Equal(t, 72*time.Hour, a.sweeper.Horizon())
	ahead, _ := a.dir.Windows()
	assert.Equal(t, 25*time.Minute, ahead)

	var tick string
	for _, j := range a.sched.Snapshot() {
		if j.Name == "tick" {
			tick = j.Spec
		}
	}
	assert.Equal(t, "*/10 * * * *", tick)

	select {
	case e := <-events:
		assert.Equal(t, eventbus.TypeConfigReloaded, e.Type)
		assert.Equal(t, []string{"reminder", "scheduler"}, e.Data)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, sc.Driver)
	assert.Equal(t, config.DefaultMaxRetries, sc.MaxRetries)

	cfg.Storage = &config.StorageConfig{Driver: " SQLite ", Path: "./r.db", BusyTimeout: "2s"}
	retries := 5
	cfg.Reminder.MaxRetries = &retries
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)
	assert.Equal(t, 5, sc.MaxRetries)

	cfg.Storage.BusyTimeout = "soon"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapAdminAndAlertConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Telegram: config.TelegramConfig{ChatID: -100, ThreadID: 7},
		Admin:    config.AdminConfig{Enabled: true, Token: " tok ", ReadTimeout: "3s"},
		Alerts:   &config.AlertsConfig{Enabled: true, DedupWindow: "1m"},
	}
	ac, err := mapAdminConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAdminAddr, ac.Addr)
	assert.Equal(t, "tok", ac.Token)
	assert.Equal(t, 3*time.Second, ac.ReadTimeout)

	al, err := mapAlertConfig(cfg)
	require.NoError(t, err)
	assert.True(t, al.Enabled)
	assert.Equal(t, int64(-100), al.Target.ChatID)
	assert.Equal(t, 7, al.Target.ThreadID)
	assert.Equal(t, time.Minute, al.DedupWindow)
	assert.Equal(t, 2, al.RetryMax)
}
