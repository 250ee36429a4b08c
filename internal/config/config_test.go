package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{
  "logging": {"level": "info", "console": true},
  "scheduler": {"timezone": "UTC"},
  "reminder": {},
  "directory": {"base_url": "http://gateway.local"},
  "mail": {"host": "smtp.local", "from_email": "noreply@example.com"}
}`

const minimalYAML = `
logging:
  level: debug
scheduler:
  tick: "*/5 * * * *"
reminder:
  pre_start: {lower_minutes: 5, upper_minutes: 20}
  max_retries: 5
directory:
  base_url: http://gateway.local
mail:
  host: smtp.local
  from_email: noreply@example.com
`

const minimalTOML = `
[logging]
level = "warn"

[reminder]
retention_days = 14
call_timeout = "10s"

[reminder.post_end]
lower_minutes = 1
upper_minutes = 15

[directory]
base_url = "http://gateway.local"

[mail]
host = "smtp.local"
from_email = "noreply@example.com"
port = 2525
`

func TestDecodeFormats(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(minimalJSON))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, DefaultPreStart, cfg.Reminder.PreStartWindow())
	assert.Equal(t, DefaultPostEnd, cfg.Reminder.PostEndWindow())
	assert.Equal(t, DefaultMaxRetries, cfg.Reminder.EffectiveMaxRetries())
	assert.Equal(t, 7*24*time.Hour, cfg.Reminder.Retention())
	assert.Equal(t, DefaultTick, cfg.Scheduler.TickSpec())
	assert.True(t, cfg.Scheduler.IsEnabled())

	cfg, err = Decode("c.yaml", []byte(minimalYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, WindowConfig{Lower: 5, Upper: 20}, cfg.Reminder.PreStartWindow())
	assert.Equal(t, 5, cfg.Reminder.EffectiveMaxRetries())
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.TickSpec())

	cfg, err = Decode("c.toml", []byte(minimalTOML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, WindowConfig{Lower: 1, Upper: 15}, cfg.Reminder.PostEndWindow())
	assert.Equal(t, 14*24*time.Hour, cfg.Reminder.Retention())
	assert.Equal(t, 10*time.Second, cfg.Reminder.EffectiveCallTimeout())
	assert.Equal(t, 2525, cfg.Mail.EffectivePort())
}

func ptr[T any](v T) *T { return &v }

func TestExplicitZeroesAreKept(t *testing.T) {
	t.Parallel()

	raw := strings.Replace(minimalJSON, `"reminder": {}`,
		`"reminder": {"pre_start": {"lower_minutes": 0, "upper_minutes": 0}, "post_end": {"lower_minutes": 0, "upper_minutes": 0}}`, 1)
	cfg, err := Decode("c.json", []byte(raw))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, WindowConfig{}, cfg.Reminder.PreStartWindow())
	assert.Equal(t, WindowConfig{}, cfg.Reminder.PostEndWindow())

	raw = strings.Replace(minimalJSON, `"reminder": {}`, `"reminder": {"max_retries": 0}`, 1)
	cfg, err = Decode("c.json", []byte(raw))
	require.NoError(t, err)
	require.NotNil(t, cfg.Reminder.MaxRetries)
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder.max_retries")
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"logging": {"levle": "info"}}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("plugins: {}\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Decode("c.json", []byte(minimalJSON))
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"inverted window", func(c *Config) { c.Reminder.PreStart = &WindowConfig{Lower: 30, Upper: 10} }, "reminder.pre_start"},
		{"negative window", func(c *Config) { c.Reminder.PostEnd = &WindowConfig{Lower: -1, Upper: 10} }, "reminder.post_end"},
		{"bad duration", func(c *Config) { c.Reminder.CallTimeout = "soon" }, "reminder.call_timeout"},
		{"negative retries", func(c *Config) { c.Reminder.MaxRetries = ptr(-1) }, "reminder.max_retries"},
		{"zero retries", func(c *Config) { c.Reminder.MaxRetries = ptr(0) }, "reminder.max_retries"},
		{"missing base url", func(c *Config) { c.Directory.BaseURL = "" }, "directory.base_url"},
		{"bad placeholder", func(c *Config) { c.Directory.EmailPath = "/users/email" }, "directory.email_path"},
		{"bad sender", func(c *Config) { c.Mail.FromAddr = "nobody" }, "mail.from_email"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"alerts without token", func(c *Config) { c.Alerts = &AlertsConfig{Enabled: true} }, "telegram.token"},
		{"public admin without token", func(c *Config) {
			c.Admin = AdminConfig{Enabled: true, Addr: "0.0.0.0:8085"}
		}, "admin.addr"},
		{"unknown storage", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:8085": true,
		"localhost:1":    true,
		"[::1]:8085":     true,
		":8085":          false,
		"0.0.0.0:8085":   false,
		"10.0.0.5:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("IsLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(minimalJSON))
	require.NoError(t, err)
	cfg.Mail.Password = "hunter2"
	cfg.Admin.Token = "s3cret"

	out := Redacted(cfg)
	assert.Equal(t, "***", out.Mail.Password)
	assert.Equal(t, "***", out.Admin.Token)
	assert.Empty(t, out.Directory.Token)
	assert.Equal(t, "hunter2", cfg.Mail.Password, "original must stay intact")
	assert.Nil(t, Redacted(nil))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.json", []byte(minimalJSON))
	require.NoError(t, err)
	newCfg, err := Decode("c.json", []byte(minimalJSON))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Reminder.MaxRetries = ptr(9)
	newCfg.Mail.Password = "secret"
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"mail", "reminder"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"mail"}, RestartRequired(changed))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reminderd.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalJSON), 0o644))

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	invalid := strings.Replace(minimalJSON, `"reminder": {}`, `"reminder": {"max_retries": -2}`, 1)
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o644))
	select {
	case <-ch:
		t.Fatal("invalid config must not be published")
	case <-time.After(300 * time.Millisecond):
	}

	valid := strings.Replace(minimalJSON, `"reminder": {}`, `"reminder": {"max_retries": 6}`, 1)
	require.NoError(t, os.WriteFile(path, []byte(valid), 0o644))
	select {
	case cfg := <-ch:
		assert.Equal(t, 6, cfg.Reminder.EffectiveMaxRetries())
		assert.Equal(t, 6, m.Get().Reminder.EffectiveMaxRetries())
	case <-time.After(3 * time.Second):
		t.Fatal("valid config was not published")
	}

	cancel()
	<-done
}
