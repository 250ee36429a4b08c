package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw   string
		every time.Duration
		cron  string
	}{
		{raw: "*/5 * * * *", cron: "*/5 * * * *"},
		{raw: "cron:0 0 * * *", cron: "0 0 * * *"},
		{raw: "@hourly", cron: "@hourly"},
		{raw: "10m", every: 10 * time.Minute, cron: "@every 10m0s"},
		{raw: "interval:45s", every: 45 * time.Second, cron: "@every 45s"},
		{raw: "every: 00:05", every: 5 * time.Minute, cron: "@every 5m0s"},
		{raw: "01:30", every: 90 * time.Minute, cron: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.every > 0, got.IsInterval())
			assert.Equal(t, tt.every, got.Every)
			assert.Equal(t, tt.cron, got.CronSpec())
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "00:00", "01:75", "1:5", "cron:", "interval:soon"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSpec("*/5 * * * *"))
	assert.NoError(t, ValidateSpec("0 */5 * * * *"))
	assert.NoError(t, ValidateSpec("2m"))
	assert.Error(t, ValidateSpec("61 * * * *"))
	assert.Error(t, ValidateSpec("@fortnightly"))
}
