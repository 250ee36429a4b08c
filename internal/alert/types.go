package alert

import (
	"strconv"
	"time"

	"reminderd/internal/transport"
)

// Config controls the alert pipeline. Zero values take the defaults below.
type Config struct {
	Enabled         bool
	Target          transport.ChatTarget
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	c.Workers = orDefault(c.Workers, 1)
	c.QueueSize = orDefault(c.QueueSize, 64)
	c.RatePerSec = orDefault(c.RatePerSec, 1)
	c.DedupMaxEntries = orDefault(c.DedupMaxEntries, 1000)
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) prefix() string {
	switch s {
	case Critical:
		return "🚨 "
	case Warning:
		return "⚠️ "
	}
	return "ℹ️ "
}

// Alert is one operator message. Alerts sharing Severity and Key are
// deduplicated; without a Key the text is used.
type Alert struct {
	Severity Severity
	Key      string
	Text     string
}

func (a Alert) dedupKey() string {
	k := a.Key
	if k == "" {
		k = a.Text
	}
	return strconv.Itoa(int(a.Severity)) + "|" + k
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}
