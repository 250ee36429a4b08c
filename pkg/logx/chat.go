package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reminderd/internal/transport"
)

const (
	chatQueueSize = 256
	chatMaxLen    = 3500
	chatMaxValue  = 600
	chatTimeout   = 10 * time.Second
)

// chatSink is a zerolog.LevelWriter that queues rendered lines for the
// operator chat. Writes never block; lines over the rate limit or beyond
// the queue are dropped.
type chatSink struct {
	sender transport.Sender
	queue  chan chatLine

	mu       sync.Mutex
	enabled  bool
	target   transport.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type chatLine struct {
	to   transport.ChatTarget
	text string
}

func newChatSink(sender transport.Sender) *chatSink {
	return &chatSink{
		sender: sender,
		queue:  make(chan chatLine, chatQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.enabled = cfg.Enabled
	c.target = cfg.Target
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled {
		c.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.cancel = cancel
			c.mu.Unlock()
			go c.run(ctx)
		})
	}
}

// close stops the worker, or prevents it from ever starting.
func (c *chatSink) close() {
	c.start.Do(func() { close(c.done) })
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.done
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatTimeout)
			_ = c.sender.SendText(sctx, line.to, line.text, &transport.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	ok := c.enabled && !c.target.IsZero() && level >= c.minLevel && c.limiter.Allow()
	to := c.target
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := renderChatLine(p); text != "" {
		select {
		case c.queue <- chatLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// renderChatLine turns a JSON log line into "[LEVEL] message" followed by
// one "- key=value" line per remaining field, keys sorted.
func renderChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
