package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	logx "reminderd/pkg/logx"
)

// Manager owns the running configuration. It loads the file, re-reads it
// when it changes and hands validated versions to subscribers.
type Manager struct {
	path     string
	debounce time.Duration

	mu          sync.RWMutex
	cfg         *Config
	fingerprint string

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
	onReject  func(err error)
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), debounce: 250 * time.Millisecond}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log.With(logx.String("comp", "config")) }

// SetValidator adds a check that runs after Validate on every reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// OnReject is called with the error of each reload that is not committed.
func (m *Manager) OnReject(fn func(err error)) { m.onReject = fn }

// Parse reads and decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses, validates and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	fp := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.fingerprint = cfg, fp
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		close(ch)
		return
	}
}

// publish offers cfg to every subscriber. A subscriber whose buffer is full
// has its stale entry replaced; only the newest config matters.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			m.log.Debug("config update dropped", logx.Int("queue_len", len(ch)))
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// apply runs one reload: parse, skip if unchanged, validate, commit, publish.
func (m *Manager) apply(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.reject(err)
		return
	}

	fp := fingerprint(cfg)
	m.mu.RLock()
	same := fp == m.fingerprint
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}

	if err := Validate(cfg); err != nil {
		m.reject(err)
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.reject(err)
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("fingerprint", fp[:12]))
}

func (m *Manager) reject(err error) {
	m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
	if m.onReject != nil {
		m.onReject(err)
	}
}

// fingerprint identifies the decoded content so formatting-only edits and
// duplicate write events do not republish.
func fingerprint(cfg *Config) string {
	b, _ := json.Marshal(cfg)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
