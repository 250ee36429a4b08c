package storage

import (
	"fmt"
	"strings"
	"time"

	"reminderd/internal/reminder"
	logx "reminderd/pkg/logx"
)

// Open initializes the configured store. An empty driver selects memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = reminder.DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log = log.With(logx.String("comp", "storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory", "none":
		return newMemoryStore(cfg), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
