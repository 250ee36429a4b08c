package storage

import (
	"time"

	"reminderd/internal/reminder"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxRetries  int           // 0 means reminder.DefaultMaxRetries
	Now         func() time.Time
}

// Store is a Ledger that also keeps the audit log.
type Store interface {
	reminder.Ledger
	reminder.Auditor

	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(limit int) ([]reminder.AuditEntry, error)
	SetMaxRetries(n int)
	Close() error
}
