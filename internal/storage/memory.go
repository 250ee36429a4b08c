package storage

import (
	"context"
	"sync"

	"reminderd/internal/reminder"
)

const memoryAuditCap = 512

// memoryStore keeps the most recent audit entries next to the in-memory ledger.
type memoryStore struct {
	*reminder.MemoryLedger

	mu    sync.Mutex
	audit []reminder.AuditEntry
}

func newMemoryStore(cfg Config) *memoryStore {
	return &memoryStore{
		MemoryLedger: reminder.NewMemoryLedger(reminder.WithMaxRetries(cfg.MaxRetries), reminder.WithClock(cfg.Now)),
	}
}

func (s *memoryStore) AppendAudit(_ context.Context, e reminder.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audit) == memoryAuditCap {
		copy(s.audit, s.audit[1:])
		s.audit = s.audit[:len(s.audit)-1]
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) RecentAudit(limit int) ([]reminder.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.audit, limit), nil
}

func (s *memoryStore) Close() error { return nil }

func newestFirst(in []reminder.AuditEntry, limit int) []reminder.AuditEntry {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]reminder.AuditEntry, 0, limit)
	for i := len(in) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, in[i])
	}
	return out
}
