package reminder

import (
	"context"
	"sort"
	"sync"
	"time"
)

const DefaultMaxRetries = 3

type ClaimState int

const (
	NotYetAttempted ClaimState = iota
	AlreadySent
	AlreadyFailed
)

func (s ClaimState) String() string {
	switch s {
	case AlreadySent:
		return "already_sent"
	case AlreadyFailed:
		return "already_failed"
	default:
		return "not_yet_attempted"
	}
}

// Claim is the read-only view TryClaim returns before a delivery attempt.
type Claim struct {
	State      ClaimState
	RetryCount int
}

// ClaimOf derives the claim for a record, or NotYetAttempted when absent.
func ClaimOf(rec *Record) Claim {
	switch {
	case rec == nil:
		return Claim{State: NotYetAttempted}
	case rec.Sent:
		return Claim{State: AlreadySent, RetryCount: rec.RetryCount}
	default:
		return Claim{State: AlreadyFailed, RetryCount: rec.RetryCount}
	}
}

type Stats struct {
	Total     int                      `json:"total"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Exhausted int                      `json:"exhausted"`
	ByType    map[NotificationType]int `json:"by_type"`
}

// Add folds one record into s.
func (s *Stats) Add(rec *Record, maxRetries int) {
	if s.ByType == nil {
		s.ByType = map[NotificationType]int{}
	}
	s.Total++
	s.ByType[rec.Key.Type]++
	if rec.Sent {
		s.Succeeded++
		return
	}
	s.Failed++
	if rec.RetryCount >= maxRetries {
		s.Exhausted++
	}
}

// Ledger owns every delivery record.
//
// Per-key operations are atomic. Callers that must check and then act
// (claim, deliver, record) hold Lock(key) across the whole sequence;
// different keys never contend.
type Ledger interface {
	Lock(key Key) (unlock func())
	TryClaim(ctx context.Context, key Key) (Claim, error)
	RecordSuccess(ctx context.Context, key Key, email string) error
	RecordFailure(ctx context.Context, key Key, email, errMsg string) error
	ShouldRetry(ctx context.Context, key Key) (bool, error)
	Get(ctx context.Context, key Key) (Record, bool, error)
	Stats(ctx context.Context) (Stats, error)
	// Sweep evicts sent records whose SentAt is before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryLedger is the default in-process Ledger. State does not survive
// a restart.
type MemoryLedger struct {
	maxRetries int
	now        func() time.Time

	keys KeyLocks

	mu      sync.RWMutex
	records map[Key]*Record
}

type MemoryOption func(*MemoryLedger)

func WithMaxRetries(n int) MemoryOption {
	return func(l *MemoryLedger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		records:    map[Key]*Record{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetMaxRetries changes the cap at runtime (config reload).
func (l *MemoryLedger) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.maxRetries = n
	l.mu.Unlock()
}

func (l *MemoryLedger) Lock(key Key) func() { return l.keys.Lock(key) }

func (l *MemoryLedger) TryClaim(_ context.Context, key Key) (Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ClaimOf(l.records[key]), nil
}

func (l *MemoryLedger) RecordSuccess(_ context.Context, key Key, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.recordLocked(key)
	rec.ApplySuccess(email, l.now())
	return nil
}

func (l *MemoryLedger) RecordFailure(_ context.Context, key Key, email, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.recordLocked(key)
	rec.ApplyFailure(email, errMsg, l.now())
	return nil
}

func (l *MemoryLedger) recordLocked(key Key) *Record {
	rec := l.records[key]
	if rec == nil {
		rec = NewRecord(key, l.now())
		l.records[key] = rec
	}
	return rec
}

func (l *MemoryLedger) ShouldRetry(_ context.Context, key Key) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec := l.records[key]
	if rec == nil {
		return true, nil
	}
	return !rec.Sent && rec.RetryCount < l.maxRetries, nil
}

func (l *MemoryLedger) Get(_ context.Context, key Key) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec := l.records[key]
	if rec == nil {
		return Record{}, false, nil
	}
	return *rec, true, nil
}

func (l *MemoryLedger) Stats(context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{ByType: map[NotificationType]int{}}
	for _, rec := range l.records {
		st.Add(rec, l.maxRetries)
	}
	return st, nil
}

func (l *MemoryLedger) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, rec := range l.records {
		if rec.Sent && rec.SentAt.Before(cutoff) {
			delete(l.records, k)
			n++
		}
	}
	return n, nil
}

// Records returns a copy of every record ordered by key, for debugging.
func (l *MemoryLedger) Records() []Record {
	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, *rec)
	}
	l.mu.RUnlock()
	SortRecords(out)
	return out
}

func SortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Key, recs[j].Key
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.RecipientID != b.RecipientID {
			return a.RecipientID < b.RecipientID
		}
		return a.Type < b.Type
	})
}
