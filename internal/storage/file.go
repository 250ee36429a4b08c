package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reminderd/internal/reminder"
	logx "reminderd/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore keeps records in memory and makes them durable with a journal.
//
// Files:
//   - <prefix>.audit.jsonl             (append-only JSON Lines)
//   - <prefix>.records.snapshot.json   (periodic snapshot)
//   - <prefix>.records.journal.jsonl   (append-only journal)
//
// Every mutation appends the full record (or a tombstone) to the journal.
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log        logx.Logger
	now        func() time.Time
	keys       reminder.KeyLocks
	maxRetries int

	mu sync.Mutex

	auditFile   *os.File
	auditPath   string
	snapPath    string
	journalFile *os.File
	records     map[reminder.Key]*reminder.Record
	writes      int
}

type journalEntry struct {
	Key     string           `json:"key"`
	Deleted bool             `json:"deleted,omitempty"`
	Record  *reminder.Record `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		now:        cfg.Now,
		maxRetries: cfg.MaxRetries,
		auditPath:  prefix + ".audit.jsonl",
		snapPath:   prefix + ".records.snapshot.json",
		records:    map[reminder.Key]*reminder.Record{},
	}
	journalPath := prefix + ".records.journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("record snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("record journal replay stopped early", logx.Err(err))
	}

	af, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.auditFile = af
	s.journalFile = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("records", len(s.records)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		errs = append(errs, s.compactLocked(), s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxRetries = n
	s.mu.Unlock()
}

func (s *fileStore) Lock(key reminder.Key) func() { return s.keys.Lock(key) }

func (s *fileStore) TryClaim(_ context.Context, key reminder.Key) (reminder.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reminder.ClaimOf(s.records[key]), nil
}

func (s *fileStore) RecordSuccess(_ context.Context, key reminder.Key, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(key)
	rec.ApplySuccess(email, s.now())
	return s.appendLocked(journalEntry{Key: key.Encode(), Record: rec})
}

func (s *fileStore) RecordFailure(_ context.Context, key reminder.Key, email, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(key)
	if !rec.ApplyFailure(email, errMsg, s.now()) {
		return nil
	}
	return s.appendLocked(journalEntry{Key: key.Encode(), Record: rec})
}

func (s *fileStore) recordLocked(key reminder.Key) *reminder.Record {
	rec := s.records[key]
	if rec == nil {
		rec = reminder.NewRecord(key, s.now())
		s.records[key] = rec
	}
	return rec
}

func (s *fileStore) ShouldRetry(_ context.Context, key reminder.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[key]
	if rec == nil {
		return true, nil
	}
	return !rec.Sent && rec.RetryCount < s.maxRetries, nil
}

func (s *fileStore) Get(_ context.Context, key reminder.Key) (reminder.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[key]
	if rec == nil {
		return reminder.Record{}, false, nil
	}
	return *rec, true, nil
}

func (s *fileStore) Stats(context.Context) (reminder.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := reminder.Stats{ByType: map[reminder.NotificationType]int{}}
	for _, rec := range s.records {
		st.Add(rec, s.maxRetries)
	}
	return st, nil
}

func (s *fileStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if !rec.Sent || !rec.SentAt.Before(cutoff) {
			continue
		}
		delete(s.records, k)
		n++
		if err := s.appendLocked(journalEntry{Key: k.Encode(), Deleted: true}); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *fileStore) AppendAudit(_ context.Context, e reminder.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) RecentAudit(limit int) ([]reminder.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []reminder.AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e reminder.AuditEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			all = append(all, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return newestFirst(all, limit), nil
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if s.journalFile == nil {
		return errors.New("record journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("record compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes every live record to the snapshot and truncates the
// journal. The snapshot is replaced atomically.
func (s *fileStore) compactLocked() error {
	snap := make(map[string]*reminder.Record, len(s.records))
	for k, rec := range s.records {
		snap[k.Encode()] = rec
	}

	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]*reminder.Record
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for enc, rec := range m {
		s.put(enc, rec, false)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// A torn final line after a crash.
			continue
		}
		s.put(e.Key, e.Record, e.Deleted)
	}
	return sc.Err()
}

func (s *fileStore) put(encoded string, rec *reminder.Record, deleted bool) {
	key, err := reminder.DecodeKey(encoded)
	if err != nil {
		s.log.Debug("skipping undecodable record key", logx.String("key", encoded), logx.Err(err))
		return
	}
	if deleted || rec == nil {
		delete(s.records, key)
		return
	}
	rec.Key = key
	s.records[key] = rec
}
