package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reminderd/internal/reminder"
	logx "reminderd/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	now  func() time.Time
	keys reminder.KeyLocks

	mu         sync.RWMutex
	maxRetries int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, now: cfg.Now, maxRetries: cfg.MaxRetries}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxRetries = n
	s.mu.Unlock()
}

func (s *sqliteStore) retries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRetries
}

func (s *sqliteStore) Lock(key reminder.Key) func() { return s.keys.Lock(key) }

func (s *sqliteStore) TryClaim(ctx context.Context, key reminder.Key) (reminder.Claim, error) {
	rec, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return reminder.Claim{State: reminder.NotYetAttempted}, err
	}
	return reminder.ClaimOf(&rec), nil
}

func (s *sqliteStore) RecordSuccess(ctx context.Context, key reminder.Key, email string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_records(session_id, recipient_id, type, sent, sent_at, email, last_error, retry_count, created_at, updated_at)
		 VALUES(?,?,?,1,?,?,NULL,0,?,?)
		 ON CONFLICT(session_id, recipient_id, type) DO UPDATE SET
		   sent = 1,
		   sent_at = excluded.sent_at,
		   email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE email END,
		   last_error = NULL,
		   updated_at = excluded.updated_at`,
		key.SessionID, key.RecipientID, string(key.Type), now, email, now, now,
	)
	return err
}

func (s *sqliteStore) RecordFailure(ctx context.Context, key reminder.Key, email, errMsg string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_records(session_id, recipient_id, type, sent, sent_at, email, last_error, retry_count, created_at, updated_at)
		 VALUES(?,?,?,0,NULL,?,?,1,?,?)
		 ON CONFLICT(session_id, recipient_id, type) DO UPDATE SET
		   email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE email END,
		   last_error = excluded.last_error,
		   retry_count = retry_count + 1,
		   updated_at = excluded.updated_at
		 WHERE sent = 0`,
		key.SessionID, key.RecipientID, string(key.Type), email, errMsg, now, now,
	)
	return err
}

func (s *sqliteStore) ShouldRetry(ctx context.Context, key reminder.Key) (bool, error) {
	rec, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !rec.Sent && rec.RetryCount < s.retries(), nil
}

func (s *sqliteStore) Get(ctx context.Context, key reminder.Key) (reminder.Record, bool, error) {
	var (
		sent             bool
		sentAt           sql.NullInt64
		lastErr          sql.NullString
		created, updated int64
		rec              = reminder.Record{Key: key}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT sent, sent_at, email, last_error, retry_count, created_at, updated_at
		   FROM reminder_records WHERE session_id = ? AND recipient_id = ? AND type = ?`,
		key.SessionID, key.RecipientID, string(key.Type),
	).Scan(&sent, &sentAt, &rec.Email, &lastErr, &rec.RetryCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Record{}, false, nil
	}
	if err != nil {
		return reminder.Record{}, false, err
	}
	rec.Sent = sent
	if sentAt.Valid {
		rec.SentAt = time.UnixMilli(sentAt.Int64).UTC()
	}
	rec.LastError = lastErr.String
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, true, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (reminder.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, sent, COUNT(*),
		        SUM(CASE WHEN sent = 0 AND retry_count >= ? THEN 1 ELSE 0 END)
		   FROM reminder_records GROUP BY type, sent`, s.retries())
	if err != nil {
		return reminder.Stats{}, err
	}
	defer rows.Close()

	st := reminder.Stats{ByType: map[reminder.NotificationType]int{}}
	for rows.Next() {
		var (
			typ              string
			sent             bool
			count, exhausted int
		)
		if err := rows.Scan(&typ, &sent, &count, &exhausted); err != nil {
			return reminder.Stats{}, err
		}
		st.Total += count
		st.ByType[reminder.NotificationType(typ)] += count
		if sent {
			st.Succeeded += count
		} else {
			st.Failed += count
			st.Exhausted += exhausted
		}
	}
	return st, rows.Err()
}

func (s *sqliteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_records WHERE sent = 1 AND sent_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e reminder.AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, action, session_id, type, result) VALUES(?,?,?,?,?,?)`,
		e.ID, e.At.UnixMilli(), e.Action, nullStr(e.SessionID), nullStr(e.Type), e.Result,
	)
	return err
}

func (s *sqliteStore) RecentAudit(limit int) ([]reminder.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, at, action, COALESCE(session_id, ''), COALESCE(type, ''), result
		   FROM audit ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.AuditEntry
	for rows.Next() {
		var (
			e  reminder.AuditEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Action, &e.SessionID, &e.Type, &e.Result); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
