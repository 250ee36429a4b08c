package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotificationType is the closed set of reminders the engine sends.
type NotificationType string

const (
	BeforeStart      NotificationType = "BEFORE_START"
	AfterEndFeedback NotificationType = "AFTER_END_FEEDBACK"
)

// NotificationTypes lists every type in dispatch order.
var NotificationTypes = []NotificationType{BeforeStart, AfterEndFeedback}

func (t NotificationType) Valid() bool { return t == BeforeStart || t == AfterEndFeedback }

func (t NotificationType) String() string { return string(t) }

// Bucket is the classification a session needs for this type to be due.
func (t NotificationType) Bucket() Bucket {
	switch t {
	case BeforeStart:
		return DueBefore
	case AfterEndFeedback:
		return DueAfter
	default:
		return NotDue
	}
}

// ParseNotificationType accepts the canonical names and the legacy
// BEFORE_30_MIN / AFTER_30_MIN_FEEDBACK names, case-insensitively.
func ParseNotificationType(s string) (NotificationType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BEFORE_START", "BEFORE_30_MIN":
		return BeforeStart, nil
	case "AFTER_END_FEEDBACK", "AFTER_30_MIN_FEEDBACK":
		return AfterEndFeedback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNotificationType, s)
	}
}

type Role string

const (
	Conductor Role = "CONDUCTOR"
	Attendee  Role = "ATTENDEE"
)

// Session is read-only to the engine.
type Session struct {
	ID              string
	CreatorID       string
	Title           string
	Start           time.Time
	DurationMinutes int

	Tags          []string
	MeetingLink   string
	ResourcesLink string
}

const (
	// DefaultDurationMinutes is the length assumed when the directory does
	// not report one.
	DefaultDurationMinutes = 60
	// MaxDurationMinutes bounds upstream durations to one week.
	MaxDurationMinutes = 7 * 24 * 60
)

// Minutes is DurationMinutes clamped to [0, MaxDurationMinutes].
func (s Session) Minutes() int {
	return min(max(0, s.DurationMinutes), MaxDurationMinutes)
}

// End is Start plus the clamped duration, so it never precedes Start.
func (s Session) End() time.Time {
	return s.Start.Add(time.Duration(s.Minutes()) * time.Minute)
}

type Recipient struct {
	ID    string
	Role  Role
	Email string
}

// Key identifies one notification obligation. It is comparable and used
// directly as a map key.
type Key struct {
	SessionID   string
	RecipientID string
	Type        NotificationType
}

func (k Key) String() string {
	return k.SessionID + "/" + k.RecipientID + "/" + string(k.Type)
}

// Encode renders k as a single string that decodes unambiguously even when
// identifiers contain separators: each part is prefixed with its length.
func (k Key) Encode() string {
	var b strings.Builder
	for _, part := range []string{k.SessionID, k.RecipientID, string(k.Type)} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

func DecodeKey(s string) (Key, error) {
	parts := make([]string, 0, 3)
	rest := s
	for range 3 {
		i := strings.IndexByte(rest, ':')
		if i <= 0 {
			return Key{}, fmt.Errorf("decode key %q: missing length prefix", s)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil || n < 0 || i+1+n > len(rest) {
			return Key{}, fmt.Errorf("decode key %q: bad length", s)
		}
		parts = append(parts, rest[i+1:i+1+n])
		rest = rest[i+1+n:]
	}
	if rest != "" {
		return Key{}, fmt.Errorf("decode key %q: trailing data", s)
	}
	t := NotificationType(parts[2])
	if !t.Valid() {
		return Key{}, fmt.Errorf("decode key %q: %w", s, ErrUnknownNotificationType)
	}
	return Key{SessionID: parts[0], RecipientID: parts[1], Type: t}, nil
}

// Record is the delivery state of one Key. Once Sent it only changes by
// eviction (or a SentAt refresh on a repeated success).
type Record struct {
	Key        Key       `json:"-"`
	Sent       bool      `json:"sent"`
	SentAt     time.Time `json:"sent_at,omitzero"`
	Email      string    `json:"email"`
	LastError  string    `json:"last_error,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ApplySuccess mutates r for a successful delivery at now.
func (r *Record) ApplySuccess(email string, now time.Time) {
	r.Sent = true
	r.SentAt = now
	r.LastError = ""
	if email != "" {
		r.Email = email
	}
	r.UpdatedAt = now
}

// ApplyFailure mutates r for a failed delivery. It reports false and leaves
// r untouched when r is already sent.
func (r *Record) ApplyFailure(email, errMsg string, now time.Time) bool {
	if r.Sent {
		return false
	}
	r.LastError = errMsg
	r.RetryCount++
	if email != "" {
		r.Email = email
	}
	r.UpdatedAt = now
	return true
}

// NewRecord starts the record for k.
func NewRecord(k Key, now time.Time) *Record {
	return &Record{Key: k, CreatedAt: now, UpdatedAt: now}
}
