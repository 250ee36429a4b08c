package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"reminderd/internal/reminder"
)

// envelope is the gateway response wrapper. Some services omit success and
// return the list under items instead of data.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Items   json.RawMessage `json:"items"`
	Errors  json.RawMessage `json:"errors"`
}

func decodeEnvelope[T any](raw []byte) (T, error) {
	var zero T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return zero, nil
	}
	if trimmed[0] == '[' {
		var v T
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return zero, fmt.Errorf("decode list: %w", err)
		}
		return v, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return zero, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = "unsuccessful response"
		}
		if len(env.Errors) > 0 && string(env.Errors) != "null" {
			msg += " " + string(env.Errors)
		}
		return zero, errors.New(msg)
	}

	payload := env.Data
	if isNull(payload) {
		payload = env.Items
	}
	if isNull(payload) {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return zero, fmt.Errorf("decode data: %w", err)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}

// sessionDTO accepts the field aliases different gateway versions emit.
type sessionDTO struct {
	ID              flexString  `json:"id"`
	SessionID       flexString  `json:"sessionID"`
	CreatorID       string      `json:"creatorId"`
	CreatorUsername string      `json:"creatorUsername"`
	Title           string      `json:"title"`
	Start           string      `json:"start"`
	StartDateTime   string      `json:"startDateTime"`
	Duration        flexMinutes `json:"duration"`
	Tags            []string    `json:"tags"`
	MeetingLink     string      `json:"meetingLink"`
	ResourcesLink   string      `json:"resourcesLink"`
}

func (d sessionDTO) session(loc *time.Location) (reminder.Session, error) {
	id := firstNonEmpty(string(d.ID), string(d.SessionID))
	if id == "" {
		return reminder.Session{}, errors.New("session without id")
	}
	rawStart := firstNonEmpty(d.Start, d.StartDateTime)
	if rawStart == "" {
		return reminder.Session{}, fmt.Errorf("session %s: missing start", id)
	}
	start, err := ParseDateTime(rawStart, loc)
	if err != nil {
		return reminder.Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	return reminder.Session{
		ID:              id,
		CreatorID:       firstNonEmpty(d.CreatorID, d.CreatorUsername),
		Title:           d.Title,
		Start:           start,
		DurationMinutes: d.Duration.minutes(),
		Tags:            d.Tags,
		MeetingLink:     d.MeetingLink,
		ResourcesLink:   d.ResourcesLink,
	}, nil
}

var dateTimeLayouts = []string{
	LocalDateTime,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseDateTime parses a gateway date-time. Values carrying a zone keep it;
// zone-less values are read in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date-time %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexMinutes accepts a JSON number or a numeric string. Null, a blank
// string or an absent field leave it unset.
type flexMinutes struct {
	n   int
	set bool
}

func (f *flexMinutes) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) {
		return fmt.Errorf("duration: invalid number %q", s)
	}
	f.n = int(min(max(n, 0), reminder.MaxDurationMinutes))
	f.set = true
	return nil
}

// minutes is the reported duration, or the default length when the
// directory left it out.
func (f flexMinutes) minutes() int {
	if !f.set {
		return reminder.DefaultDurationMinutes
	}
	return f.n
}
