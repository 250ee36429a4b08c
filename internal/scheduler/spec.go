package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a job trigger: a cron expression or a fixed interval.
//
// Accepted input:
//   - cron with or without a seconds field, or a descriptor: "*/5 * * * *", "@hourly"
//   - a Go duration: "2m", "1h30m"
//   - hours and minutes: "00:05"
//
// The prefixes "cron:" and "every:" (or "interval:") force one reading.
type Schedule struct {
	Cron  string
	Every time.Duration
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

// CronSpec is the form robfig/cron registers.
func (s Schedule) CronSpec() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var errEmptySchedule = errors.New("schedule is empty")

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errEmptySchedule
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return Schedule{}, errEmptySchedule
			}
			return Schedule{Cron: rest}, nil
		case "every", "interval":
			d, err := parseInterval(rest)
			return Schedule{Every: d}, err
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Schedule{Cron: s}, nil
	}
	d, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want cron like \"*/5 * * * *\", HH:MM or a duration like \"5m\"", raw)
	}
	return Schedule{Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	var (
		d   time.Duration
		err error
	)
	if h, m, ok := strings.Cut(v, ":"); ok {
		d, err = clockDuration(h, m)
	} else {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid interval %q: must be positive", v)
	}
	return d, nil
}

func clockDuration(h, m string) (time.Duration, error) {
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || len(h) > 3 {
		return 0, fmt.Errorf("bad hours %q", h)
	}
	mins, err := strconv.Atoi(m)
	if err != nil || len(m) != 2 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("bad minutes %q", m)
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
}
