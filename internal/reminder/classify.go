package reminder

import (
	"fmt"
	"time"
)

type Bucket int

const (
	NotDue Bucket = iota
	DueBefore
	DueAfter
)

func (b Bucket) String() string {
	switch b {
	case DueBefore:
		return "DUE_BEFORE"
	case DueAfter:
		return "DUE_AFTER"
	default:
		return "NOT_DUE"
	}
}

// Band is an inclusive range of whole minutes.
type Band struct {
	Lower int
	Upper int
}

func (b Band) Contains(minutes int) bool { return minutes >= b.Lower && minutes <= b.Upper }

func (b Band) Validate() error {
	if b.Lower < 0 || b.Upper < 0 {
		return fmt.Errorf("band [%d,%d]: bounds must be >= 0", b.Lower, b.Upper)
	}
	if b.Lower > b.Upper {
		return fmt.Errorf("band [%d,%d]: lower > upper", b.Lower, b.Upper)
	}
	return nil
}

// Windows holds the due bands relative to session start and end.
type Windows struct {
	PreStart Band
	PostEnd  Band
}

func DefaultWindows() Windows {
	return Windows{PreStart: Band{Lower: 10, Upper: 30}, PostEnd: Band{Lower: 0, Upper: 10}}
}

func (w Windows) Validate() error {
	if err := w.PreStart.Validate(); err != nil {
		return fmt.Errorf("pre-start: %w", err)
	}
	if err := w.PostEnd.Validate(); err != nil {
		return fmt.Errorf("post-end: %w", err)
	}
	return nil
}

// Classification is the result of Classify. Minutes is minutes until start
// for DueBefore and minutes since end for DueAfter.
type Classification struct {
	Bucket  Bucket
	Minutes int
}

// Classify places s relative to now. Minutes are whole minutes rounded
// down, so a session starting in 30m59s is 30 minutes away. The pre-start
// band wins when both match.
func (w Windows) Classify(s Session, now time.Time) Classification {
	if until := s.Start.Sub(now); until >= 0 {
		if m := int(until / time.Minute); w.PreStart.Contains(m) {
			return Classification{Bucket: DueBefore, Minutes: m}
		}
	}
	if since := now.Sub(s.End()); since >= 0 {
		if m := int(since / time.Minute); w.PostEnd.Contains(m) {
			return Classification{Bucket: DueAfter, Minutes: m}
		}
	}
	return Classification{Bucket: NotDue}
}
