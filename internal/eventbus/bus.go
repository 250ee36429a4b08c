package eventbus

import (
	"slices"
	"sync"
	"time"
)

// Event types published by the dispatch driver and the sweeper.
const (
	TypeReminderSent      = "reminder.sent"
	TypeReminderFailed    = "reminder.failed"
	TypeReminderSkipped   = "reminder.skipped"
	TypeRetriesExhausted  = "reminder.retry_exhausted"
	TypeTickPanicked      = "tick.panicked"
	TypeTickCompleted     = "tick.completed"
	TypeRecordsSwept      = "ledger.swept"
	TypeManualTriggered   = "reminder.manual_trigger"
	TypeConfigReloaded    = "config.reloaded"
	TypeConfigReloadError = "config.reload_failed"
)

// Event is an in-process notification. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the Data payload of reminder.* events.
type Delivery struct {
	TickID      string `json:"tick_id,omitempty"`
	SessionID   string `json:"session_id"`
	RecipientID string `json:"recipient_id"`
	Type        string `json:"type"`
	Role        string `json:"role,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Err         string `json:"err,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus { return &memBus{} }

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

const defaultBuffer = 8

// memBus sends under the read lock and closes under the write lock, so a
// channel is never written after unsubscribe closes it.
type memBus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

type subscriber struct {
	ch chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub.ch, func() { b.remove(sub) }
}

func (b *memBus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = slices.Delete(b.subs, i, i+1)
			close(sub.ch)
			return
		}
	}
}
