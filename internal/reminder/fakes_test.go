package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct{ ns atomic.Int64 }

func newClock(t time.Time) *clock {
	c := &clock{}
	c.ns.Store(t.UnixNano())
	return c
}

func (c *clock) Now() time.Time          { return time.Unix(0, c.ns.Load()).UTC() }
func (c *clock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

type fakeSessions struct {
	mu        sync.Mutex
	before    []Session
	after     []Session
	beforeErr error
	afterErr  error
}

func (f *fakeSessions) FetchDueBeforeSessions(context.Context) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Session(nil), f.before...), f.beforeErr
}

func (f *fakeSessions) FetchDueAfterSessions(context.Context) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Session(nil), f.after...), f.afterErr
}

type fakeRegistrations struct {
	bySession map[string][]string
	err       error
}

func (f fakeRegistrations) FetchRegisteredRecipientIDs(_ context.Context, id string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySession[id], nil
}

// fakeEmails maps identity to "<identity>@example.com" unless overridden.
type fakeEmails struct {
	override map[string]string
	missing  map[string]bool
}

func (f fakeEmails) ResolveEmail(_ context.Context, id string) (string, bool, error) {
	if f.missing[id] {
		return "", false, nil
	}
	if e, ok := f.override[id]; ok {
		return e, true, nil
	}
	return id + "@example.com", true, nil
}

type delivery struct {
	Recipient Recipient
	SessionID string
	Type      NotificationType
}

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []delivery
	fail  map[string]error // by recipient id
	panic map[string]bool
	delay time.Duration
	block chan struct{} // when set, Deliver ignores ctx and waits for close
}

func (d *recordingDeliverer) Deliver(ctx context.Context, r Recipient, s Session, typ NotificationType) error {
	d.mu.Lock()
	d.calls = append(d.calls, delivery{Recipient: r, SessionID: s.ID, Type: typ})
	err := d.fail[r.ID]
	pan := d.panic[r.ID]
	d.mu.Unlock()

	if d.block != nil {
		<-d.block
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if pan {
		panic("smtp exploded")
	}
	return err
}

func (d *recordingDeliverer) Calls() []delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivery(nil), d.calls...)
}

func (d *recordingDeliverer) SetFail(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail == nil {
		d.fail = map[string]error{}
	}
	if err == nil {
		delete(d.fail, id)
		return
	}
	d.fail[id] = err
}

type memAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *memAuditor) AppendAudit(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

var errSMTP = errors.New("554 rejected")

type harness struct {
	clock     *clock
	sessions  *fakeSessions
	regs      fakeRegistrations
	emails    fakeEmails
	ledger    *MemoryLedger
	deliverer *recordingDeliverer
	auditor   *memAuditor
	driver    *Driver
}

func newHarness(build func(h *harness)) *harness {
	h := &harness{
		clock:     newClock(t0),
		sessions:  &fakeSessions{},
		regs:      fakeRegistrations{bySession: map[string][]string{}},
		deliverer: &recordingDeliverer{},
		auditor:   &memAuditor{},
	}
	if build != nil {
		build(h)
	}
	h.ledger = NewMemoryLedger(WithClock(h.clock.Now))
	d, err := NewDriver(Options{
		Sessions:      h.sessions,
		Registrations: h.regs,
		Emails:        h.emails,
		Ledger:        h.ledger,
		Deliverer:     h.deliverer,
		Auditor:       h.auditor,
		Settings:      Settings{Windows: DefaultWindows(), CallTimeout: time.Second, Concurrency: 4},
		Now:           h.clock.Now,
	})
	if err != nil {
		panic(err)
	}
	h.driver = d
	return h
}
