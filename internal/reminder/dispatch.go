package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"reminderd/internal/eventbus"
	logx "reminderd/pkg/logx"
)

const (
	DefaultCallTimeout = 30 * time.Second
	DefaultConcurrency = 4
)

// Settings are the reloadable knobs of a Driver.
type Settings struct {
	Windows     Windows
	CallTimeout time.Duration
	Concurrency int
}

func DefaultSettings() Settings {
	return Settings{Windows: DefaultWindows(), CallTimeout: DefaultCallTimeout, Concurrency: DefaultConcurrency}
}

type Options struct {
	Sessions      SessionSource
	Registrations RegistrationSource
	Emails        EmailResolver
	Ledger        Ledger
	Deliverer     Deliverer
	Settings      Settings

	Log      logx.Logger
	Bus      eventbus.Bus
	Observer Observer
	Auditor  Auditor
	Now      func() time.Time
}

// Driver runs ticks and manual triggers against a shared Ledger.
type Driver struct {
	sessions      SessionSource
	registrations RegistrationSource
	emails        EmailResolver
	ledger        Ledger
	deliverer     Deliverer

	log     logx.Logger
	bus     eventbus.Bus
	obs     Observer
	auditor Auditor
	now     func() time.Time

	mu       sync.RWMutex
	settings Settings
	lastTick *TickReport
}

func NewDriver(o Options) (*Driver, error) {
	switch {
	case o.Sessions == nil:
		return nil, errors.New("reminder: session source is required")
	case o.Registrations == nil:
		return nil, errors.New("reminder: registration source is required")
	case o.Emails == nil:
		return nil, errors.New("reminder: email resolver is required")
	case o.Ledger == nil:
		return nil, errors.New("reminder: ledger is required")
	case o.Deliverer == nil:
		return nil, errors.New("reminder: deliverer is required")
	}
	d := &Driver{
		sessions:      o.Sessions,
		registrations: o.Registrations,
		emails:        o.Emails,
		ledger:        o.Ledger,
		deliverer:     o.Deliverer,
		log:           o.Log.With(logx.String("comp", "dispatch")),
		bus:           o.Bus,
		obs:           o.Observer,
		auditor:       o.Auditor,
		now:           o.Now,
	}
	if d.bus == nil {
		d.bus = eventbus.Nop()
	}
	if d.obs == nil {
		d.obs = nopObserver{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if err := d.Apply(o.Settings); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply swaps the settings used by the next tick. Windows are taken as
// given, so an all-zero band stays zero; start from DefaultSettings for the
// usual bands. Non-positive timeouts and concurrency fall back to defaults.
// A running tick keeps the settings it started with.
func (d *Driver) Apply(s Settings) error {
	if err := s.Windows.Validate(); err != nil {
		return err
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	return nil
}

func (d *Driver) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

func (d *Driver) Ledger() Ledger { return d.ledger }

// LastTick returns the report of the most recent completed tick.
func (d *Driver) LastTick() (TickReport, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastTick == nil {
		return TickReport{}, false
	}
	return *d.lastTick, true
}

type SessionReport struct {
	SessionID string           `json:"session_id"`
	Type      NotificationType `json:"type"`
	Minutes   int              `json:"minutes"`
	Sent      int              `json:"sent"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Panicked  bool             `json:"panicked,omitempty"`
}

type TickReport struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	Sessions []SessionReport `json:"sessions"`
	Sent     int             `json:"sent"`
	Failed   int             `json:"failed"`
	Skipped  int             `json:"skipped"`
	Panicked bool            `json:"panicked,omitempty"`
}

// Attempts is the number of delivery calls made.
func (r TickReport) Attempts() int { return r.Sent + r.Failed }

type job struct {
	session Session
	typ     NotificationType
	minutes int
}

// Tick runs one scheduling pass. It never returns an error: upstream
// failures count as empty data, delivery failures are recorded per key and
// a panic ends the tick with whatever state was already written.
//
// Cancellation of ctx is not propagated into the pass.
func (d *Driver) Tick(ctx context.Context) (rep TickReport) {
	ctx = context.WithoutCancel(ctx)
	st := d.Settings()
	rep = TickReport{ID: uuid.NewString(), Started: d.now()}
	log := d.log.With(logx.String("tick_id", rep.ID))
	began := time.Now()

	defer func() {
		if p := recover(); p != nil {
			rep.Panicked = true
			log.Error("tick panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeTickPanicked, Data: map[string]any{"tick_id": rep.ID, "panic": fmt.Sprint(p)}})
		}
		rep.Duration = time.Since(began)
		d.obs.Tick(rep)
		d.mu.Lock()
		last := rep
		d.lastTick = &last
		d.mu.Unlock()
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeTickCompleted, Data: rep})
		lvl := log.Info
		if rep.Attempts() == 0 && !rep.Panicked {
			lvl = log.Debug
		}
		lvl("tick finished",
			logx.Int("sessions", len(rep.Sessions)),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Duration),
		)
	}()

	jobs := d.dueJobs(ctx, log, st, rep.Started)
	rep.Sessions = d.runJobs(ctx, log, st, rep.ID, jobs)
	for _, s := range rep.Sessions {
		rep.Sent += s.Sent
		rep.Failed += s.Failed
		rep.Skipped += s.Skipped
	}
	return rep
}

// dueJobs fetches both candidate lists and keeps the sessions whose bucket
// matches the list they came from.
func (d *Driver) dueJobs(ctx context.Context, log logx.Logger, st Settings, now time.Time) []job {
	var jobs []job
	for _, typ := range NotificationTypes {
		sessions := d.fetchCandidates(ctx, log, st, typ)
		seen := make(map[string]struct{}, len(sessions))
		for _, s := range sessions {
			if _, dup := seen[s.ID]; dup || s.ID == "" {
				continue
			}
			c := st.Windows.Classify(s, now)
			if c.Bucket != typ.Bucket() {
				continue
			}
			seen[s.ID] = struct{}{}
			jobs = append(jobs, job{session: s, typ: typ, minutes: c.Minutes})
		}
	}
	return jobs
}

func (d *Driver) fetchCandidates(ctx context.Context, log logx.Logger, st Settings, typ NotificationType) []Session {
	call := "sessions.due_before"
	fetch := d.sessions.FetchDueBeforeSessions
	if typ == AfterEndFeedback {
		call = "sessions.due_after"
		fetch = d.sessions.FetchDueAfterSessions
	}
	sessions, err := bounded(ctx, st.CallTimeout, fetch)
	d.obs.Upstream(call, err)
	if err != nil {
		log.Error("session fetch failed; treating as empty",
			logx.String("call", call),
			logx.Err(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)),
		)
		return nil
	}
	return sessions
}

// runJobs dispatches sessions with at most st.Concurrency in flight.
// Reports keep the order of jobs.
func (d *Driver) runJobs(ctx context.Context, log logx.Logger, st Settings, tickID string, jobs []job) []SessionReport {
	out := make([]SessionReport, len(jobs))
	sem := make(chan struct{}, max(1, st.Concurrency))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = d.dispatchSession(ctx, log, st, tickID, j)
		}()
	}
	wg.Wait()
	return out
}

// dispatchSession delivers j to every resolved recipient. Nothing escapes
// it: a panic ends this session only.
func (d *Driver) dispatchSession(ctx context.Context, log logx.Logger, st Settings, tickID string, j job) (rep SessionReport) {
	rep = SessionReport{SessionID: j.session.ID, Type: j.typ, Minutes: j.minutes}
	log = log.With(logx.String("session_id", j.session.ID), logx.String("type", j.typ.String()))
	defer func() {
		if p := recover(); p != nil {
			rep.Panicked = true
			log.Error("session dispatch panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()

	registered, err := bounded(ctx, st.CallTimeout, func(ctx context.Context) ([]string, error) {
		return d.registrations.FetchRegisteredRecipientIDs(ctx, j.session.ID)
	})
	d.obs.Upstream("registrations", err)
	if err != nil {
		log.Error("registration fetch failed; treating as empty", logx.Err(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)))
		registered = nil
	}

	resolver := Resolver{Emails: d.emails, Timeout: st.CallTimeout, Log: log}
	for _, r := range resolver.Resolve(ctx, j.session, j.typ, registered) {
		switch d.deliverOne(ctx, log, st, tickID, j.session, j.typ, r) {
		case OutcomeSent:
			rep.Sent++
		case OutcomeFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}
	return rep
}

// deliverOne holds the key lock across claim, delivery and record, so a
// concurrent tick or trigger for the same key waits and then sees the result.
func (d *Driver) deliverOne(ctx context.Context, log logx.Logger, st Settings, tickID string, s Session, typ NotificationType, r Recipient) Outcome {
	key := Key{SessionID: s.ID, RecipientID: r.ID, Type: typ}
	log = log.With(logx.String("recipient_id", r.ID), logx.String("role", string(r.Role)))
	ev := eventbus.Delivery{TickID: tickID, SessionID: s.ID, RecipientID: r.ID, Type: typ.String(), Role: string(r.Role)}

	unlock := d.ledger.Lock(key)
	defer unlock()

	claim, err := d.ledger.TryClaim(ctx, key)
	if err != nil {
		log.Error("ledger claim failed", logx.Err(err))
		d.obs.Delivery(typ, r.Role, OutcomeFailed, 0)
		return OutcomeFailed
	}
	switch claim.State {
	case AlreadySent:
		return d.skip(log, ev, typ, r.Role, OutcomeDuplicate)
	case AlreadyFailed:
		retry, err := d.ledger.ShouldRetry(ctx, key)
		if err != nil {
			log.Error("ledger retry check failed", logx.Err(err))
			d.obs.Delivery(typ, r.Role, OutcomeFailed, 0)
			return OutcomeFailed
		}
		if !retry {
			ev.RetryCount = claim.RetryCount
			return d.skip(log, ev, typ, r.Role, OutcomeExhausted)
		}
	}

	began := time.Now()
	_, err = bounded(ctx, st.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.deliverer.Deliver(ctx, r, s, typ)
	})
	took := time.Since(began)

	if err == nil {
		if rerr := d.ledger.RecordSuccess(ctx, key, r.Email); rerr != nil {
			// The mail left; only the bookkeeping failed.
			log.Error("ledger record success failed", logx.Err(rerr))
		}
		d.obs.Delivery(typ, r.Role, OutcomeSent, took)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderSent, Data: ev})
		log.Info("reminder sent", logx.Duration("took", took))
		return OutcomeSent
	}

	derr := &DeliveryError{Key: key, Err: err}
	if rerr := d.ledger.RecordFailure(ctx, key, r.Email, err.Error()); rerr != nil {
		log.Error("ledger record failure failed", logx.Err(rerr))
	}
	d.obs.Delivery(typ, r.Role, OutcomeFailed, took)
	ev.Err = err.Error()
	ev.RetryCount = claim.RetryCount + 1
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFailed, Data: ev})
	log.Warn("reminder delivery failed", logx.Err(derr), logx.Int("attempt", ev.RetryCount))

	if retry, err := d.ledger.ShouldRetry(ctx, key); err == nil && !retry {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeRetriesExhausted, Data: ev})
		log.Error("reminder retries exhausted", logx.Int("attempts", ev.RetryCount), logx.Err(derr))
	}
	return OutcomeFailed
}

func (d *Driver) skip(log logx.Logger, ev eventbus.Delivery, typ NotificationType, role Role, o Outcome) Outcome {
	ev.Reason = string(o)
	d.obs.Delivery(typ, role, o, 0)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderSkipped, Data: ev})
	log.Debug("reminder skipped", logx.String("reason", string(o)))
	return o
}
