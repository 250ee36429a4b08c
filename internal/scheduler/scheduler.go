package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"reminderd/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether raw is a schedule the service can register.
func ValidateSpec(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	_, err = parser.Parse(ps.CronSpec())
	return err
}

type jobDef struct {
	name    string
	spec    Schedule
	timeout time.Duration
	run     func(ctx context.Context) error

	wrapped cron.Job
	entryID cron.EntryID
	stats   *jobStats
}

type jobStats struct {
	running  atomic.Bool
	mu       sync.Mutex
	runs     int
	skipped  int
	failures int
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

// JobInfo is a point-in-time view of one schedule.
type JobInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Next     time.Time     `json:"next,omitzero"`
	Prev     time.Time     `json:"prev,omitzero"`
	Running  bool          `json:"running"`
	Runs     int           `json:"runs"`
	Skipped  int           `json:"skipped"`
	Failures int           `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Service owns a robfig/cron instance and a set of named jobs.
type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	loc  *time.Location
	ctx  atomic.Value // context.Context
	c    *cron.Cron
	defs map[string]*jobDef

	// stopped refuses new runs once Stop has begun waiting on wg.
	stopped bool
	wg      sync.WaitGroup
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		log:  log.With(logx.String("comp", "scheduler")),
		loc:  loc,
		defs: map[string]*jobDef{},
	}
	s.ctx.Store(context.Background())
	return s
}

// Add registers or replaces the job called name. Replacing keeps run
// statistics, so a hot reload does not reset them.
func (s *Service) Add(name, schedule string, timeout time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if run == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if _, err := parser.Parse(ps.CronSpec()); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := &jobDef{name: name, spec: ps, timeout: timeout, run: run, stats: &jobStats{}}
	if old, ok := s.defs[name]; ok {
		d.stats = old.stats
		if s.c != nil && old.entryID != 0 {
			s.c.Remove(old.entryID)
		}
	}
	d.wrapped = s.wrap(d)
	s.defs[name] = d

	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", ps.CronSpec()),
		logx.Duration("timeout", timeout),
	)
	return nil
}

func (s *Service) registerLocked(d *jobDef) error {
	id, err := s.c.AddJob(d.spec.CronSpec(), d.wrapped)
	if err != nil {
		return fmt.Errorf("register %s: %w", d.name, err)
	}
	d.entryID = id
	return nil
}

// wrap makes a cron.Job that skips when the previous run is still active,
// bounds the run with the job timeout and records the outcome.
func (s *Service) wrap(d *jobDef) cron.Job {
	st := d.stats
	return cron.FuncJob(func() {
		if !s.enter() {
			s.log.Debug("scheduler stopped, run dropped", logx.String("name", d.name))
			return
		}
		defer s.wg.Done()
		if !st.running.CompareAndSwap(false, true) {
			st.mu.Lock()
			st.skipped++
			st.mu.Unlock()
			s.log.Info("skipping run, previous still active", logx.String("name", d.name))
			return
		}
		defer st.running.Store(false)

		ctx := s.ctx.Load().(context.Context)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		started := time.Now()
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					s.log.Error("scheduled job panicked",
						logx.String("name", d.name),
						logx.Any("panic", p),
						logx.Stack(string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return d.run(ctx)
		}()
		took := time.Since(started)

		st.mu.Lock()
		st.runs++
		st.lastRun = started
		st.lastTook = took
		st.lastErr = ""
		if err != nil {
			st.failures++
			st.lastErr = err.Error()
		}
		st.mu.Unlock()

		if err != nil {
			s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
			return
		}
		s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", took))
	})
}

// enter registers a run with wg unless Stop has begun.
func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// RunNow runs the named job once in the background, honouring the
// one-run-at-a-time rule. It reports false for unknown jobs and after Stop.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	d, ok := s.defs[name]
	stopped := s.stopped
	s.mu.Unlock()
	if !ok || stopped {
		return false
	}
	go d.wrapped.Run()
	return true
}

// Start begins triggering. Jobs receive ctx (or a derived timeout context).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.stopped = false
	s.ctx.Store(ctx)
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// SetLocation restarts triggering in a new time zone.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc.String() == loc.String() {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	// Running jobs finish on their own; the running flag keeps the new
	// cron from overlapping them.
	s.c.Stop()
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Stop stops triggering, refuses further runs and waits for running jobs
// until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec.CronSpec(), Running: d.stats.running.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		d.stats.mu.Lock()
		info.Runs = d.stats.runs
		info.Skipped = d.stats.skipped
		info.Failures = d.stats.failures
		info.LastRun = d.stats.lastRun
		info.LastTook = d.stats.lastTook
		info.LastErr = d.stats.lastErr
		d.stats.mu.Unlock()
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
