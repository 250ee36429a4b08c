package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reminderd/internal/eventbus"
	"reminderd/internal/runtime/supervisor"
	"reminderd/internal/transport"
	"reminderd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("alerts disabled")
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alert service stopped")
)

const historySize = 100

// Service is the asynchronous alert pipeline. Safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender transport.Sender
	bus    eventbus.Bus
	dedup  *dedupCache

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *pipeline // nil while stopped

	hmu     sync.Mutex
	history []HistoryItem
}

// pipeline is one Start..Stop generation. queue is only written and
// closed while holding Service.mu.
type pipeline struct {
	queue     chan Alert
	sup       *supervisor.Supervisor
	ready     chan struct{}
	stopWatch context.CancelFunc
}

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = transport.Nop{}
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "alert")),
		bus:    bus,
		dedup:  newDedupCache(time.Now),
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate, retry and dedup settings in place. Workers and queue
// size apply from the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the workers and, with a bus, the event watcher. It does
// nothing when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	p := &pipeline{
		queue: make(chan Alert, s.cfg.QueueSize),
		sup:   supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false)),
		ready: make(chan struct{}),
	}
	s.run = p

	for i := range s.cfg.Workers {
		p.sup.Go(fmt.Sprintf("alert.worker.%d", i), func(ctx context.Context) error {
			s.work(ctx, p.queue)
			return nil
		})
	}
	if s.bus == nil {
		close(p.ready)
		return
	}
	events, unsubscribe := s.bus.Subscribe(64)
	watchCtx, stopWatch := context.WithCancel(p.sup.Context())
	p.stopWatch = stopWatch
	close(p.ready)
	p.sup.Go("alert.watch", func(context.Context) error {
		defer unsubscribe()
		s.watch(watchCtx, events)
		return nil
	})
}

// Ready is closed once the running pipeline listens on the bus.
func (s *Service) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.run.ready
}

// Stop closes intake and lets the workers drain the queue until ctx is
// done, then abandons what is left.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.run
	s.run = nil
	if p != nil {
		close(p.queue)
	}
	s.mu.Unlock()
	if p == nil {
		return
	}
	if p.stopWatch != nil {
		p.stopWatch()
	}

	if err := p.sup.Wait(ctx); err != nil {
		p.sup.Cancel()
		s.log.Warn("alert queue abandoned", logx.Int("pending", len(p.queue)), logx.Err(err))
	}
}

// Notify queues a. Repeats of an alert inside the dedup window are
// accepted and dropped.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if s.run == nil {
		return ErrStopped
	}

	if s.cfg.DedupWindow > 0 && !s.dedup.allow(a.dedupKey(), s.cfg.DedupWindow, s.cfg.DedupMaxEntries) {
		s.log.Debug("alert deduplicated", logx.String("key", a.dedupKey()))
		return nil
	}
	select {
	case s.run.queue <- a:
		return nil
	default:
		s.log.Warn("alert dropped", logx.String("key", a.dedupKey()), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

func (s *Service) watch(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a, ok := FromEvent(e)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, a); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Debug("alert not queued", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if n := len(s.history) - historySize; n > 0 {
		s.history = s.history[n:]
	}
}
