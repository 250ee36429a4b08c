// Package supervisor runs the daemon's long-lived goroutines under one
// context, turning panics into errors and keeping per-task counters for the
// health endpoint.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logx "reminderd/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logx.Logger

	cancelOnErr bool

	mu       sync.Mutex
	firstErr error
	tasks    map[string]*TaskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log.With(logx.String("comp", "supervisor")) }
}

// WithCancelOnError cancels every task once any task fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), tasks: map[string]*TaskStats{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first task failure, nil if none.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Go runs fn once. Returning context.Canceled is a clean exit; any other
// error or a panic is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func() {
		if err := s.runOnce(name, false, fn); err != nil {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	})
}

func (s *Supervisor) spawn(name string, body func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("task started", logx.String("name", name))
		body()
		s.log.Debug("task stopped", logx.String("name", name))
	}()
}

// runOnce calls fn with panic recovery and bookkeeping. Cancellation is
// reported as nil.
func (s *Supervisor) runOnce(name string, restart bool, fn func(ctx context.Context) error) (err error) {
	s.track(name, func(t *TaskStats) { t.started(restart) })
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.track(name, func(t *TaskStats) { t.Panics++; t.LastPanic = fmt.Sprint(r) })
			err = fmt.Errorf("panic: %v", r)
		}
		s.track(name, func(t *TaskStats) { t.stopped(err) })
	}()

	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels every task and waits for them.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}
