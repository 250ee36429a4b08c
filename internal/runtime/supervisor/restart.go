package supervisor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	logx "reminderd/pkg/logx"
)

// A run that lasted this long resets the backoff.
const stableRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceiling time.Duration
	limit          int
}

func WithRestartBackoff(floor, ceiling time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if floor > 0 {
			p.floor = floor
		}
		if ceiling > 0 {
			p.ceiling = ceiling
		}
	}
}

// WithMaxRestarts gives up after n restarts. Zero means no limit.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// GoRestart runs fn again after each failure, waiting an exponentially
// growing, jittered delay. It stops on a nil or canceled return, when the
// supervisor is canceled, or once the restart limit is exceeded, which
// counts as a failure.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceiling: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.ceiling = max(p.ceiling, p.floor)

	s.spawn(name, func() {
		delay := p.floor
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.runOnce(name, restarts > 0, fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			if p.limit > 0 && restarts >= p.limit {
				s.log.Error("task gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			if time.Since(began) >= stableRun {
				delay = p.floor
			}
			wait := delay + rand.N(delay/5+1)
			s.log.Warn("task restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			delay = min(2*delay, p.ceiling)
		}
	})
}
