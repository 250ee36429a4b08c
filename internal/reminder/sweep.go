package reminder

import (
	"context"
	"sync/atomic"
	"time"

	"reminderd/internal/eventbus"
	logx "reminderd/pkg/logx"
)

const DefaultRetention = 7 * 24 * time.Hour

// Sweeper evicts sent records older than the retention horizon. Records
// that never succeeded are kept.
type Sweeper struct {
	ledger  Ledger
	horizon atomic.Int64
	log     logx.Logger
	bus     eventbus.Bus
	obs     Observer
}

func NewSweeper(l Ledger, horizon time.Duration, log logx.Logger, bus eventbus.Bus, obs Observer) *Sweeper {
	s := &Sweeper{ledger: l, log: log.With(logx.String("comp", "sweeper")), bus: bus, obs: obs}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	s.SetHorizon(horizon)
	return s
}

func (s *Sweeper) SetHorizon(d time.Duration) {
	if d <= 0 {
		d = DefaultRetention
	}
	s.horizon.Store(int64(d))
}

func (s *Sweeper) Horizon() time.Duration { return time.Duration(s.horizon.Load()) }

// Sweep removes sent records whose SentAt is before now minus the horizon.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.Horizon())
	n, err := s.ledger.Sweep(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep failed", logx.Err(err))
		return n, err
	}
	s.obs.Swept(n)
	if n > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRecordsSwept, Data: map[string]any{"evicted": n, "cutoff": cutoff}})
		s.log.Info("ledger swept", logx.Int("evicted", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}
