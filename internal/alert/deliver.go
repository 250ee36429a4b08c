package alert

import (
	"context"
	"math/rand/v2"
	"time"

	"reminderd/internal/transport"
	"reminderd/pkg/logx"
)

const sendTimeout = 10 * time.Second

// work sends queued alerts until the queue is closed and empty or ctx ends.
func (s *Service) work(ctx context.Context, queue <-chan Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-queue:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

// deliver sends one alert, retrying up to RetryMax times with backoff.
func (s *Service) deliver(ctx context.Context, a Alert) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	text := a.Severity.prefix() + a.Text
	opts := &transport.SendOptions{DisablePreview: true}
	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay(cfg, attempt)):
			}
		}
		if lim.Wait(ctx) != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = s.sender.SendText(sctx, cfg.Target, text, opts)
		cancel()
		if err == nil {
			s.remember(text)
			return
		}
		s.log.Debug("alert send failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.log.Warn("alert undeliverable", logx.String("key", a.dedupKey()), logx.Err(err))
}

// retryDelay is the wait before retry n (n >= 1): RetryBase doubled per
// prior retry, jittered by ±30% and capped at RetryMaxDelay.
func retryDelay(cfg Config, n int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < n && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, time.Millisecond), cfg.RetryMaxDelay)
}
