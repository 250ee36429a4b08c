package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderd/pkg/logx"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s := New(time.UTC, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func jobInfo(t *testing.T, s *Service, name string) JobInfo {
	t.Helper()
	for _, j := range s.Snapshot() {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("job %q not found", name)
	return JobInfo{}
}

func TestRunNowRecordsOutcome(t *testing.T) {
	t.Parallel()

	s := newService(t)
	var calls atomic.Int32
	require.NoError(t, s.Add("tick", "5m", time.Second, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return errors.New("upstream down")
		}
		return nil
	}))

	require.True(t, s.RunNow("tick"))
	require.Eventually(t, func() bool {
		info := jobInfo(t, s, "tick")
		return info.Runs == 1 && !info.Running
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, s.RunNow("tick"))
	require.Eventually(t, func() bool { return jobInfo(t, s, "tick").Runs == 2 }, 2*time.Second, 5*time.Millisecond)

	info := jobInfo(t, s, "tick")
	assert.Equal(t, 1, info.Failures)
	assert.Equal(t, "upstream down", info.LastErr)
	assert.Equal(t, "@every 5m0s", info.Spec)
	assert.False(t, info.Next.IsZero())

	assert.False(t, s.RunNow("missing"))
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()

	s := newService(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, s.Add("slow", "1h", 0, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	require.True(t, s.RunNow("slow"))
	<-started
	require.True(t, s.RunNow("slow"))
	require.Eventually(t, func() bool { return jobInfo(t, s, "slow").Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, jobInfo(t, s, "slow").Running)

	close(release)
	require.Eventually(t, func() bool { return jobInfo(t, s, "slow").Runs == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	s := newService(t)
	require.NoError(t, s.Add("bad", "1h", 0, func(ctx context.Context) error { panic("boom") }))
	require.True(t, s.RunNow("bad"))
	require.Eventually(t, func() bool { return jobInfo(t, s, "bad").Failures == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "panic: boom", jobInfo(t, s, "bad").LastErr)
	require.Eventually(t, func() bool { return !jobInfo(t, s, "bad").Running }, 2*time.Second, 5*time.Millisecond)
}

func TestTimeoutBoundsJobContext(t *testing.T) {
	t.Parallel()

	s := newService(t)
	require.NoError(t, s.Add("bounded", "1h", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.True(t, s.RunNow("bounded"))
	require.Eventually(t, func() bool { return jobInfo(t, s, "bounded").Failures == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, context.DeadlineExceeded.Error(), jobInfo(t, s, "bounded").LastErr)
}

func TestAddReplacesAndKeepsStats(t *testing.T) {
	t.Parallel()

	s := newService(t)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add("sweep", "1h", 0, noop))
	require.True(t, s.RunNow("sweep"))
	require.Eventually(t, func() bool { return jobInfo(t, s, "sweep").Runs == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Add("sweep", "*/10 * * * *", 0, noop))
	jobs := s.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "*/10 * * * *", jobs[0].Spec)
	assert.Equal(t, 1, jobs[0].Runs)

	assert.Error(t, s.Add("sweep", "whenever", 0, noop))
	assert.Error(t, s.Add("", "1h", 0, noop))
	assert.Error(t, s.Add("x", "1h", 0, nil))
}

func TestIntervalScheduleFires(t *testing.T) {
	t.Parallel()

	s := newService(t)
	fired := make(chan struct{}, 4)
	require.NoError(t, s.Add("fast", "1s", 0, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("interval job did not fire")
	}
}

func TestSetLocationRestartsCron(t *testing.T) {
	t.Parallel()

	s := newService(t)
	require.NoError(t, s.Add("daily", "0 9 * * *", 0, func(context.Context) error { return nil }))
	before := jobInfo(t, s, "daily").Next

	jakarta := time.FixedZone("WIB", 7*3600)
	s.SetLocation(jakarta)
	assert.Equal(t, "WIB", s.Location().String())

	after := jobInfo(t, s, "daily").Next
	require.False(t, after.IsZero())
	assert.Equal(t, 9, after.In(jakarta).Hour())
	assert.NotEqual(t, before.UTC(), after.UTC())
}

func TestRunsAfterStopAreRefused(t *testing.T) {
	t.Parallel()

	s := New(time.UTC, logx.Nop())
	s.Start(context.Background())
	var calls atomic.Int32
	require.NoError(t, s.Add("tick", "1h", 0, func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s.RunNow("tick")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	settled := calls.Load()
	wg.Wait()

	assert.False(t, s.RunNow("tick"))
	// A cron fire racing shutdown.
	s.defs["tick"].wrapped.Run()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}
