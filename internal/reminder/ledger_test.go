package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRetryCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLedger()
	k := Key{SessionID: "S1", RecipientID: "U2", Type: BeforeStart}

	retry, err := l.ShouldRetry(ctx, k)
	require.NoError(t, err)
	assert.True(t, retry, "unknown key is eligible")

	for i := 1; i <= DefaultMaxRetries; i++ {
		require.NoError(t, l.RecordFailure(ctx, k, "u2@example.com", "timeout"))
		c, err := l.TryClaim(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, Claim{State: AlreadyFailed, RetryCount: i}, c)
	}

	retry, err = l.ShouldRetry(ctx, k)
	require.NoError(t, err)
	assert.False(t, retry)

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Exhausted)
}

func TestLedgerSentIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newClock(t0)
	l := NewMemoryLedger(WithClock(c.Now), WithMaxRetries(5))
	k := Key{SessionID: "S1", RecipientID: "U1", Type: AfterEndFeedback}

	require.NoError(t, l.RecordFailure(ctx, k, "u1@example.com", "boom"))
	require.NoError(t, l.RecordSuccess(ctx, k, "u1@example.com"))

	rec, ok, err := l.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.Sent)
	assert.Equal(t, t0, rec.SentAt)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, 1, rec.RetryCount)

	c.Advance(time.Minute)
	require.NoError(t, l.RecordFailure(ctx, k, "u1@example.com", "late failure"))
	rec, _, _ = l.Get(ctx, k)
	assert.True(t, rec.Sent, "failure after success is ignored")
	assert.Equal(t, 1, rec.RetryCount)

	require.NoError(t, l.RecordSuccess(ctx, k, "u1@example.com"))
	rec, _, _ = l.Get(ctx, k)
	assert.Equal(t, t0.Add(time.Minute), rec.SentAt, "repeat success refreshes SentAt")

	claim, err := l.TryClaim(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, AlreadySent, claim.State)

	retry, err := l.ShouldRetry(ctx, k)
	require.NoError(t, err)
	assert.False(t, retry)
}

func TestLedgerStatsByType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.RecordSuccess(ctx, Key{"S1", "U1", BeforeStart}, "a@b.co"))
	require.NoError(t, l.RecordSuccess(ctx, Key{"S1", "U2", BeforeStart}, "c@d.co"))
	require.NoError(t, l.RecordFailure(ctx, Key{"S2", "U2", AfterEndFeedback}, "c@d.co", "x"))

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Succeeded)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, map[NotificationType]int{BeforeStart: 2, AfterEndFeedback: 1}, st.ByType)

	recs := l.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "S1", recs[0].Key.SessionID)
	assert.Equal(t, "S2", recs[2].Key.SessionID)
}

func TestKeyLocksSerialiseSameKeyOnly(t *testing.T) {
	t.Parallel()

	var locks KeyLocks
	a := Key{"S1", "U1", BeforeStart}
	b := Key{"S1", "U2", BeforeStart}

	unlockA := locks.Lock(a)

	// A different key is free while a is held.
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(b)
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}

	// The same key waits.
	var acquired atomic.Bool
	waited := make(chan struct{})
	go func() {
		unlock := locks.Lock(a)
		acquired.Store(true)
		unlock()
		close(waited)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load())

	unlockA()
	unlockA()
	<-waited
	assert.True(t, acquired.Load())
	assert.Equal(t, 0, locks.Len())
}

func TestLedgerConcurrentClaimsSendOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLedger()
	k := Key{"S1", "U1", BeforeStart}

	var sends atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(k)
			defer unlock()
			c, err := l.TryClaim(ctx, k)
			if err != nil || c.State == AlreadySent {
				return
			}
			sends.Add(1)
			_ = l.RecordSuccess(ctx, k, "u1@example.com")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), sends.Load())
}

func TestKeyEncodeIsUnambiguous(t *testing.T) {
	t.Parallel()

	a := Key{SessionID: "a|b", RecipientID: "c", Type: BeforeStart}
	b := Key{SessionID: "a", RecipientID: "b|c", Type: BeforeStart}
	c := Key{SessionID: "1:x", RecipientID: "", Type: AfterEndFeedback}
	require.NotEqual(t, a.Encode(), b.Encode())

	for _, k := range []Key{a, b, c} {
		got, err := DecodeKey(k.Encode())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	for _, bad := range []string{"", "3:abc", "x:a1:b1:c", "1:a1:b12:BEFORE_START!", "1:a1:b4:NOPE"} {
		_, err := DecodeKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseNotificationType(t *testing.T) {
	t.Parallel()

	cases := map[string]NotificationType{
		"BEFORE_START":          BeforeStart,
		"before_30_min":         BeforeStart,
		" AFTER_END_FEEDBACK ":  AfterEndFeedback,
		"AFTER_30_MIN_FEEDBACK": AfterEndFeedback,
	}
	for in, want := range cases {
		got, err := ParseNotificationType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseNotificationType("BEFORE_15_MIN")
	assert.ErrorIs(t, err, ErrUnknownNotificationType)
}
