package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerDispatchesDueSession(t *testing.T) {
	t.Parallel()

	h := newHarness(func(h *harness) {
		h.sessions.before = []Session{{ID: "42", CreatorID: "U1", Start: t0.Add(18 * time.Minute), DurationMinutes: 45}}
		h.regs.bySession["42"] = []string{"U2"}
	})
	ctx := context.Background()

	res, err := h.driver.Trigger(ctx, "42", BeforeStart)
	require.NoError(t, err)
	assert.Equal(t, "Manual reminder triggered successfully for session 42", res.Message)
	assert.Equal(t, 2, res.Report.Sent)

	// The tick sees the keys as already sent.
	rep := h.driver.Tick(ctx)
	assert.Equal(t, 0, rep.Attempts())
	assert.Len(t, h.deliverer.Calls(), 2)

	// A second trigger is accepted but sends nothing new.
	res, err = h.driver.Trigger(ctx, "42", BeforeStart)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Report.Sent)
	assert.Equal(t, 2, res.Report.Skipped)

	require.Len(t, h.auditor.entries, 2)
	assert.Equal(t, "trigger", h.auditor.entries[0].Action)
	assert.Equal(t, "42", h.auditor.entries[0].SessionID)
	assert.Equal(t, string(BeforeStart), h.auditor.entries[0].Type)
}

func TestTriggerRejectsSessionOutsideWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(func(h *harness) {
		h.sessions.before = []Session{{ID: "7", CreatorID: "U1", Start: t0.Add(2 * time.Hour), DurationMinutes: 30}}
		h.sessions.after = []Session{{ID: "8", CreatorID: "U1", Start: t0.Add(-40 * time.Minute), DurationMinutes: 30}}
	})
	ctx := context.Background()

	cases := []struct {
		id  string
		typ NotificationType
	}{
		{"7", BeforeStart},       // listed but not in window
		{"8", BeforeStart},       // due, but for the other type
		{"missing", BeforeStart}, // not listed at all
	}
	for _, tc := range cases {
		res, err := h.driver.Trigger(ctx, tc.id, tc.typ)
		require.ErrorIs(t, err, ErrSessionNotDue)
		assert.Equal(t, "Session not found in relevant session list: "+tc.id, res.Message)
	}
	assert.Empty(t, h.deliverer.Calls())

	res, err := h.driver.Trigger(ctx, "8", AfterEndFeedback)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Report.Sent, "creator alone gets no feedback request")
}

func TestTriggerUnknownType(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	_, err := h.driver.Trigger(context.Background(), "1", NotificationType("BEFORE_15_MIN"))
	require.ErrorIs(t, err, ErrUnknownNotificationType)
}
