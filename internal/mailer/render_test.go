package mailer

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminderd/internal/reminder"
)

var (
	renderNow = time.Date(2026, 3, 10, 12, 10, 0, 0, time.UTC)

	goldenSession = reminder.Session{
		ID:              "s-100",
		CreatorID:       "alice",
		Title:           "Go Concurrency Basics",
		Start:           time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC),
		DurationMinutes: 90,
		Tags:            []string{"go", "concurrency"},
		MeetingLink:     "https://meet.example.com/go-basics",
		ResourcesLink:   "https://docs.example.com/go",
	}
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("Session Reminders", "https://feedback.example.com/sessions/{sessionId}", time.UTC)
	require.NoError(t, err)
	return r
}

func golden(msg Message) []byte {
	return []byte("Subject: " + msg.Subject + "\n\n" + msg.Text + "\n" + msg.HTML)
}

func TestRenderGolden(t *testing.T) {
	r := newTestRenderer(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cases := []struct {
		name string
		rcpt reminder.Recipient
		typ  reminder.NotificationType
	}{
		{"conductor_reminder", reminder.Recipient{ID: "alice", Role: reminder.Conductor, Email: "alice@example.com"}, reminder.BeforeStart},
		{"attendee_reminder", reminder.Recipient{ID: "bob", Role: reminder.Attendee, Email: "bob@example.com"}, reminder.BeforeStart},
		{"feedback_request", reminder.Recipient{ID: "bob", Role: reminder.Attendee, Email: "bob@example.com"}, reminder.AfterEndFeedback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := r.Render(tc.rcpt, goldenSession, tc.typ, renderNow)
			require.NoError(t, err)
			assert.Equal(t, tc.rcpt.Email, msg.To)
			g.Assert(t, tc.name, golden(msg))
		})
	}

	t.Run("test_mail", func(t *testing.T) {
		msg, err := r.RenderTest("ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", msg.To)
		g.Assert(t, "test_mail", golden(msg))
	})
}

func TestRenderWithoutLinks(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("Session Reminders", "", time.UTC)
	require.NoError(t, err)

	s := goldenSession
	s.MeetingLink = ""
	s.ResourcesLink = ""
	s.Tags = nil
	s.DurationMinutes = -5

	msg, err := r.Render(reminder.Recipient{ID: "bob", Role: reminder.Attendee, Email: "bob@example.com"}, s, reminder.BeforeStart, renderNow)
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "Duration:  0 minutes\nMeeting:   the link will be shared closer to the session time\n")
	assert.Contains(t, msg.HTML, "<em>The meeting link will be shared closer to the session time.</em>")
	assert.NotContains(t, msg.HTML, "Tags:")
	assert.NotContains(t, msg.HTML, "Resources:")

	fb, err := r.Render(reminder.Recipient{ID: "bob", Role: reminder.Attendee, Email: "bob@example.com"}, s, reminder.AfterEndFeedback, renderNow)
	require.NoError(t, err)
	assert.Contains(t, fb.Text, "Reply to this email to share your thoughts.")
	assert.NotContains(t, fb.HTML, "Give Feedback")
}

func TestRenderEscapesSessionFields(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	s := goldenSession
	s.Title = `<script>alert("x")</script>`
	s.MeetingLink = "javascript:alert(1)"

	msg, err := r.Render(reminder.Recipient{ID: "bob", Role: reminder.Attendee, Email: "bob@example.com"}, s, reminder.BeforeStart, renderNow)
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
	assert.NotContains(t, msg.HTML, `href="javascript:`)
	// Plain text is not escaped.
	assert.Contains(t, msg.Text, "<script>")
}

func TestRenderMinutesAndTitleFallback(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	s := goldenSession
	s.Title = "  "

	msg, err := r.Render(reminder.Recipient{ID: "alice", Role: reminder.Conductor, Email: "alice@example.com"}, s, reminder.BeforeStart, s.Start.Add(-90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Conductor Reminder: Session s-100 - Starting in 1 minutes", msg.Subject)

	late, err := r.Render(reminder.Recipient{ID: "alice", Role: reminder.Conductor, Email: "alice@example.com"}, s, reminder.BeforeStart, s.Start.Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, late.Subject, "Starting in 0 minutes")
}

func TestRenderUnknownType(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t)
	_, err := r.Render(reminder.Recipient{ID: "bob", Email: "bob@example.com"}, goldenSession, reminder.NotificationType("LUNCH"), renderNow)
	require.ErrorIs(t, err, reminder.ErrUnknownNotificationType)
}

func TestFeedbackTypeIgnoresConductorRole(t *testing.T) {
	t.Parallel()

	v, err := variantFor(reminder.Conductor, reminder.AfterEndFeedback)
	require.NoError(t, err)
	assert.Equal(t, variantFeedback, v)
}
