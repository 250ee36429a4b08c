package reminder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(rs []Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID+":"+string(r.Role))
	}
	return out
}

func TestResolveConductorIncludedOnce(t *testing.T) {
	t.Parallel()

	r := Resolver{Emails: fakeEmails{}}
	s := Session{ID: "S1", CreatorID: "U1"}
	got := r.Resolve(context.Background(), s, BeforeStart, []string{"U2", "U1", "U2", " U1 ", "U3"})

	assert.Equal(t, []string{"U1:CONDUCTOR", "U2:ATTENDEE", "U3:ATTENDEE"}, ids(got))
	assert.Equal(t, "U1@example.com", got[0].Email)
}

func TestResolveFeedbackExcludesConductor(t *testing.T) {
	t.Parallel()

	r := Resolver{Emails: fakeEmails{}}
	s := Session{ID: "S1", CreatorID: "U1"}
	got := r.Resolve(context.Background(), s, AfterEndFeedback, []string{"U1", "U2", "U1"})

	assert.Equal(t, []string{"U2:ATTENDEE"}, ids(got))
}

func TestResolveDropsRecipientsWithoutValidEmail(t *testing.T) {
	t.Parallel()

	r := Resolver{Emails: fakeEmails{
		override: map[string]string{"bad": "no-at-sign.example.com", "nodot": "x@localhost"},
		missing:  map[string]bool{"ghost": true},
	}}
	s := Session{ID: "S1", CreatorID: "ghost"}
	got := r.Resolve(context.Background(), s, BeforeStart, []string{"bad", "ok", "nodot", ""})

	assert.Equal(t, []string{"ok:ATTENDEE"}, ids(got))
}

type erroringEmails struct{}

func (erroringEmails) ResolveEmail(context.Context, string) (string, bool, error) {
	return "", false, errors.New("directory down")
}

type panickingEmails struct{}

func (panickingEmails) ResolveEmail(context.Context, string) (string, bool, error) {
	panic("nil map")
}

func TestResolveSurvivesBrokenEmailDirectory(t *testing.T) {
	t.Parallel()

	s := Session{ID: "S1", CreatorID: "U1"}
	for _, er := range []EmailResolver{erroringEmails{}, panickingEmails{}, nil} {
		got := Resolver{Emails: er}.Resolve(context.Background(), s, BeforeStart, []string{"U2"})
		assert.Empty(t, got)
	}
}

func TestResolveNormalisesIdentities(t *testing.T) {
	t.Parallel()

	// "é" precomposed vs "e" + combining acute.
	composed := "ren\u00e9"
	decomposed := "rene\u0301"
	require.NotEqual(t, composed, decomposed)

	r := Resolver{Emails: fakeEmails{}}
	s := Session{ID: "S1", CreatorID: composed}
	got := r.Resolve(context.Background(), s, AfterEndFeedback, []string{decomposed, "anna"})

	assert.Equal(t, []string{"anna:ATTENDEE"}, ids(got))
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"a@b.co":            true,
		"first.last@x.org":  true,
		"a@b":               false,
		"@b.com":            false,
		"a@.com":            false,
		"a@b.":              false,
		"plain":             false,
		"":                  false,
		"a b@c.com":         false,
		"  trimmed@ok.io  ": true,
	}
	for in, want := range cases {
		if got := ValidEmail(in); got != want {
			t.Fatalf("ValidEmail(%q)=%v want %v", in, got, want)
		}
	}
}
