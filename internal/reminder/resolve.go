package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	logx "reminderd/pkg/logx"
)

// NormalizeIdentity trims s and folds it to Unicode NFC so visually equal
// usernames compare equal.
func NormalizeIdentity(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ValidEmail requires an "@" with a non-empty local part and a domain that
// contains a ".".
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1 && !strings.ContainsAny(s, " \t\r\n")
}

// Resolver expands a session into addressed recipients.
type Resolver struct {
	Emails  EmailResolver
	Timeout time.Duration // per lookup; zero means none
	Log     logx.Logger
}

// Resolve returns the recipients of typ for s: the conductor first (only
// for BeforeStart), then registered attendees in input order. Duplicates
// collapse. Recipients without a valid email are dropped.
func (r Resolver) Resolve(ctx context.Context, s Session, typ NotificationType, registered []string) []Recipient {
	creator := NormalizeIdentity(s.CreatorID)

	type candidate struct {
		id   string
		role Role
	}
	seen := make(map[string]struct{}, len(registered)+1)
	cands := make([]candidate, 0, len(registered)+1)
	if creator != "" {
		// Marked seen even for feedback so a registered creator is excluded.
		seen[creator] = struct{}{}
		if typ == BeforeStart {
			cands = append(cands, candidate{id: creator, role: Conductor})
		}
	}
	for _, raw := range registered {
		id := NormalizeIdentity(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cands = append(cands, candidate{id: id, role: Attendee})
	}

	out := make([]Recipient, 0, len(cands))
	for _, c := range cands {
		email, err := r.lookup(ctx, c.id)
		if err != nil {
			r.Log.Debug("recipient dropped",
				logx.String("session_id", s.ID),
				logx.String("recipient_id", c.id),
				logx.String("type", typ.String()),
				logx.Err(err),
			)
			continue
		}
		out = append(out, Recipient{ID: c.id, Role: c.role, Email: email})
	}
	return out
}

func (r Resolver) lookup(ctx context.Context, id string) (string, error) {
	if r.Emails == nil {
		return "", ErrInvalidRecipient
	}
	type found struct {
		email string
		ok    bool
	}
	res, err := bounded(ctx, r.Timeout, func(ctx context.Context) (found, error) {
		email, ok, err := r.Emails.ResolveEmail(ctx, id)
		return found{email: email, ok: ok}, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
	}
	email := strings.TrimSpace(res.email)
	if !res.ok || !ValidEmail(email) {
		return "", ErrInvalidRecipient
	}
	return email, nil
}
