package reminder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reminderd/internal/eventbus"
	logx "reminderd/pkg/logx"
)

// TriggerResult is the outcome of a manual trigger.
type TriggerResult struct {
	Message string        `json:"message"`
	Report  SessionReport `json:"report"`
}

// Trigger dispatches one session outside the tick. The session must be in
// the current candidate list for typ and classify into the bucket of typ;
// the window is never bypassed. Deduplication is the same as for a tick.
func (d *Driver) Trigger(ctx context.Context, sessionID string, typ NotificationType) (TriggerResult, error) {
	if !typ.Valid() {
		return TriggerResult{}, fmt.Errorf("%w: %q", ErrUnknownNotificationType, typ)
	}
	sessionID = strings.TrimSpace(sessionID)
	ctx = context.WithoutCancel(ctx)
	st := d.Settings()
	now := d.now()
	tickID := "manual-" + uuid.NewString()
	log := d.log.With(logx.String("tick_id", tickID), logx.String("trigger", "manual"))

	var (
		target Session
		found  bool
		c      Classification
	)
	for _, s := range d.fetchCandidates(ctx, log, st, typ) {
		if s.ID != sessionID {
			continue
		}
		if c = st.Windows.Classify(s, now); c.Bucket == typ.Bucket() {
			target, found = s, true
			break
		}
	}

	var res TriggerResult
	if !found {
		res.Message = "Session not found in relevant session list: " + sessionID
		d.audit(ctx, log, "trigger", sessionID, typ, res.Message)
		log.Info("manual trigger rejected", logx.String("session_id", sessionID), logx.String("type", typ.String()))
		return res, fmt.Errorf("%w: %s", ErrSessionNotDue, sessionID)
	}

	res.Report = d.dispatchSession(ctx, log, st, tickID, job{session: target, typ: typ, minutes: c.Minutes})
	res.Message = "Manual reminder triggered successfully for session " + sessionID
	d.audit(ctx, log, "trigger", sessionID, typ, fmt.Sprintf("sent=%d failed=%d skipped=%d", res.Report.Sent, res.Report.Failed, res.Report.Skipped))
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeManualTriggered, Data: res.Report})
	log.Info("manual trigger dispatched",
		logx.String("session_id", sessionID),
		logx.String("type", typ.String()),
		logx.Int("sent", res.Report.Sent),
		logx.Int("failed", res.Report.Failed),
		logx.Int("skipped", res.Report.Skipped),
	)
	return res, nil
}

// Audit appends an operator action to the audit log, if one is configured.
func (d *Driver) Audit(ctx context.Context, action, result string) {
	d.audit(ctx, d.log, action, "", "", result)
}

func (d *Driver) audit(ctx context.Context, log logx.Logger, action, sessionID string, typ NotificationType, result string) {
	if d.auditor == nil {
		return
	}
	e := AuditEntry{
		ID:        uuid.NewString(),
		At:        d.now(),
		Action:    action,
		SessionID: sessionID,
		Type:      string(typ),
		Result:    result,
	}
	if err := d.auditor.AppendAudit(ctx, e); err != nil {
		log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
