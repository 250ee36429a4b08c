package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reminderd/internal/reminder"
	logx "reminderd/pkg/logx"
)

const (
	apiPrefix   = "/api/reminders"
	serviceName = "reminderd"
)

// Engine is the part of the reminder driver the admin surface drives.
type Engine interface {
	Trigger(ctx context.Context, sessionID string, typ reminder.NotificationType) (reminder.TriggerResult, error)
	LastTick() (reminder.TickReport, bool)
	Audit(ctx context.Context, action, result string)
}

type StatsSource interface {
	Stats(ctx context.Context) (reminder.Stats, error)
}

type TestMailer interface {
	SendTest(ctx context.Context, to string) error
}

// AuditLog lists recent operator actions, e.g. storage.Store.
type AuditLog interface {
	RecentAudit(limit int) ([]reminder.AuditEntry, error)
}

// Recorder counts manual actions, e.g. metrics.Metrics.
type Recorder interface {
	Manual(action string, ok bool)
}

// Deps wires the admin routes to the running engine. Nil members disable
// the routes that need them.
type Deps struct {
	Engine  Engine
	Stats   StatsSource
	Mailer  TestMailer
	Metrics http.Handler
	Record  Recorder
	Audit   AuditLog

	// CheckNow starts a tick in the background. It reports false when no
	// tick could be started.
	CheckNow func() bool
	// Health adds component status to GET /health.
	Health func() map[string]any
	// Config returns the redacted running configuration.
	Config func() any

	Version string
	Now     func() time.Time
}

func (s *Service) routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET "+apiPrefix+"/health", wrap(s.handleHealth))
	mux.HandleFunc("GET "+apiPrefix+"/stats", wrap(s.handleStats))
	mux.HandleFunc("GET "+apiPrefix+"/config", wrap(s.handleConfig))
	mux.HandleFunc("GET "+apiPrefix+"/help", wrap(s.handleHelp))
	mux.HandleFunc("GET "+apiPrefix+"/audit", wrap(s.handleAudit))
	mux.HandleFunc("POST "+apiPrefix+"/trigger/{sessionId}", wrap(s.handleTrigger))
	mux.HandleFunc("POST "+apiPrefix+"/check-now", wrap(s.handleCheckNow))
	mux.HandleFunc("POST "+apiPrefix+"/test-email", wrap(s.handleTestEmail))
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.base()
	resp["status"] = "UP"
	resp["version"] = s.deps.Version
	if s.deps.Engine != nil {
		if last, ok := s.deps.Engine.LastTick(); ok {
			resp["lastTick"] = last
		}
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			resp[k] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Stats unavailable", "no ledger configured")
		return
	}
	st, err := s.deps.Stats.Stats(r.Context())
	if err != nil {
		s.log.Warn("stats failed", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}
	resp := s.base()
	resp["totalReminders"] = st.Total
	resp["successfulReminders"] = st.Succeeded
	resp["failedReminders"] = st.Failed
	resp["exhaustedReminders"] = st.Exhausted
	byType := map[string]int{}
	for _, typ := range reminder.NotificationTypes {
		byType[typ.String()] = st.ByType[typ]
	}
	resp["byType"] = byType
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	resp := s.base()
	resp["reminderTypes"] = reminderTypes()
	resp["endpoints"] = endpoints()
	if s.deps.Config != nil {
		resp["config"] = s.deps.Config()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHelp(w http.ResponseWriter, r *http.Request) {
	resp := s.base()
	resp["description"] = "Admin API for the session reminder service"
	resp["endpoints"] = endpoints()
	resp["parameters"] = map[string]string{
		"reminderType": reminder.BeforeStart.String() + " | " + reminder.AfterEndFeedback.String(),
		"email":        "Valid email address for test emails",
	}
	resp["examples"] = map[string]string{
		"triggerReminder": "POST " + apiPrefix + "/trigger/123?reminderType=" + reminder.BeforeStart.String(),
		"testEmail":       "POST " + apiPrefix + "/test-email?email=test@example.com",
	}
	writeJSON(w, http.StatusOK, resp)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Audit unavailable", "no audit log configured")
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := s.deps.Audit.RecentAudit(limit)
	if err != nil {
		s.log.Warn("audit read failed", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}
	resp := s.base()
	resp["entries"] = entries
	resp["count"] = len(entries)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Engine unavailable", "reminder engine not running")
		return
	}
	sessionID := strings.TrimSpace(r.PathValue("sessionId"))
	raw := r.URL.Query().Get("reminderType")
	typ, err := reminder.ParseNotificationType(raw)
	if err != nil {
		resp := s.base()
		resp["error"] = "Invalid reminder type"
		resp["message"] = "Valid types: " + reminder.BeforeStart.String() + ", " + reminder.AfterEndFeedback.String()
		resp["provided"] = raw
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	res, err := s.deps.Engine.Trigger(r.Context(), sessionID, typ)
	s.record("trigger", err == nil)

	resp := s.base()
	resp["sessionId"] = sessionID
	resp["reminderType"] = typ.String()
	resp["message"] = res.Message
	switch {
	case err == nil:
		resp["report"] = res.Report
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, reminder.ErrSessionNotDue):
		writeJSON(w, http.StatusNotFound, resp)
	default:
		s.log.Error("manual trigger failed", logx.String("session_id", sessionID), logx.Err(err))
		resp["error"] = "Internal server error"
		resp["message"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Service) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	started := s.deps.CheckNow != nil && s.deps.CheckNow()
	s.record("check_now", started)
	if s.deps.Engine != nil {
		result := "started"
		if !started {
			result = "unavailable"
		}
		s.deps.Engine.Audit(r.Context(), "check_now", result)
	}
	if !started {
		s.writeError(w, http.StatusServiceUnavailable, "Check unavailable", "scheduler tick is not registered")
		return
	}
	resp := s.base()
	resp["message"] = "Manual scheduled check triggered successfully"
	resp["note"] = "A tick runs in the background unless one is already running"
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Service) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if !reminder.ValidEmail(email) {
		s.writeError(w, http.StatusBadRequest, "Invalid email format", "Please provide a valid email address")
		return
	}
	if s.deps.Mailer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Mail unavailable", "mailer not configured")
		return
	}

	err := s.deps.Mailer.SendTest(r.Context(), email)
	s.record("test_email", err == nil)
	if s.deps.Engine != nil {
		result := "sent to " + email
		if err != nil {
			result = "failed: " + err.Error()
		}
		s.deps.Engine.Audit(r.Context(), "test_email", result)
	}

	resp := s.base()
	resp["email"] = email
	if err != nil {
		s.log.Warn("test email failed", logx.String("to", email), logx.Err(err))
		resp["status"] = "failed"
		resp["message"] = "Failed to send test email - check mail configuration"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp["status"] = "success"
	resp["message"] = "Test email sent successfully"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) record(action string, ok bool) {
	if s.deps.Record != nil {
		s.deps.Record.Manual(action, ok)
	}
}

func (s *Service) base() map[string]any {
	return map[string]any{
		"service":   serviceName,
		"timestamp": s.deps.Now().Format(time.RFC3339),
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, title, msg string) {
	resp := s.base()
	resp["error"] = title
	resp["message"] = msg
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func reminderTypes() map[string]string {
	return map[string]string{
		reminder.BeforeStart.String():      "Session is about to start",
		reminder.AfterEndFeedback.String(): "Please provide session feedback",
	}
}

func endpoints() map[string]string {
	m := map[string]string{}
	m["GET "+apiPrefix+"/health"] = "Service health and component status"
	m["GET "+apiPrefix+"/stats"] = "Delivery ledger statistics"
	m["GET "+apiPrefix+"/config"] = "Running configuration (secrets redacted)"
	m["GET "+apiPrefix+"/help"] = "This help"
	m["GET "+apiPrefix+"/audit"] = "Recent manual actions, newest first (?limit=)"
	m["POST "+apiPrefix+"/trigger/{sessionId}"] = "Dispatch one due session now (?reminderType=)"
	m["POST "+apiPrefix+"/test-email"] = "Send a test mail (?email=)"
	m["POST "+apiPrefix+"/check-now"] = "Start a scheduler tick now"
	m["GET /metrics"] = "Prometheus metrics"
	return m
}
