package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"reminderd/internal/reminder"
	"reminderd/pkg/logx"
)

// LocalDateTime is the wire layout of search bounds and session starts.
const LocalDateTime = "2006-01-02T15:04:05"

const (
	defaultTimeout   = 30 * time.Second
	defaultLookahead = 35 * time.Minute
	defaultLookback  = 2 * time.Hour

	maxBodyBytes = 4 << 20
)

type Config struct {
	BaseURL          string
	SearchPath       string
	RegistrationPath string // contains {sessionId}
	EmailPath        string // contains {username}
	Token            string
	Timeout          time.Duration

	// Lookahead bounds the before-start search; Lookback bounds the
	// after-end search.
	Lookahead time.Duration
	Lookback  time.Duration

	// Location interprets zone-less date-times in both directions.
	Location *time.Location
	Now      func() time.Time
}

// Client is the HTTP session directory. It implements reminder.SessionSource,
// reminder.RegistrationSource and reminder.EmailResolver.
type Client struct {
	base  *url.URL
	cfg   Config
	hc    *http.Client
	log   logx.Logger
	ahead atomic.Int64
	back  atomic.Int64
}

var (
	_ reminder.SessionSource      = (*Client)(nil)
	_ reminder.RegistrationSource = (*Client)(nil)
	_ reminder.EmailResolver      = (*Client)(nil)
)

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("directory: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("directory: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("directory: base url must be http(s), got %q", raw)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Client{
		base: base,
		cfg:  cfg,
		hc:   newHTTPClient(cfg.Timeout),
		log:  log.With(logx.String("comp", "directory")),
	}
	c.SetWindows(cfg.Lookahead, cfg.Lookback)
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	dialTimeout := 10 * time.Second
	if capTo := timeout / 2; capTo < dialTimeout {
		dialTimeout = max(capTo, 2*time.Second)
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// SetWindows updates the search windows. Non-positive values reset to the
// defaults.
func (c *Client) SetWindows(lookahead, lookback time.Duration) {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	c.ahead.Store(int64(lookahead))
	c.back.Store(int64(lookback))
}

func (c *Client) Windows() (lookahead, lookback time.Duration) {
	return time.Duration(c.ahead.Load()), time.Duration(c.back.Load())
}

func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}

func (c *Client) FetchDueBeforeSessions(ctx context.Context) ([]reminder.Session, error) {
	now := c.cfg.Now().In(c.cfg.Location)
	ahead, _ := c.Windows()
	return c.search(ctx, "due_before", now, now.Add(ahead))
}

func (c *Client) FetchDueAfterSessions(ctx context.Context) ([]reminder.Session, error) {
	now := c.cfg.Now().In(c.cfg.Location)
	_, back := c.Windows()
	return c.search(ctx, "due_after", now.Add(-back), now)
}

type searchCriteria struct {
	StartAfter  string `json:"startAfter"`
	StartBefore string `json:"startBefore"`
}

func (c *Client) search(ctx context.Context, label string, from, to time.Time) ([]reminder.Session, error) {
	body, err := json.Marshal(searchCriteria{
		StartAfter:  from.Format(LocalDateTime),
		StartBefore: to.Format(LocalDateTime),
	})
	if err != nil {
		return nil, err
	}

	raw, status, err := c.do(ctx, http.MethodPost, c.cfg.SearchPath, bytes.NewReader(body))
	if err != nil {
		return nil, upstream("session search", err)
	}
	if status/100 != 2 {
		return nil, upstream("session search", statusError(status, raw))
	}

	dtos, err := decodeEnvelope[[]sessionDTO](raw)
	if err != nil {
		return nil, upstream("session search", err)
	}

	out := make([]reminder.Session, 0, len(dtos))
	for _, d := range dtos {
		s, err := d.session(c.cfg.Location)
		if err != nil {
			c.log.Warn("skipping malformed session", logx.String("window", label), logx.Err(err))
			continue
		}
		out = append(out, s)
	}
	c.log.Debug("session search done",
		logx.String("window", label),
		logx.String("from", from.Format(LocalDateTime)),
		logx.String("to", to.Format(LocalDateTime)),
		logx.Int("sessions", len(out)),
	)
	return out, nil
}

type rarfDTO struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

func (c *Client) FetchRegisteredRecipientIDs(ctx context.Context, sessionID string) ([]string, error) {
	path := strings.ReplaceAll(c.cfg.RegistrationPath, "{sessionId}", url.PathEscape(sessionID))
	raw, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, upstream("registrations", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status/100 != 2 {
		return nil, upstream("registrations", statusError(status, raw))
	}

	rows, err := decodeEnvelope[[]rarfDTO](raw)
	if err != nil {
		return nil, upstream("registrations", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.UserID) != "" {
			ids = append(ids, r.UserID)
		}
	}
	return ids, nil
}

// ResolveEmail returns ok=false on 404 or when the body is not an address.
func (c *Client) ResolveEmail(ctx context.Context, identity string) (string, bool, error) {
	if strings.TrimSpace(identity) == "" {
		return "", false, nil
	}
	path := strings.ReplaceAll(c.cfg.EmailPath, "{username}", url.PathEscape(identity))
	raw, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", false, upstream("email lookup", err)
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return "", false, nil
	}
	if status/100 != 2 {
		return "", false, upstream("email lookup", statusError(status, raw))
	}

	email := strings.TrimSpace(string(raw))
	// Some gateways return the address as a JSON string.
	if strings.HasPrefix(email, `"`) {
		var s string
		if json.Unmarshal([]byte(email), &s) == nil {
			email = strings.TrimSpace(s)
		}
	}
	if !strings.Contains(email, "@") {
		return "", false, nil
	}
	return email, true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	// path arrives escaped; keep Path and RawPath in step so the escaped
	// identity survives URL.String.
	escaped := strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, 0, err
	}
	u := *c.base
	u.Path = c.base.Path + "/" + unescaped
	u.RawPath = c.base.EscapedPath() + "/" + escaped
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json, text/plain")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func upstream(call string, err error) error {
	return fmt.Errorf("%w: %s: %w", reminder.ErrUpstreamUnavailable, call, err)
}

func statusError(status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	if snippet == "" {
		return fmt.Errorf("http %d", status)
	}
	return fmt.Errorf("http %d: %s", status, snippet)
}
