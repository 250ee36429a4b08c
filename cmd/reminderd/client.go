package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultAdminURL = "http://127.0.0.1:8085"
	apiPrefix       = "/api/reminders"
	tokenEnv        = "REMINDERD_ADMIN_TOKEN"
)

// adminFlags are shared by the commands that talk to a running daemon.
type adminFlags struct {
	addr    string
	token   string
	timeout time.Duration
}

func (f *adminFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", defaultAdminURL, "admin API base URL of the running daemon")
	cmd.Flags().StringVar(&f.token, "token", "", "admin bearer token (default $"+tokenEnv+")")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 60*time.Second, "request timeout")
}

// call sends one admin request and pretty-prints the JSON reply.
func (f *adminFlags) call(cmd *cobra.Command, method, path string, query url.Values) error {
	base := strings.TrimRight(strings.TrimSpace(f.addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base + apiPrefix + path)
	if err != nil {
		return fmt.Errorf("invalid --addr: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(cmd.Context(), method, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	token := f.token
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	hc := &http.Client{Timeout: f.timeout}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	out := cmd.OutOrStdout()
	if resp.StatusCode/100 != 2 {
		out = cmd.ErrOrStderr()
	}
	if _, err := out.Write(append(bytes.TrimRight(body, "\n"), '\n')); err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return nil
}

func newStatsCmd() *cobra.Command {
	var f adminFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery ledger statistics of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.call(cmd, http.MethodGet, "/stats", nil)
		},
	}
	f.register(cmd)
	return cmd
}

func newTriggerCmd() *cobra.Command {
	var (
		f   adminFlags
		typ string
	)
	cmd := &cobra.Command{
		Use:   "trigger <sessionId>",
		Short: "Dispatch one due session now",
		Long: `Dispatch reminders for one session outside the regular tick.

The session must currently be due for the given type; the reminder window is
never bypassed and recipients that already got the reminder are skipped.

Examples:
  reminderd trigger 123 --type BEFORE_START
  reminderd trigger 123 --type AFTER_END_FEEDBACK --addr http://10.0.0.5:8085`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/trigger/" + url.PathEscape(args[0])
			return f.call(cmd, http.MethodPost, path, url.Values{"reminderType": {typ}})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&typ, "type", "t", "BEFORE_START", "reminder type: BEFORE_START or AFTER_END_FEEDBACK")
	return cmd
}

func newCheckNowCmd() *cobra.Command {
	var f adminFlags
	cmd := &cobra.Command{
		Use:   "check-now",
		Short: "Start a scheduler tick on a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.call(cmd, http.MethodPost, "/check-now", nil)
		},
	}
	f.register(cmd)
	return cmd
}

func newAuditCmd() *cobra.Command {
	var (
		f     adminFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent manual actions recorded by a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.call(cmd, http.MethodGet, "/audit", url.Values{"limit": {strconv.Itoa(limit)}})
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func newTestEmailCmd() *cobra.Command {
	var f adminFlags
	cmd := &cobra.Command{
		Use:   "test-email <address>",
		Short: "Send a test mail through the daemon's SMTP settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.call(cmd, http.MethodPost, "/test-email", url.Values{"email": {args[0]}})
		},
	}
	f.register(cmd)
	return cmd
}
