package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestTriggerCallsAdminAPI(t *testing.T) {
	var gotPath, gotType, gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		gotType = r.URL.Query().Get("reminderType")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	out, _, err := run(t, "trigger", "s 1", "--type", "AFTER_END_FEEDBACK", "--addr", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/reminders/trigger/s%201", gotPath)
	assert.Equal(t, "AFTER_END_FEEDBACK", gotType)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "{\n  \"message\": \"ok\"\n}\n", out)
}

func TestAdminErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Session not found in relevant session list: 9"}`))
	}))
	defer srv.Close()

	out, errOut, err := run(t, "trigger", "9", "--addr", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Session not found")
}

func TestStatsAndTestEmail(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, _, err := run(t, "stats", "--addr", srv.URL)
	require.NoError(t, err)
	_, _, err = run(t, "test-email", "ops@example.com", "--addr", srv.URL)
	require.NoError(t, err)
	_, _, err = run(t, "check-now", "--addr", srv.URL)
	require.NoError(t, err)
	_, _, err = run(t, "audit", "-n", "5", "--addr", srv.URL)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/reminders/stats?",
		"POST /api/reminders/test-email?email=ops%40example.com",
		"POST /api/reminders/check-now?",
		"GET /api/reminders/audit?limit=5",
	}, paths)
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
logging:
  level: info
directory:
  base_url: http://gateway.local
mail:
  host: smtp.local
  from_email: noreply@example.com
`), 0o644))

	out, _, err := run(t, "check-config", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "good.yaml: ok")
	assert.Contains(t, out, "pre_start: [10, 30] min")
	assert.Contains(t, out, "storage:   memory")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"logging":{"level":"loud"},"directory":{},"mail":{}}`), 0o644))
	_, _, err = run(t, "check-config", "--config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "directory.base_url")
}
