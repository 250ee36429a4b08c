package mailer

import (
	"context"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

// fakeSMTP speaks just enough SMTP for one plain-text session: no TLS, no AUTH.
type fakeSMTP struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	data     string
	offerTLS bool
}

func startFakeSMTP(t *testing.T, offerTLS bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, offerTLS: offerTLS}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) port() int { return f.ln.Addr().(*net.TCPAddr).Port }

func (f *fakeSMTP) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.Fields(line + " x")[0])
		f.mu.Lock()
		f.commands = append(f.commands, verb)
		f.mu.Unlock()

		switch verb {
		case "EHLO":
			if f.offerTLS {
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 STARTTLS")
			} else {
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			}
		case "STARTTLS":
			_ = tp.PrintfLine("454 TLS not available")
		case "MAIL", "RCPT", "NOOP", "RSET":
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.data = string(body)
			f.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (f *fakeSMTP) snapshot() ([]string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...), f.data
}

func testMessage(t *testing.T) *gomail.Msg {
	t.Helper()
	msg, err := buildMessage(mail.Address{Address: "from@example.com"}, Message{
		To:      "to@example.com",
		Subject: "hi",
		Text:    "hello",
		HTML:    "<p>hello</p>",
	}, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), "msg-1")
	require.NoError(t, err)
	return msg
}

// inOrder reports whether want appears in got as a subsequence.
func inOrder(got, want []string) bool {
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestSMTPSendPlain(t *testing.T) {
	t.Parallel()

	srv := startFakeSMTP(t, false)
	tr := &SMTP{Host: "127.0.0.1", Port: srv.port(), Mode: TLSAuto, Timeout: 5 * time.Second}

	require.NoError(t, tr.Send(context.Background(), testMessage(t)))

	require.Eventually(t, func() bool {
		cmds, _ := srv.snapshot()
		return len(cmds) > 0 && cmds[len(cmds)-1] == "QUIT"
	}, 2*time.Second, 10*time.Millisecond)

	cmds, data := srv.snapshot()
	assert.Equal(t, "EHLO", cmds[0])
	assert.True(t, inOrder(cmds, []string{"MAIL", "RCPT", "DATA", "QUIT"}), "commands: %v", cmds)
	assert.NotContains(t, cmds, "STARTTLS")
	assert.Contains(t, data, "Subject: hi\n")
	assert.Contains(t, data, "Message-ID: <msg-1@example.com>")
	assert.Contains(t, data, "multipart/alternative")
	assert.Contains(t, data, "<p>hello</p>")
}

func TestSMTPAlwaysRequiresStartTLS(t *testing.T) {
	t.Parallel()

	srv := startFakeSMTP(t, false)
	tr := &SMTP{Host: "127.0.0.1", Port: srv.port(), Mode: TLSAlways, Timeout: 5 * time.Second}

	err := tr.Send(context.Background(), testMessage(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")

	cmds, _ := srv.snapshot()
	assert.NotContains(t, cmds, "MAIL")
}

func TestSMTPNeverSkipsStartTLS(t *testing.T) {
	t.Parallel()

	srv := startFakeSMTP(t, true)
	tr := &SMTP{Host: "127.0.0.1", Port: srv.port(), Mode: TLSNever, Timeout: 5 * time.Second}

	require.NoError(t, tr.Send(context.Background(), testMessage(t)))
	cmds, _ := srv.snapshot()
	assert.NotContains(t, cmds, "STARTTLS")
	assert.Contains(t, cmds, "DATA")
}

func TestSMTPStartTLSFailureIsReported(t *testing.T) {
	t.Parallel()

	srv := startFakeSMTP(t, true)
	tr := &SMTP{Host: "127.0.0.1", Port: srv.port(), Mode: TLSAuto, Timeout: 5 * time.Second}

	err := tr.Send(context.Background(), testMessage(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "454")

	cmds, _ := srv.snapshot()
	assert.Contains(t, cmds, "STARTTLS")
	assert.NotContains(t, cmds, "MAIL")
}

func TestSMTPDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tr := &SMTP{Host: "127.0.0.1", Port: port, Timeout: time.Second}
	err = tr.Send(context.Background(), testMessage(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp dial 127.0.0.1:"+strconv.Itoa(port))
}

func TestParseTLSMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]TLSMode{"": TLSAuto, "AUTO": TLSAuto, " always ": TLSAlways, "never": TLSNever} {
		got, err := ParseTLSMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTLSMode("opportunistic")
	assert.Error(t, err)
}
