package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Transport hands a built message to a mail server.
type Transport interface {
	Send(ctx context.Context, msg *gomail.Msg) error
}

type TLSMode string

const (
	TLSAuto   TLSMode = "auto"
	TLSAlways TLSMode = "always"
	TLSNever  TLSMode = "never"
)

// ParseTLSMode maps the config value; empty means auto.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TLSAuto:
		return TLSAuto, nil
	case TLSAlways:
		return TLSAlways, nil
	case TLSNever:
		return TLSNever, nil
	}
	return "", fmt.Errorf("unknown starttls mode %q", s)
}

func (m TLSMode) policy() gomail.TLSPolicy {
	switch m {
	case TLSAlways:
		return gomail.TLSMandatory
	case TLSNever:
		return gomail.NoTLS
	}
	return gomail.TLSOpportunistic
}

// SMTP sends over one connection per message. Port 465 uses implicit TLS;
// other ports negotiate STARTTLS according to Mode.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	Mode     TLSMode
	Timeout  time.Duration

	// TLSConfig overrides the default client config (tests).
	TLSConfig *tls.Config
}

func (s *SMTP) Send(ctx context.Context, msg *gomail.Msg) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	c, err := gomail.NewClient(s.Host, s.options(ctx)...)
	if err != nil {
		return fmt.Errorf("smtp client %s: %w", addr, err)
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	// Once the server has accepted the message a failed QUIT must not
	// turn into a retry.
	defer func() { _ = c.Close() }()

	if err := c.Send(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTP) options(ctx context.Context) []gomail.Option {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		timeout = max(min(timeout, time.Until(dl)), time.Millisecond)
	}

	tlsCfg := s.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	}
	opts := []gomail.Option{
		gomail.WithTimeout(timeout),
		gomail.WithTLSConfig(tlsCfg),
	}
	if s.Port > 0 {
		opts = append(opts, gomail.WithPort(s.Port))
	}
	if s.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(s.Mode.policy()))
	}
	if s.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.Username),
			gomail.WithPassword(s.Password),
		)
	}
	return opts
}
