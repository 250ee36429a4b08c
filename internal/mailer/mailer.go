package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"reminderd/internal/reminder"
	"reminderd/pkg/logx"
)

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	StartTLS    string
	RatePerSec  int
	Timeout     time.Duration
	FeedbackURL string

	// Location formats session times in mail bodies.
	Location *time.Location
}

// Mailer renders reminders and sends them over SMTP. It implements
// reminder.Deliverer.
type Mailer struct {
	from      mail.Address
	renderer  *Renderer
	transport Transport
	limiter   *rate.Limiter
	now       func() time.Time
	log       logx.Logger
}

var _ reminder.Deliverer = (*Mailer)(nil)

type Option func(*Mailer)

// WithTransport replaces the SMTP transport.
func WithTransport(t Transport) Option { return func(m *Mailer) { m.transport = t } }

func WithClock(now func() time.Time) Option { return func(m *Mailer) { m.now = now } }

func New(cfg Config, log logx.Logger, opts ...Option) (*Mailer, error) {
	if !reminder.ValidEmail(cfg.From) {
		return nil, fmt.Errorf("mailer: invalid from address %q", cfg.From)
	}
	mode, err := ParseTLSMode(cfg.StartTLS)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	renderer, err := NewRenderer(cfg.FromName, cfg.FeedbackURL, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	smtpT := &SMTP{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Mode:     mode,
		Timeout:  cfg.Timeout,
	}
	m := &Mailer{
		from:      mail.Address{Name: cfg.FromName, Address: cfg.From},
		renderer:  renderer,
		transport: smtpT,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		now:       time.Now,
		log:       log.With(logx.String("comp", "mailer")),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Mailer) Deliver(ctx context.Context, r reminder.Recipient, s reminder.Session, typ reminder.NotificationType) error {
	msg, err := m.renderer.Render(r, s, typ, m.now())
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		return err
	}
	m.log.Info("reminder mail sent",
		logx.String("session", s.ID),
		logx.String("recipient", r.ID),
		logx.String("role", string(r.Role)),
		logx.String("type", typ.String()),
	)
	return nil
}

// SendTest sends the configuration test mail to one address.
func (m *Mailer) SendTest(ctx context.Context, to string) error {
	to = strings.TrimSpace(to)
	msg, err := m.renderer.RenderTest(to)
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		return err
	}
	m.log.Info("test mail sent", logx.String("to", to))
	return nil
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	if !reminder.ValidEmail(msg.To) {
		return fmt.Errorf("%w: %q", reminder.ErrInvalidRecipient, msg.To)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}
	built, err := buildMessage(m.from, msg, m.now(), uuid.NewString())
	if err != nil {
		return fmt.Errorf("build mail: %w", err)
	}
	if err := m.transport.Send(ctx, built); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}
