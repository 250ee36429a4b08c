package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"reminderd/internal/reminder"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	whenLayout = "January 02, 2006 at 03:04 PM"
	dateLayout = "January 02, 2006"
)

type variant string

const (
	variantConductor variant = "conductor"
	variantAttendee  variant = "attendee"
	variantFeedback  variant = "feedback"
	variantTest      variant = "test"
)

func variantFor(role reminder.Role, typ reminder.NotificationType) (variant, error) {
	switch typ {
	case reminder.BeforeStart:
		if role == reminder.Conductor {
			return variantConductor, nil
		}
		return variantAttendee, nil
	case reminder.AfterEndFeedback:
		return variantFeedback, nil
	default:
		return "", fmt.Errorf("%w: %q", reminder.ErrUnknownNotificationType, string(typ))
	}
}

// Message is a rendered mail before MIME encoding.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type view struct {
	Name          string
	Title         string
	When          string
	Date          string
	Minutes       int
	Duration      int
	Tags          string
	MeetingLink   string
	ResourcesLink string
	FeedbackURL   string
	Sender        string
}

// Renderer turns a recipient and session into a Message.
type Renderer struct {
	text        *texttemplate.Template
	html        *htmltemplate.Template
	loc         *time.Location
	sender      string
	feedbackURL string
}

// NewRenderer parses the embedded templates. feedbackURL may contain a
// {sessionId} placeholder.
func NewRenderer(sender, feedbackURL string, loc *time.Location) (*Renderer, error) {
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{
		text:        text,
		html:        html,
		loc:         loc,
		sender:      sender,
		feedbackURL: strings.TrimSpace(feedbackURL),
	}, nil
}

// Render builds the mail for one recipient. now fixes the minutes-until-start
// figure.
func (r *Renderer) Render(rcpt reminder.Recipient, s reminder.Session, typ reminder.NotificationType, now time.Time) (Message, error) {
	v, err := variantFor(rcpt.Role, typ)
	if err != nil {
		return Message{}, err
	}

	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "Session " + s.ID
	}
	duration := s.Minutes()
	minutes := 0
	if d := s.Start.Sub(now); d > 0 {
		minutes = int(d / time.Minute)
	}
	feedback := ""
	if r.feedbackURL != "" {
		feedback = strings.ReplaceAll(r.feedbackURL, "{sessionId}", url.PathEscape(s.ID))
	}

	data := view{
		Name:          rcpt.ID,
		Title:         title,
		When:          s.Start.In(r.loc).Format(whenLayout),
		Date:          s.Start.In(r.loc).Format(dateLayout),
		Minutes:       minutes,
		Duration:      duration,
		Tags:          strings.Join(s.Tags, ", "),
		MeetingLink:   strings.TrimSpace(s.MeetingLink),
		ResourcesLink: strings.TrimSpace(s.ResourcesLink),
		FeedbackURL:   feedback,
		Sender:        r.sender,
	}

	msg, err := r.execute(v, data)
	if err != nil {
		return Message{}, err
	}
	msg.To = rcpt.Email
	switch v {
	case variantConductor:
		msg.Subject = fmt.Sprintf("Conductor Reminder: %s - Starting in %d minutes", title, minutes)
	case variantAttendee:
		msg.Subject = fmt.Sprintf("Session Reminder: %s - Starting in %d minutes", title, minutes)
	case variantFeedback:
		msg.Subject = fmt.Sprintf("Feedback Request: %s - Your input matters!", title)
	}
	return msg, nil
}

// RenderTest builds the configuration test mail.
func (r *Renderer) RenderTest(to string) (Message, error) {
	msg, err := r.execute(variantTest, view{Sender: r.sender})
	if err != nil {
		return Message{}, err
	}
	msg.To = to
	msg.Subject = "Test Email - " + r.sender
	return msg, nil
}

func (r *Renderer) execute(v variant, data view) (Message, error) {
	var text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&text, string(v)+".txt.tmpl", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", v, err)
	}
	if err := r.html.ExecuteTemplate(&html, string(v)+".html.tmpl", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", v, err)
	}
	return Message{Text: text.String(), HTML: html.String()}, nil
}
