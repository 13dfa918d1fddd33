package mail

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/models"

	"github.com/rs/zerolog"
)

type message struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]message{
	models.TemplateBookingConfirmation: {
		subject: template.Must(template.New("subject").Parse(`Your booking for {{.Trip}} is confirmed`)),
		body: template.Must(template.New("body").Parse(`Hello {{.Name}},

we received your payment for {{.Trip}}.
{{- if .JoinCode}}
Share the code {{.JoinCode}} with your group so they can join.
{{- end}}

Your roadbook: {{.Link}}
`)),
	},
	models.TemplateParticipantInvitation: {
		subject: template.Must(template.New("subject").Parse(`You are invited to {{.Trip}}`)),
		body: template.Must(template.New("body").Parse(`Hello {{.Name}},

you have been added to the group for {{.Trip}}.
Open your roadbook and create your account here: {{.Link}}
`)),
	},
	models.TemplateJoinConfirmation: {
		subject: template.Must(template.New("subject").Parse(`Welcome to {{.Trip}}`)),
		body: template.Must(template.New("body").Parse(`Hello {{.Name}},

your place in the group for {{.Trip}} is paid.

Your roadbook: {{.Link}}
`)),
	},
}

type templateData struct {
	Name     string
	Trip     string
	JoinCode string
	Link     string
}

// Render builds the subject and plain-text body of msg.
func Render(msg models.Email) (subject, body string, err error) {
	tpl, ok := templates[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", msg.Template)
	}

	data := templateData{Link: AccessLink(msg.BaseURL, msg.Token)}
	if msg.Booking != nil {
		data.Trip = msg.Booking.TripTitle
		data.JoinCode = msg.Booking.JoinCode
		data.Name = msg.Booking.LeaderDetails.FirstName
	}
	if msg.Participant != nil {
		data.Name = msg.Participant.FirstName
	}

	var sb, bb bytes.Buffer
	if err := tpl.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}

// AccessLink is the public roadbook URL for a token.
func AccessLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/" + token
}

// New returns the mailer selected by cfg.Provider.
func New(cfg config.MailConfig, logger *zerolog.Logger) domain.Mailer {
	if cfg.Provider == "smtp" {
		return NewSMTPMailer(cfg, logger)
	}
	return NewLogMailer(logger)
}

// LogMailer writes messages to the log. Used in development.
type LogMailer struct {
	logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg models.Email) bool {
	subject, body, err := Render(msg)
	if err != nil {
		m.logger.Error().Err(err).Str("to", msg.To).Msg("Failed to render email")
		return false
	}
	m.logger.Info().
		Str("to", msg.To).
		Str("template", msg.Template).
		Str("subject", subject).
		Str("body", body).
		Msg("Email")
	return true
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	addr   string
	from   string
	auth   smtp.Auth
	send   sendFunc
	logger *zerolog.Logger
}

func NewSMTPMailer(cfg config.MailConfig, logger *zerolog.Logger) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		from:   cfg.From,
		auth:   auth,
		send:   smtp.SendMail,
		logger: logger,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg models.Email) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	subject, body, err := Render(msg)
	if err != nil {
		m.logger.Error().Err(err).Str("to", msg.To).Msg("Failed to render email")
		return false
	}

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", m.from)
	fmt.Fprintf(&raw, "To: %s\r\n", msg.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", subject)
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	raw.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, raw.Bytes()); err != nil {
		m.logger.Warn().Err(err).Str("to", msg.To).Str("template", msg.Template).Msg("SMTP delivery failed")
		return false
	}
	return true
}
