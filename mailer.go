package identity

import (
	"bytes"
	"io/fs"
	"net/http"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"
)

// MailerConfig holds SMTP delivery options
type MailerConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUser() string
	GetSMTPPass() string
	GetEmailFrom() string
	GetAppURL() string
}

// SMTPMailer renders the account email bodies and delivers them over SMTP
type SMTPMailer struct {
	dialer *gomail.Dialer
	engine *django.Engine
	from   string
	appURL string
	logger Logger
}

// NewSMTPMailer returns a mailer backed by the embedded email templates
func NewSMTPMailer(cfg MailerConfig) (*SMTPMailer, error) {
	templates, err := fs.Sub(templatesFS, "data/templates")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mount email templates")
	}

	engine := django.NewFileSystem(http.FS(templates), ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email templates")
	}

	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUser(), cfg.GetSMTPPass()),
		engine: engine,
		from:   cfg.GetEmailFrom(),
		appURL: cfg.GetAppURL(),
		logger: defLogger{},
	}, nil
}

func (m *SMTPMailer) WithLogger(logger Logger) *SMTPMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

var _ Mailer = (*SMTPMailer)(nil)

// SendVerificationEmail delivers the one time code
func (m *SMTPMailer) SendVerificationEmail(to, name, code string) error {
	return m.send(to, "Verify your email", "emails/verification", map[string]any{
		"name": displayName(name),
		"code": code,
	})
}

// SendPasswordResetEmail delivers the reset link carrying the raw token
func (m *SMTPMailer) SendPasswordResetEmail(to, name, token string) error {
	return m.send(to, "Reset your password", "emails/password_reset", map[string]any{
		"name": displayName(name),
		"link": m.appURL + "/reset-password?token=" + token,
	})
}

// SendLoginAlertEmail flags a login from an unseen device
func (m *SMTPMailer) SendLoginAlertEmail(to, name, device string) error {
	return m.send(to, "New login detected", "emails/login_alert", map[string]any{
		"name":   displayName(name),
		"device": device,
	})
}

// SendProfileUpdateEmail confirms an account change
func (m *SMTPMailer) SendProfileUpdateEmail(to, name string) error {
	return m.send(to, "Profile updated", "emails/profile_update", map[string]any{
		"name": displayName(name),
	})
}

func (m *SMTPMailer) send(to, subject, template string, binding map[string]any) error {
	var body bytes.Buffer
	if err := m.engine.Render(&body, template, binding); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email template").
			WithMetadata(map[string]any{"template": template})
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error("could not send email", "to", to, "subject", subject, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver email")
	}

	return nil
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
